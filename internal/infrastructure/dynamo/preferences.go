package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/fintrack-api/internal/domain"
)

// PreferenceRepo provides typed DynamoDB operations for the
// notification_preferences table (one record per user).
type PreferenceRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewPreferenceRepo(client *dynamodb.Client, tableName string) *PreferenceRepo {
	return &PreferenceRepo{client: client, tableName: tableName}
}

func (r *PreferenceRepo) Get(ctx context.Context, userID string) (*domain.PreferenceRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("user_id", userID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("preferences for %s: %w", userID, domain.ErrNotFound)
	}
	var p domain.PreferenceRecord
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PreferenceRepo) Put(ctx context.Context, p *domain.PreferenceRecord) error {
	item, err := marshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}
