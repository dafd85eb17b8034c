package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/fintrack-api/internal/domain"
)

// EventRepo provides typed DynamoDB operations for the notification_events
// table.
type EventRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewEventRepo(client *dynamodb.Client, tableName string) *EventRepo {
	return &EventRepo{client: client, tableName: tableName}
}

func (r *EventRepo) Put(ctx context.Context, e *domain.NotificationEvent) error {
	item, err := marshalMap(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *EventRepo) Get(ctx context.Context, eventID string) (*domain.NotificationEvent, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("event_id", eventID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("event %s: %w", eventID, domain.ErrNotFound)
	}
	var e domain.NotificationEvent
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// MarkProcessed flips the processed flag once the event's message reached a
// terminal state.
func (r *EventRepo) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldProcessed:   1,
		fieldProcessedAt: at,
	})
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("event_id", eventID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	return err
}

// ListByUser queries the user_id-created_at GSI, newest first.
func (r *EventRepo) ListByUser(ctx context.Context, userID string, limit int32) ([]domain.NotificationEvent, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("user_id-created_at-index"),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(limit),
	})
	if err != nil {
		return nil, err
	}
	var events []domain.NotificationEvent
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// DeleteProcessedBefore removes processed events older than the cutoff.
// Returns the number of events deleted.
func (r *EventRepo) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("processed-processed_at-index"),
		KeyConditionExpression: aws.String("#p = :one AND processed_at < :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#p": fieldProcessed,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":    &types.AttributeValueMemberN{Value: "1"},
			":cutoff": &types.AttributeValueMemberS{Value: cutoff.UTC().Format(timeFormat)},
		},
	})
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, item := range out.Items {
		id, ok := item["event_id"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(r.tableName),
			Key:       strKey("event_id", id.Value),
		})
		if err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
