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

// DeliveryLogRepo provides typed DynamoDB operations for the delivery_log
// table. Entries are append-only; the only mutation allowed is patching
// open/click timestamps from the tracking callback.
type DeliveryLogRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewDeliveryLogRepo(client *dynamodb.Client, tableName string) *DeliveryLogRepo {
	return &DeliveryLogRepo{client: client, tableName: tableName}
}

func (r *DeliveryLogRepo) Put(ctx context.Context, e *domain.DeliveryLogEntry) error {
	item, err := marshalMap(e)
	if err != nil {
		return fmt.Errorf("marshal delivery log entry: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

// GetByExternalID resolves a transport message id back to its log entry.
func (r *DeliveryLogRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.DeliveryLogEntry, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("external_message_id-index"),
		KeyConditionExpression: aws.String("external_message_id = :xid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":xid": &types.AttributeValueMemberS{Value: externalID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("delivery log for %s: %w", externalID, domain.ErrNotFound)
	}
	var e domain.DeliveryLogEntry
	if err := attributevalue.UnmarshalMap(out.Items[0], &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// MarkOpened patches the entry with the open timestamp and promotes its
// status to opened (unless it is already clicked, the stronger signal).
func (r *DeliveryLogRepo) MarkOpened(ctx context.Context, logID string, at time.Time) error {
	return r.update(ctx, logID, map[string]interface{}{
		fieldOpenedAt: at,
	})
}

// MarkClicked patches the entry with the click timestamp.
func (r *DeliveryLogRepo) MarkClicked(ctx context.Context, logID string, at time.Time) error {
	return r.update(ctx, logID, map[string]interface{}{
		fieldClickedAt: at,
		fieldStatus:    domain.LogStatusClicked,
	})
}

// SetStatus overwrites the entry status (used by MarkOpened's caller which
// knows whether the click status must be preserved).
func (r *DeliveryLogRepo) SetStatus(ctx context.Context, logID, status string) error {
	return r.update(ctx, logID, map[string]interface{}{
		fieldStatus: status,
	})
}

// ListByUser queries the user_id-sent_at GSI, newest first.
func (r *DeliveryLogRepo) ListByUser(ctx context.Context, userID string, limit int32) ([]domain.DeliveryLogEntry, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("user_id-sent_at-index"),
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
	var entries []domain.DeliveryLogEntry
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListBetween scans entries whose sent_at falls inside [from, to). Volumes
// are modest; the analytics read side tolerates a filtered scan.
func (r *DeliveryLogRepo) ListBetween(ctx context.Context, from, to time.Time) ([]domain.DeliveryLogEntry, error) {
	var entries []domain.DeliveryLogEntry
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(r.tableName),
			FilterExpression: aws.String("sent_at >= :from AND sent_at < :to"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":from": &types.AttributeValueMemberS{Value: from.UTC().Format(timeFormat)},
				":to":   &types.AttributeValueMemberS{Value: to.UTC().Format(timeFormat)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		var page []domain.DeliveryLogEntry
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		entries = append(entries, page...)
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return entries, nil
}

func (r *DeliveryLogRepo) update(ctx context.Context, logID string, updates map[string]interface{}) error {
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("log_id", logID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	return err
}
