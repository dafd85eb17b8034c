package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/fintrack-api/internal/domain"
)

// ErrNotClaimable is returned by Claim when the message is no longer
// pending, meaning another dispatcher pass already picked it up.
var ErrNotClaimable = errors.New("message not claimable")

// QueueRepo provides typed DynamoDB operations for the notification_queue
// table. All mutation is by primary-key-scoped updates; the only
// contention point is the conditional claim per message.
type QueueRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewQueueRepo(client *dynamodb.Client, tableName string) *QueueRepo {
	return &QueueRepo{client: client, tableName: tableName}
}

func (r *QueueRepo) Put(ctx context.Context, m *domain.QueuedMessage) error {
	item, err := marshalMap(m)
	if err != nil {
		return fmt.Errorf("marshal queued message: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *QueueRepo) Get(ctx context.Context, messageID string) (*domain.QueuedMessage, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("message_id", messageID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("queued message %s: %w", messageID, domain.ErrNotFound)
	}
	var m domain.QueuedMessage
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// FetchDue queries the status-scheduled_for GSI for pending messages whose
// scheduled_for has passed. Ordering by priority weight is done by the
// caller; the index only sorts by eligibility time.
func (r *QueueRepo) FetchDue(ctx context.Context, now time.Time, limit int32) ([]domain.QueuedMessage, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("status-scheduled_for-index"),
		KeyConditionExpression: aws.String("#s = :pending AND scheduled_for <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#s": fieldStatus,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: domain.StatusPending},
			":now":     &types.AttributeValueMemberS{Value: now.UTC().Format(timeFormat)},
		},
		Limit: aws.Int32(limit),
	})
	if err != nil {
		return nil, err
	}
	var messages []domain.QueuedMessage
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// FetchStalled returns processing messages whose claim timestamp is older
// than the cutoff. A settle write that failed (or a crash mid-pass) leaves
// the row in processing; without this query nothing would ever look at it
// again.
func (r *QueueRepo) FetchStalled(ctx context.Context, cutoff time.Time, limit int32) ([]domain.QueuedMessage, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("status-scheduled_for-index"),
		KeyConditionExpression: aws.String("#s = :processing"),
		FilterExpression:       aws.String("processed_at <= :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#s": fieldStatus,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processing": &types.AttributeValueMemberS{Value: domain.StatusProcessing},
			":cutoff":     &types.AttributeValueMemberS{Value: cutoff.UTC().Format(timeFormat)},
		},
		Limit: aws.Int32(limit),
	})
	if err != nil {
		return nil, err
	}
	var messages []domain.QueuedMessage
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Reclaim takes ownership of a stalled processing row by refreshing its
// claim timestamp. The condition guards against two recoverers (or the
// original settle write landing late) racing on the same row.
func (r *QueueRepo) Reclaim(ctx context.Context, messageID string, cutoff, at time.Time) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldProcessedAt: at,
		fieldUpdatedAt:   at,
	})
	if err != nil {
		return err
	}
	ue.Values[":processing"] = &types.AttributeValueMemberS{Value: domain.StatusProcessing}
	ue.Values[":cutoff"] = &types.AttributeValueMemberS{Value: cutoff.UTC().Format(timeFormat)}
	ue.Names["#status"] = fieldStatus
	ue.Names["#claimed"] = fieldProcessedAt
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("message_id", messageID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("#status = :processing AND #claimed <= :cutoff"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("reclaim %s: %w", messageID, ErrNotClaimable)
		}
		return err
	}
	return nil
}

// Claim atomically transitions a message from pending to processing. The
// conditional expression is what keeps two dispatcher passes from racing on
// the same row: only one caller can win the pending->processing transition.
func (r *QueueRepo) Claim(ctx context.Context, messageID string, at time.Time) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldStatus:      domain.StatusProcessing,
		fieldProcessedAt: at,
		fieldUpdatedAt:   at,
	})
	if err != nil {
		return err
	}
	ue.Values[":pending"] = &types.AttributeValueMemberS{Value: domain.StatusPending}
	ue.Names["#status"] = fieldStatus
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("message_id", messageID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("#status = :pending"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("claim %s: %w", messageID, ErrNotClaimable)
		}
		return err
	}
	return nil
}

// MarkSent records a successful delivery with the transport's message id.
func (r *QueueRepo) MarkSent(ctx context.Context, messageID, externalID string, at time.Time) error {
	return r.update(ctx, messageID, map[string]interface{}{
		fieldStatus:            domain.StatusSent,
		fieldSentAt:            at,
		fieldExternalMessageID: externalID,
		fieldUpdatedAt:         at,
	})
}

// Reschedule puts a failed message back to pending with its next attempt
// count and retry time. The failure reason is persisted for visibility.
func (r *QueueRepo) Reschedule(ctx context.Context, messageID string, attempts int, nextAt time.Time, errMsg string) error {
	return r.update(ctx, messageID, map[string]interface{}{
		fieldStatus:       domain.StatusPending,
		fieldAttempts:     attempts,
		fieldScheduledFor: nextAt,
		fieldErrorMessage: errMsg,
		fieldUpdatedAt:    time.Now().UTC(),
	})
}

// MarkFailed records that the retry budget is exhausted.
func (r *QueueRepo) MarkFailed(ctx context.Context, messageID string, attempts int, errMsg string, at time.Time) error {
	return r.update(ctx, messageID, map[string]interface{}{
		fieldStatus:       domain.StatusFailed,
		fieldAttempts:     attempts,
		fieldErrorMessage: errMsg,
		fieldUpdatedAt:    at,
	})
}

// Cancel transitions a pending message to cancelled. Messages already
// picked up (or finished) are not cancellable.
func (r *QueueRepo) Cancel(ctx context.Context, messageID string) error {
	now := time.Now().UTC()
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldStatus:    domain.StatusCancelled,
		fieldUpdatedAt: now,
	})
	if err != nil {
		return err
	}
	ue.Values[":pending"] = &types.AttributeValueMemberS{Value: domain.StatusPending}
	ue.Names["#status"] = fieldStatus
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("message_id", messageID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("#status = :pending"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("message %s is not pending: %w", messageID, domain.ErrConflict)
		}
		return err
	}
	return nil
}

// ListByUser queries the user_id-created_at GSI, newest first.
func (r *QueueRepo) ListByUser(ctx context.Context, userID string, limit int32) ([]domain.QueuedMessage, error) {
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
	var messages []domain.QueuedMessage
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *QueueRepo) update(ctx context.Context, messageID string, updates map[string]interface{}) error {
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("message_id", messageID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	return err
}
