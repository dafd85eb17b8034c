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

// TemplateRepo provides typed DynamoDB operations for the email_templates
// table (the template catalog).
type TemplateRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewTemplateRepo(client *dynamodb.Client, tableName string) *TemplateRepo {
	return &TemplateRepo{client: client, tableName: tableName}
}

func (r *TemplateRepo) Put(ctx context.Context, t *domain.EmailTemplate) error {
	item, err := marshalMap(t)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *TemplateRepo) Get(ctx context.Context, templateID string) (*domain.EmailTemplate, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("template_id", templateID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("template %s: %w", templateID, domain.ErrNotFound)
	}
	var t domain.EmailTemplate
	if err := attributevalue.UnmarshalMap(out.Item, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetByName queries the name GSI. Template names are unique per catalog.
func (r *TemplateRepo) GetByName(ctx context.Context, name string) (*domain.EmailTemplate, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("name-index"),
		KeyConditionExpression: aws.String("#n = :name"),
		ExpressionAttributeNames: map[string]string{
			"#n": "name",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name": &types.AttributeValueMemberS{Value: name},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("template %q: %w", name, domain.ErrNotFound)
	}
	var t domain.EmailTemplate
	if err := attributevalue.UnmarshalMap(out.Items[0], &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TemplateRepo) List(ctx context.Context) ([]domain.EmailTemplate, error) {
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(r.tableName),
	})
	if err != nil {
		return nil, err
	}
	var templates []domain.EmailTemplate
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

func (r *TemplateRepo) Update(ctx context.Context, templateID string, updates map[string]interface{}) error {
	updates[fieldUpdatedAt] = time.Now().UTC()
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("template_id", templateID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	return err
}

func (r *TemplateRepo) Delete(ctx context.Context, templateID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("template_id", templateID),
	})
	return err
}
