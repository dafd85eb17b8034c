package dynamo

import (
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// timeFormat is RFC 3339 with fixed-width nanoseconds. The attributevalue
// default (RFC3339Nano) trims trailing zeros, and a trimmed "…:05Z" sorts
// after "…:05.1Z" lexically. GSI range keys on timestamp attributes need
// every stored value the same width for string comparison to match
// chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// encodeTime marshals a time.Time attribute in the fixed-width format. All
// repo writes go through this so stored values and query bounds agree.
func encodeTime(t time.Time) (types.AttributeValue, error) {
	return &types.AttributeValueMemberS{Value: t.UTC().Format(timeFormat)}, nil
}

func marshalMap(v interface{}) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMapWithOptions(v, func(o *attributevalue.EncoderOptions) {
		o.EncodeTime = encodeTime
	})
}

// strKey builds a DynamoDB primary key map with a single string attribute.
func strKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberS{Value: value},
	}
}

// updateExpr is the result of buildUpdateExpr, ready to be spread into an
// UpdateItemInput.
type updateExpr struct {
	Expr   string
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// buildUpdateExpr converts a map of field->value into a DynamoDB SET
// expression. Fields are sorted so the expression is deterministic.
func buildUpdateExpr(updates map[string]interface{}) (updateExpr, error) {
	ue := updateExpr{
		Names:  make(map[string]string),
		Values: make(map[string]types.AttributeValue),
	}
	if len(updates) == 0 {
		return ue, fmt.Errorf("no fields to update")
	}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ue.Expr = "SET "
	for i, k := range keys {
		nameKey := fmt.Sprintf("#f%d", i)
		valueKey := fmt.Sprintf(":v%d", i)
		ue.Names[nameKey] = k
		av, err := attributevalue.MarshalWithOptions(updates[k], func(o *attributevalue.EncoderOptions) {
			o.EncodeTime = encodeTime
		})
		if err != nil {
			return updateExpr{}, fmt.Errorf("marshal field %s: %w", k, err)
		}
		ue.Values[valueKey] = av
		if i > 0 {
			ue.Expr += ", "
		}
		ue.Expr += fmt.Sprintf("%s = %s", nameKey, valueKey)
	}
	return ue, nil
}
