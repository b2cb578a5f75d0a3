package dao

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	attrPK     = "PK"
	attrTTL    = "ttl"
	attrPrefix = "state_"
)

// dynamodbAPI is the part of the DynamoDB client the store needs.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore keeps one item per state document. Each state key is its own
// attribute, so a save only touches the keys that changed.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
}

func NewDynamoStore(api dynamodbAPI, tableName string, ttl time.Duration) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("dynamodb: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamodb: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &DynamoStore{api: api, tableName: tableName, ttl: ttl}, nil
}

// NewDynamoStoreFromConfig builds the client from the default AWS config chain.
func NewDynamoStoreFromConfig(ctx context.Context, tableName, region string, ttl time.Duration) (*DynamoStore, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: load aws config: %w", err)
	}
	return NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName, ttl)
}

func statePK(scope, id string) string {
	return strings.ToUpper(scope) + "#" + id
}

func (d *DynamoStore) Load(ctx context.Context, scope, id string) (map[string]json.RawMessage, error) {
	if err := validateKey(scope, id); err != nil {
		return nil, err
	}
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: statePK(scope, id)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: get item: %w", err)
	}

	doc := make(map[string]json.RawMessage)
	if out == nil {
		return doc, nil
	}
	for name, v := range out.Item {
		if !strings.HasPrefix(name, attrPrefix) {
			continue
		}
		s, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return nil, fmt.Errorf("dynamodb: attribute %q is not a string", name)
		}
		doc[strings.TrimPrefix(name, attrPrefix)] = json.RawMessage(s.Value)
	}
	return doc, nil
}

// Save issues one UpdateItem that sets every changed key and refreshes the TTL.
func (d *DynamoStore) Save(ctx context.Context, scope, id string, changes map[string]json.RawMessage) error {
	if err := validateKey(scope, id); err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}

	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	names := map[string]string{"#ttl": attrTTL}
	values := map[string]types.AttributeValue{
		":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(d.ttl).Unix(), 10)},
	}
	sets := make([]string, 0, len(keys)+1)
	for i, k := range keys {
		n, v := fmt.Sprintf("#k%d", i), fmt.Sprintf(":v%d", i)
		names[n] = attrPrefix + k
		values[v] = &types.AttributeValueMemberS{Value: string(changes[k])}
		sets = append(sets, n+" = "+v)
	}
	sets = append(sets, "#ttl = :ttl")

	_, err := d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: statePK(scope, id)},
		},
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("dynamodb: update item: %w", err)
	}
	return nil
}

func (d *DynamoStore) Close() error { return nil }
