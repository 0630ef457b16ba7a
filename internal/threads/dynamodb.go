package threads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/memohai/courier/internal/channel"
	"github.com/memohai/courier/internal/conversation"
)

// dynamodbAPI is the part of the DynamoDB client DynamoStore needs.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore keeps one item per conversation, keyed by PK = "CONV#platform:owner:sender".
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamoStore creates a DynamoStore on tableName.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("threads: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("threads: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, now: time.Now}, nil
}

func threadPK(key conversation.Key) string {
	return "CONV#" + key.String()
}

func (s *DynamoStore) GetThread(ctx context.Context, key conversation.Key) (Thread, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: threadPK(key)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Thread{}, fmt.Errorf("get thread %s: %w", key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return Thread{}, ErrThreadNotFound
	}
	return itemToThread(out.Item)
}

func (s *DynamoStore) SaveThread(ctx context.Context, thread Thread) error {
	if err := validateThread(thread); err != nil {
		return err
	}
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = s.now().UTC()
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                threadItem(thread),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrThreadExists
		}
		return fmt.Errorf("save thread %s: %w", thread.Key, err)
	}
	return nil
}

func threadItem(thread Thread) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: threadPK(thread.Key)},
		"platform":    &types.AttributeValueMemberS{Value: thread.Key.Platform.String()},
		"ownerId":     &types.AttributeValueMemberS{Value: thread.Key.OwnerID},
		"senderId":    &types.AttributeValueMemberS{Value: thread.Key.SenderID},
		"assistantId": &types.AttributeValueMemberS{Value: thread.AssistantID},
		"threadId":    &types.AttributeValueMemberS{Value: thread.ThreadID},
		"createdAt":   &types.AttributeValueMemberS{Value: thread.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func itemToThread(item map[string]types.AttributeValue) (Thread, error) {
	fields := map[string]string{}
	for _, name := range []string{"platform", "ownerId", "senderId", "assistantId", "threadId"} {
		value, err := strAttr(item, name)
		if err != nil {
			return Thread{}, err
		}
		fields[name] = value
	}
	thread := Thread{
		Key: conversation.Key{
			Platform: channel.ChannelType(fields["platform"]),
			OwnerID:  fields["ownerId"],
			SenderID: fields["senderId"],
		},
		AssistantID: fields["assistantId"],
		ThreadID:    fields["threadId"],
	}
	if raw, err := strAttr(item, "createdAt"); err == nil {
		if parsed, parseErr := time.Parse(time.RFC3339Nano, raw); parseErr == nil {
			thread.CreatedAt = parsed
		}
	}
	return thread, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("threads: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("threads: attribute %q is not a string", key)
	}
	return s.Value, nil
}
