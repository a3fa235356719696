package dynamo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"docent/internal/domain"
)

// UserRepository persists visitor contact records. Table keyed
// (userId, createdAt).
type UserRepository struct {
	client *dynamodb.Client
	table  string
	logger *slog.Logger
}

// NewUserRepository creates a repository over the user information table.
func NewUserRepository(cfg *RepositoryConfig) *UserRepository {
	return &UserRepository{
		client: cfg.Client,
		table:  cfg.UserTable,
		logger: cfg.Logger,
	}
}

type userItem struct {
	UserID          string `dynamodbav:"userId"`
	CreatedAt       string `dynamodbav:"createdAt"`
	FirstName       string `dynamodbav:"firstName,omitempty"`
	LastName        string `dynamodbav:"lastName,omitempty"`
	Email           string `dynamodbav:"email,omitempty"`
	PhoneNumber     string `dynamodbav:"phoneNumber,omitempty"`
	SupportQuestion string `dynamodbav:"supportQuestion,omitempty"`
}

func toUserItem(u *domain.UserRecord) *userItem {
	return &userItem{
		UserID:          u.UserID,
		CreatedAt:       u.CreatedAt,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Email:           u.Email,
		PhoneNumber:     u.PhoneNumber,
		SupportQuestion: u.SupportQuestion,
	}
}

func fromUserItem(item *userItem) *domain.UserRecord {
	return &domain.UserRecord{
		UserID:          item.UserID,
		CreatedAt:       item.CreatedAt,
		FirstName:       item.FirstName,
		LastName:        item.LastName,
		Email:           item.Email,
		PhoneNumber:     item.PhoneNumber,
		SupportQuestion: item.SupportQuestion,
	}
}

// Put writes (or overwrites) one user record.
func (r *UserRepository) Put(ctx context.Context, user *domain.UserRecord) error {
	attrs, err := attributevalue.MarshalMap(toUserItem(user))
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      attrs,
	})
	if err != nil {
		return fmt.Errorf("put user %s: %w", user.UserID, err)
	}

	return nil
}

// GetByID returns all records for one userId, newest first.
func (r *UserRepository) GetByID(ctx context.Context, userID string) ([]domain.UserRecord, error) {
	keyCond := expression.Key("userId").Equal(expression.Value(userID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("query user %s: %w", userID, err)
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}

	var items []userItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, fmt.Errorf("unmarshal users: %w", err)
	}

	users := make([]domain.UserRecord, 0, len(items))
	for i := range items {
		users = append(users, *fromUserItem(&items[i]))
	}

	return users, nil
}

// Delete removes one user record identified by its full key.
func (r *UserRepository) Delete(ctx context.Context, userID, createdAt string) error {
	key, err := attributevalue.MarshalMap(map[string]string{
		"userId":    userID,
		"createdAt": createdAt,
	})
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}

	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key:       key,
	})
	if err != nil {
		return fmt.Errorf("delete user %s: %w", userID, err)
	}

	r.logger.Info("user deleted", "user_id", userID)

	return nil
}

// List scans the whole user table. Acceptable at museum-signup scale; a
// created-at GSI would replace this if the table grows.
func (r *UserRepository) List(ctx context.Context) ([]domain.UserRecord, error) {
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName: aws.String(r.table),
	})

	users := []domain.UserRecord{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan users: %w", err)
		}

		var items []userItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal user page: %w", err)
		}
		for i := range items {
			users = append(users, *fromUserItem(&items[i]))
		}
	}

	return users, nil
}
