// Package dynamo implements the durable stores on DynamoDB. The conversation
// table is keyed (conversationId, timestamp) with global secondary indexes on
// (date, timestamp) and (feedback, timestamp) for the analytics readers.
package dynamo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"docent/internal/domain"
)

// RepositoryConfig bundles the shared dependencies of the DynamoDB
// repositories.
type RepositoryConfig struct {
	Client        *dynamodb.Client
	Table         string
	UserTable     string
	DateIndex     string
	FeedbackIndex string
	Logger        *slog.Logger
}

// ConversationRepository persists and queries conversation records.
type ConversationRepository struct {
	client        *dynamodb.Client
	table         string
	dateIndex     string
	feedbackIndex string
	logger        *slog.Logger
}

// NewConversationRepository creates a repository over the conversation
// history table.
func NewConversationRepository(cfg *RepositoryConfig) *ConversationRepository {
	return &ConversationRepository{
		client:        cfg.Client,
		table:         cfg.Table,
		dateIndex:     cfg.DateIndex,
		feedbackIndex: cfg.FeedbackIndex,
		logger:        cfg.Logger,
	}
}

// conversationItem is the table shape. Citations are stored as a JSON string
// attribute so the nested upstream structure stays opaque to the store.
type conversationItem struct {
	ConversationID  string `dynamodbav:"conversationId"`
	Timestamp       string `dynamodbav:"timestamp"`
	Date            string `dynamodbav:"date"`
	SessionID       string `dynamodbav:"sessionId,omitempty"`
	Question        string `dynamodbav:"question"`
	Answer          string `dynamodbav:"answer"`
	Citations       string `dynamodbav:"citations,omitempty"`
	CitationCount   int    `dynamodbav:"citationCount"`
	GuardrailAction string `dynamodbav:"guardrailAction,omitempty"`
	Feedback        string `dynamodbav:"feedback,omitempty"`
	FeedbackTs      string `dynamodbav:"feedbackTs,omitempty"`
	ResponseTimeMs  int64  `dynamodbav:"responseTimeMs"`
	Language        string `dynamodbav:"language"`
	ModelID         string `dynamodbav:"modelId,omitempty"`
	QuestionLength  int    `dynamodbav:"questionLength"`
	AnswerLength    int    `dynamodbav:"answerLength"`
}

func toItem(rec *domain.ConversationRecord) (*conversationItem, error) {
	item := &conversationItem{
		ConversationID:  rec.ConversationID,
		Timestamp:       rec.Timestamp,
		Date:            rec.Date,
		SessionID:       rec.SessionID,
		Question:        rec.Question,
		Answer:          rec.Answer,
		CitationCount:   rec.CitationCount,
		GuardrailAction: rec.GuardrailAction,
		Feedback:        rec.Feedback,
		FeedbackTs:      rec.FeedbackTs,
		ResponseTimeMs:  rec.ResponseTimeMs,
		Language:        rec.Language,
		ModelID:         rec.ModelID,
		QuestionLength:  rec.QuestionLength,
		AnswerLength:    rec.AnswerLength,
	}

	if len(rec.Citations) > 0 {
		encoded, err := json.Marshal(rec.Citations)
		if err != nil {
			return nil, fmt.Errorf("encode citations: %w", err)
		}
		item.Citations = string(encoded)
	}

	return item, nil
}

func fromItem(item *conversationItem) *domain.ConversationRecord {
	rec := &domain.ConversationRecord{
		ConversationID:  item.ConversationID,
		Timestamp:       item.Timestamp,
		Date:            item.Date,
		SessionID:       item.SessionID,
		Question:        item.Question,
		Answer:          item.Answer,
		CitationCount:   item.CitationCount,
		GuardrailAction: item.GuardrailAction,
		Feedback:        item.Feedback,
		FeedbackTs:      item.FeedbackTs,
		ResponseTimeMs:  item.ResponseTimeMs,
		Language:        item.Language,
		ModelID:         item.ModelID,
		QuestionLength:  item.QuestionLength,
		AnswerLength:    item.AnswerLength,
	}

	if item.Citations != "" {
		// Malformed stored citations degrade to an empty list rather than
		// failing the whole read.
		if err := json.Unmarshal([]byte(item.Citations), &rec.Citations); err != nil {
			rec.Citations = nil
		}
	}

	return rec
}

// Put writes one conversation record. Keyed insert: no two requests ever
// share a conversationId, so there is nothing to overwrite.
func (r *ConversationRepository) Put(ctx context.Context, rec *domain.ConversationRecord) error {
	item, err := toItem(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	attrs, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("%w: marshal item: %v", domain.ErrPersistence, err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      attrs,
	})
	if err != nil {
		return fmt.Errorf("%w: put conversation %s: %v", domain.ErrPersistence, rec.ConversationID, err)
	}

	return nil
}

// GetByID retrieves a conversation by its ID. The sort key is unknown to
// callers, so this is a single-item key-condition query.
func (r *ConversationRepository) GetByID(ctx context.Context, conversationID string) (*domain.ConversationRecord, error) {
	keyCond := expression.Key("conversationId").Equal(expression.Value(conversationID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query conversation %s: %w", conversationID, err)
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}

	var item conversationItem
	if err := attributevalue.UnmarshalMap(out.Items[0], &item); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}

	return fromItem(&item), nil
}

// QueryByDate returns all records for one calendar day via the date index,
// following pagination to the end.
func (r *ConversationRepository) QueryByDate(ctx context.Context, date string) ([]domain.ConversationRecord, error) {
	keyCond := expression.Key("date").Equal(expression.Value(date))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.table),
		IndexName:                 aws.String(r.dateIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	records := []domain.ConversationRecord{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query date %s: %w", date, err)
		}

		var items []conversationItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal date page: %w", err)
		}
		for i := range items {
			records = append(records, *fromItem(&items[i]))
		}
	}

	return records, nil
}

// QueryByFeedback returns the most recent records carrying the given
// feedback value, newest first, via the feedback index.
func (r *ConversationRepository) QueryByFeedback(ctx context.Context, feedback string, limit int) ([]domain.ConversationRecord, error) {
	keyCond := expression.Key("feedback").Equal(expression.Value(feedback))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.table),
		IndexName:                 aws.String(r.feedbackIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	paginator := dynamodb.NewQueryPaginator(r.client, input)

	records := []domain.ConversationRecord{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query feedback %s: %w", feedback, err)
		}

		var items []conversationItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal feedback page: %w", err)
		}
		for i := range items {
			records = append(records, *fromItem(&items[i]))
		}

		if limit > 0 && len(records) >= limit {
			records = records[:limit]
			break
		}
	}

	return records, nil
}

// SetFeedback updates the feedback fields of an existing record.
func (r *ConversationRepository) SetFeedback(ctx context.Context, conversationID, timestamp, feedback, feedbackTs string) error {
	update := expression.Set(expression.Name("feedback"), expression.Value(feedback)).
		Set(expression.Name("feedbackTs"), expression.Value(feedbackTs))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	key, err := attributevalue.MarshalMap(map[string]string{
		"conversationId": conversationID,
		"timestamp":      timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return fmt.Errorf("update feedback for %s: %w", conversationID, err)
	}

	r.logger.Info("feedback recorded",
		"conversation_id", conversationID,
		"feedback", feedback,
	)

	return nil
}
