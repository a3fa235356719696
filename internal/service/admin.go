package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"docent/internal/domain"
)

const (
	dateLayout = "2006-01-02"

	// maxParallelQueries bounds concurrent per-date index queries to stay
	// under DynamoDB throttling limits.
	maxParallelQueries = 10

	statsCacheTTL = 60 * time.Second

	defaultStatsDays   = 7
	defaultSummaryDays = 30
	defaultListDays    = 30
)

// AdminStore is the conversation store as seen by the analytics reader.
type AdminStore interface {
	GetByID(ctx context.Context, conversationID string) (*domain.ConversationRecord, error)
	QueryByDate(ctx context.Context, date string) ([]domain.ConversationRecord, error)
	QueryByFeedback(ctx context.Context, feedback string, limit int) ([]domain.ConversationRecord, error)
}

// Period describes the date range a response covers.
type Period struct {
	Days      int    `json:"days"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// ChartBucket is one point on the conversations-over-time chart. Buckets are
// daily for ranges up to a month, weekly up to a quarter, monthly beyond.
type ChartBucket struct {
	Date    string `json:"date"`
	EndDate string `json:"endDate,omitempty"`
	Count   int    `json:"count"`
	DayName string `json:"dayName"`
	Label   string `json:"label"`
}

// StatsResponse is the dashboard statistics payload.
type StatsResponse struct {
	TotalConversations int           `json:"totalConversations"`
	ConversationsToday int           `json:"conversationsToday"`
	TotalFeedback      int           `json:"totalFeedback"`
	PositiveFeedback   int           `json:"positiveFeedback"`
	NegativeFeedback   int           `json:"negativeFeedback"`
	NoFeedback         int           `json:"noFeedback"`
	SatisfactionRate   float64       `json:"satisfactionRate"`
	AvgResponseTimeMs  int64         `json:"avgResponseTimeMs"`
	ConversationsByDay []ChartBucket `json:"conversationsByDay"`
	Period             Period        `json:"period"`
}

// ConversationSummary is one row of the conversation listing, with question
// and answer truncated to previews.
type ConversationSummary struct {
	ConversationID string `json:"conversationId"`
	SessionID      string `json:"sessionId,omitempty"`
	Timestamp      string `json:"timestamp"`
	Date           string `json:"date"`
	Question       string `json:"question"`
	AnswerPreview  string `json:"answerPreview"`
	Feedback       string `json:"feedback,omitempty"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	CitationCount  int    `json:"citationCount"`
	Language       string `json:"language"`
}

// ConversationList is a paginated listing response.
type ConversationList struct {
	Conversations []ConversationSummary `json:"conversations"`
	Count         int                   `json:"count"`
	Total         int                   `json:"total"`
	Offset        int                   `json:"offset"`
	Limit         int                   `json:"limit"`
	HasMore       bool                  `json:"hasMore"`
}

// FeedbackTotals aggregates sentiment over a period.
type FeedbackTotals struct {
	Positive         int     `json:"positive"`
	Negative         int     `json:"negative"`
	NoFeedback       int     `json:"noFeedback"`
	Total            int     `json:"total"`
	SatisfactionRate float64 `json:"satisfactionRate"`
}

// NegativeItem is one recently downvoted conversation.
type NegativeItem struct {
	ConversationID string `json:"conversationId"`
	Timestamp      string `json:"timestamp"`
	Question       string `json:"question"`
	AnswerPreview  string `json:"answerPreview"`
	FeedbackTs     string `json:"feedbackTs,omitempty"`
}

// FeedbackSummaryResponse is the feedback dashboard payload.
type FeedbackSummaryResponse struct {
	Summary        FeedbackTotals `json:"summary"`
	RecentNegative []NegativeItem `json:"recentNegative"`
	Period         Period         `json:"period"`
}

// RangeQuery selects a date range, either explicitly or as a trailing number
// of days ending today.
type RangeQuery struct {
	Days      int
	StartDate string
	EndDate   string
}

// ListQuery filters and paginates the conversation listing. Feedback is
// "pos", "neg", or "none" for conversations without feedback.
type ListQuery struct {
	Feedback  string
	StartDate string
	EndDate   string
	Limit     int
	Offset    int
}

// AdminService aggregates conversation records for the dashboard. Stats are
// computed from bounded parallel per-date index queries and cached briefly,
// since the dashboard polls.
type AdminService struct {
	store  AdminStore
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value    any
	storedAt time.Time
}

// NewAdminService creates the analytics service.
func NewAdminService(store AdminStore, logger *slog.Logger) *AdminService {
	return &AdminService{
		store:  store,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
}

func (s *AdminService) cached(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[key]
	if !ok || time.Since(entry.storedAt) > statsCacheTTL {
		delete(s.cache, key)
		return nil, false
	}
	return entry.value, true
}

func (s *AdminService) setCached(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cacheEntry{value: value, storedAt: time.Now()}
}

// resolveRange normalizes a range query into concrete start/end dates.
func (s *AdminService) resolveRange(q RangeQuery, defaultDays int) (start, end string, days int, err error) {
	if q.StartDate != "" && q.EndDate != "" {
		startT, err := time.Parse(dateLayout, q.StartDate)
		if err != nil {
			return "", "", 0, fmt.Errorf("%w: invalid startDate %q", domain.ErrValidation, q.StartDate)
		}
		endT, err := time.Parse(dateLayout, q.EndDate)
		if err != nil {
			return "", "", 0, fmt.Errorf("%w: invalid endDate %q", domain.ErrValidation, q.EndDate)
		}
		if endT.Before(startT) {
			return "", "", 0, fmt.Errorf("%w: endDate before startDate", domain.ErrValidation)
		}
		return q.StartDate, q.EndDate, int(endT.Sub(startT).Hours()/24) + 1, nil
	}

	days = q.Days
	if days <= 0 {
		days = defaultDays
	}
	now := s.now().UTC()
	return now.AddDate(0, 0, -(days - 1)).Format(dateLayout), now.Format(dateLayout), days, nil
}

// datesBetween expands an inclusive date range into its calendar days.
func datesBetween(start, end string) []string {
	startT, _ := time.Parse(dateLayout, start)
	endT, _ := time.Parse(dateLayout, end)

	var dates []string
	for d := startT; !d.After(endT); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(dateLayout))
	}
	return dates
}

// queryRange fetches all records in the range, one bounded-concurrency index
// query per calendar day.
func (s *AdminService) queryRange(ctx context.Context, dates []string) (map[string][]domain.ConversationRecord, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelQueries)

	var mu sync.Mutex
	byDate := make(map[string][]domain.ConversationRecord, len(dates))

	for _, date := range dates {
		g.Go(func() error {
			records, err := s.store.QueryByDate(ctx, date)
			if err != nil {
				return fmt.Errorf("query date %s: %w", date, err)
			}
			mu.Lock()
			byDate[date] = records
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return byDate, nil
}

type dayStats struct {
	count             int
	positive          int
	negative          int
	noFeedback        int
	totalResponseTime int64
	responseTimeCount int
}

func aggregate(records []domain.ConversationRecord) dayStats {
	var stats dayStats
	for _, rec := range records {
		stats.count++
		switch rec.Feedback {
		case domain.FeedbackPositive:
			stats.positive++
		case domain.FeedbackNegative:
			stats.negative++
		default:
			stats.noFeedback++
		}
		if rec.ResponseTimeMs > 0 {
			stats.totalResponseTime += rec.ResponseTimeMs
			stats.responseTimeCount++
		}
	}
	return stats
}

// Stats computes the dashboard statistics for a date range.
func (s *AdminService) Stats(ctx context.Context, q RangeQuery) (*StatsResponse, error) {
	start, end, days, err := s.resolveRange(q, defaultStatsDays)
	if err != nil {
		return nil, err
	}

	cacheKey := "stats:" + start + ":" + end
	if cached, ok := s.cached(cacheKey); ok {
		return cached.(*StatsResponse), nil
	}

	byDate, err := s.queryRange(ctx, datesBetween(start, end))
	if err != nil {
		return nil, err
	}

	var totals dayStats
	perDay := make(map[string]dayStats, len(byDate))
	for date, records := range byDate {
		stats := aggregate(records)
		perDay[date] = stats
		totals.count += stats.count
		totals.positive += stats.positive
		totals.negative += stats.negative
		totals.noFeedback += stats.noFeedback
		totals.totalResponseTime += stats.totalResponseTime
		totals.responseTimeCount += stats.responseTimeCount
	}

	totalFeedback := totals.positive + totals.negative
	var satisfactionRate float64
	if totalFeedback > 0 {
		satisfactionRate = roundRate(float64(totals.positive) / float64(totalFeedback) * 100)
	}
	var avgResponseTime int64
	if totals.responseTimeCount > 0 {
		avgResponseTime = totals.totalResponseTime / int64(totals.responseTimeCount)
	}

	today := s.now().UTC().Format(dateLayout)

	resp := &StatsResponse{
		TotalConversations: totals.count,
		ConversationsToday: perDay[today].count,
		TotalFeedback:      totalFeedback,
		PositiveFeedback:   totals.positive,
		NegativeFeedback:   totals.negative,
		NoFeedback:         totals.noFeedback,
		SatisfactionRate:   satisfactionRate,
		AvgResponseTimeMs:  avgResponseTime,
		ConversationsByDay: buildChart(start, end, days, perDay),
		Period:             Period{Days: days, StartDate: start, EndDate: end},
	}

	s.setCached(cacheKey, resp)
	return resp, nil
}

// buildChart groups daily counts into chart buckets sized by range length.
func buildChart(start, end string, days int, perDay map[string]dayStats) []ChartBucket {
	startT, _ := time.Parse(dateLayout, start)
	endT, _ := time.Parse(dateLayout, end)

	buckets := []ChartBucket{}

	switch {
	case days <= 31:
		for d := startT; !d.After(endT); d = d.AddDate(0, 0, 1) {
			date := d.Format(dateLayout)
			buckets = append(buckets, ChartBucket{
				Date:    date,
				Count:   perDay[date].count,
				DayName: d.Format("Mon"),
				Label:   strconv.Itoa(d.Day()),
			})
		}

	case days <= 90:
		for d := startT; !d.After(endT); {
			weekEnd := d.AddDate(0, 0, 6)
			if weekEnd.After(endT) {
				weekEnd = endT
			}
			count := 0
			for t := d; !t.After(weekEnd); t = t.AddDate(0, 0, 1) {
				count += perDay[t.Format(dateLayout)].count
			}
			buckets = append(buckets, ChartBucket{
				Date:    d.Format(dateLayout),
				EndDate: weekEnd.Format(dateLayout),
				Count:   count,
				DayName: fmt.Sprintf("%s - %d", d.Format("Jan 2"), weekEnd.Day()),
				Label:   d.Format("Jan 2"),
			})
			d = weekEnd.AddDate(0, 0, 1)
		}

	default:
		for d := time.Date(startT.Year(), startT.Month(), 1, 0, 0, 0, 0, time.UTC); !d.After(endT); d = d.AddDate(0, 1, 0) {
			monthEnd := d.AddDate(0, 1, -1)
			bucketStart := d
			if bucketStart.Before(startT) {
				bucketStart = startT
			}
			bucketEnd := monthEnd
			if bucketEnd.After(endT) {
				bucketEnd = endT
			}
			count := 0
			for t := bucketStart; !t.After(bucketEnd); t = t.AddDate(0, 0, 1) {
				count += perDay[t.Format(dateLayout)].count
			}
			buckets = append(buckets, ChartBucket{
				Date:    bucketStart.Format(dateLayout),
				EndDate: bucketEnd.Format(dateLayout),
				Count:   count,
				DayName: d.Format("January 2006"),
				Label:   d.Format("Jan"),
			})
		}
	}

	return buckets
}

// ListConversations returns a filtered, paginated listing, newest first.
func (s *AdminService) ListConversations(ctx context.Context, q ListQuery) (*ConversationList, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var records []domain.ConversationRecord

	switch {
	case q.Feedback == domain.FeedbackPositive || q.Feedback == domain.FeedbackNegative:
		found, err := s.store.QueryByFeedback(ctx, q.Feedback, 0)
		if err != nil {
			return nil, err
		}
		records = found
		if q.StartDate != "" && q.EndDate != "" {
			records = filterByDate(records, q.StartDate, q.EndDate)
		}

	default:
		start, end := q.StartDate, q.EndDate
		if start == "" || end == "" {
			now := s.now().UTC()
			start = now.AddDate(0, 0, -(defaultListDays - 1)).Format(dateLayout)
			end = now.Format(dateLayout)
		}
		byDate, err := s.queryRange(ctx, datesBetween(start, end))
		if err != nil {
			return nil, err
		}
		for _, dayRecords := range byDate {
			records = append(records, dayRecords...)
		}
		if q.Feedback == "none" {
			records = filterNoFeedback(records)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp > records[j].Timestamp
	})

	total := len(records)
	pageEnd := offset + limit
	if offset > total {
		offset = total
	}
	if pageEnd > total {
		pageEnd = total
	}
	page := records[offset:pageEnd]

	summaries := make([]ConversationSummary, 0, len(page))
	for _, rec := range page {
		summaries = append(summaries, ConversationSummary{
			ConversationID: rec.ConversationID,
			SessionID:      rec.SessionID,
			Timestamp:      rec.Timestamp,
			Date:           rec.Date,
			Question:       truncate(rec.Question, 100),
			AnswerPreview:  truncate(rec.Answer, 150),
			Feedback:       rec.Feedback,
			ResponseTimeMs: rec.ResponseTimeMs,
			CitationCount:  rec.CitationCount,
			Language:       rec.Language,
		})
	}

	return &ConversationList{
		Conversations: summaries,
		Count:         len(summaries),
		Total:         total,
		Offset:        q.Offset,
		Limit:         limit,
		HasMore:       pageEnd < total,
	}, nil
}

// GetConversation returns one full record including parsed citations.
func (s *AdminService) GetConversation(ctx context.Context, conversationID string) (*domain.ConversationRecord, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: missing conversationId", domain.ErrValidation)
	}
	return s.store.GetByID(ctx, conversationID)
}

// FeedbackSummary computes sentiment totals plus the most recent negative
// conversations in the period.
func (s *AdminService) FeedbackSummary(ctx context.Context, q RangeQuery) (*FeedbackSummaryResponse, error) {
	start, end, days, err := s.resolveRange(q, defaultSummaryDays)
	if err != nil {
		return nil, err
	}

	cacheKey := "feedback:" + start + ":" + end
	if cached, ok := s.cached(cacheKey); ok {
		return cached.(*FeedbackSummaryResponse), nil
	}

	byDate, err := s.queryRange(ctx, datesBetween(start, end))
	if err != nil {
		return nil, err
	}

	var totals dayStats
	for _, records := range byDate {
		stats := aggregate(records)
		totals.count += stats.count
		totals.positive += stats.positive
		totals.negative += stats.negative
		totals.noFeedback += stats.noFeedback
	}

	negative, err := s.store.QueryByFeedback(ctx, domain.FeedbackNegative, 50)
	if err != nil {
		return nil, err
	}

	recentNegative := []NegativeItem{}
	for _, rec := range negative {
		if rec.Date < start || rec.Date > end {
			continue
		}
		recentNegative = append(recentNegative, NegativeItem{
			ConversationID: rec.ConversationID,
			Timestamp:      rec.Timestamp,
			Question:       rec.Question,
			AnswerPreview:  truncate(rec.Answer, 200),
			FeedbackTs:     rec.FeedbackTs,
		})
	}
	sort.Slice(recentNegative, func(i, j int) bool {
		return sortKey(recentNegative[i]) > sortKey(recentNegative[j])
	})
	if len(recentNegative) > 10 {
		recentNegative = recentNegative[:10]
	}

	totalFeedback := totals.positive + totals.negative
	var satisfactionRate float64
	if totalFeedback > 0 {
		satisfactionRate = roundRate(float64(totals.positive) / float64(totalFeedback) * 100)
	}

	resp := &FeedbackSummaryResponse{
		Summary: FeedbackTotals{
			Positive:         totals.positive,
			Negative:         totals.negative,
			NoFeedback:       totals.noFeedback,
			Total:            totals.count,
			SatisfactionRate: satisfactionRate,
		},
		RecentNegative: recentNegative,
		Period:         Period{Days: days, StartDate: start, EndDate: end},
	}

	s.setCached(cacheKey, resp)
	return resp, nil
}

func sortKey(item NegativeItem) string {
	if item.FeedbackTs != "" {
		return item.FeedbackTs
	}
	return item.Timestamp
}

func filterByDate(records []domain.ConversationRecord, start, end string) []domain.ConversationRecord {
	filtered := records[:0]
	for _, rec := range records {
		if rec.Date >= start && rec.Date <= end {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}

func filterNoFeedback(records []domain.ConversationRecord) []domain.ConversationRecord {
	filtered := records[:0]
	for _, rec := range records {
		if rec.Feedback == "" {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}

// truncate shortens s to max characters. Counted in runes, not bytes, so a
// multi-byte character is never cut in half.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// roundRate rounds a percentage to one decimal place.
func roundRate(rate float64) float64 {
	return float64(int(rate*10+0.5)) / 10
}
