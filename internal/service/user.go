package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"

	"docent/internal/domain"
)

// UserStore is the visitor contact store.
type UserStore interface {
	Put(ctx context.Context, user *domain.UserRecord) error
	GetByID(ctx context.Context, userID string) ([]domain.UserRecord, error)
	Delete(ctx context.Context, userID, createdAt string) error
	List(ctx context.Context) ([]domain.UserRecord, error)
}

// UserRequest is the signup/update payload.
type UserRequest struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	PhoneNumber     string `json:"phoneNumber"`
	SupportQuestion string `json:"supportQuestion"`
}

// Validate checks the signup payload.
func (r *UserRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.FirstName, validation.Length(0, 100)),
		validation.Field(&r.LastName, validation.Length(0, 100)),
		validation.Field(&r.SupportQuestion, validation.Length(0, 2000)),
	)
}

// UserList is a paginated user listing.
type UserList struct {
	Users   []domain.UserRecord `json:"users"`
	Total   int                 `json:"total"`
	Offset  int                 `json:"offset"`
	Limit   int                 `json:"limit"`
	HasMore bool                `json:"hasMore"`
}

// UserService manages visitor contact records.
type UserService struct {
	store  UserStore
	logger *slog.Logger
}

// NewUserService creates a user service.
func NewUserService(store UserStore, logger *slog.Logger) *UserService {
	return &UserService{store: store, logger: logger}
}

// Create stores a new visitor record and returns it.
func (s *UserService) Create(ctx context.Context, req *UserRequest) (*domain.UserRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	user := &domain.UserRecord{
		UserID:          uuid.New().String(),
		CreatedAt:       time.Now().UTC().Format(time.RFC3339Nano),
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Email:           req.Email,
		PhoneNumber:     req.PhoneNumber,
		SupportQuestion: req.SupportQuestion,
	}

	if err := s.store.Put(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user created", "user_id", user.UserID)
	return user, nil
}

// Get returns all records for one user, newest first.
func (s *UserService) Get(ctx context.Context, userID string) ([]domain.UserRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing userId", domain.ErrValidation)
	}
	return s.store.GetByID(ctx, userID)
}

// Update overwrites the contact fields of an existing record, keeping its
// key. The record must exist.
func (s *UserService) Update(ctx context.Context, userID, createdAt string, req *UserRequest) (*domain.UserRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	existing, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if createdAt == "" {
		createdAt = existing[0].CreatedAt
	}

	user := &domain.UserRecord{
		UserID:          userID,
		CreatedAt:       createdAt,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Email:           req.Email,
		PhoneNumber:     req.PhoneNumber,
		SupportQuestion: req.SupportQuestion,
	}

	if err := s.store.Put(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// Delete removes one user record.
func (s *UserService) Delete(ctx context.Context, userID, createdAt string) error {
	if userID == "" || createdAt == "" {
		return fmt.Errorf("%w: userId and createdAt are required", domain.ErrValidation)
	}
	return s.store.Delete(ctx, userID, createdAt)
}

// List returns users newest first with offset/limit pagination.
func (s *UserService) List(ctx context.Context, limit, offset int) (*UserList, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt > users[j].CreatedAt
	})

	total := len(users)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &UserList{
		Users:   users[start:end],
		Total:   total,
		Offset:  offset,
		Limit:   limit,
		HasMore: end < total,
	}, nil
}
