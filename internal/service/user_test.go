package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"docent/internal/domain"
)

type fakeUserStore struct {
	users   map[string][]domain.UserRecord
	deleted []string
}

func (f *fakeUserStore) Put(ctx context.Context, user *domain.UserRecord) error {
	if f.users == nil {
		f.users = make(map[string][]domain.UserRecord)
	}
	f.users[user.UserID] = append(f.users[user.UserID], *user)
	return nil
}

func (f *fakeUserStore) GetByID(ctx context.Context, userID string) ([]domain.UserRecord, error) {
	records, ok := f.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return records, nil
}

func (f *fakeUserStore) Delete(ctx context.Context, userID, createdAt string) error {
	f.deleted = append(f.deleted, userID+"/"+createdAt)
	return nil
}

func (f *fakeUserStore) List(ctx context.Context) ([]domain.UserRecord, error) {
	var all []domain.UserRecord
	for _, records := range f.users {
		all = append(all, records...)
	}
	return all, nil
}

func TestUserRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     UserRequest
		wantErr bool
	}{
		{name: "valid", req: UserRequest{Email: "visitor@example.com"}},
		{name: "missing email", req: UserRequest{FirstName: "Ada"}, wantErr: true},
		{name: "malformed email", req: UserRequest{Email: "not-an-email"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUserCreate(t *testing.T) {
	store := &fakeUserStore{}
	svc := NewUserService(store, testLogger())

	user, err := svc.Create(context.Background(), &UserRequest{
		Email:     "visitor@example.com",
		FirstName: "Ada",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if user.UserID == "" || user.CreatedAt == "" {
		t.Errorf("identity fields not assigned: %+v", user)
	}
	if len(store.users[user.UserID]) != 1 {
		t.Errorf("record not stored")
	}
}

func TestUserCreateInvalid(t *testing.T) {
	svc := NewUserService(&fakeUserStore{}, testLogger())
	_, err := svc.Create(context.Background(), &UserRequest{Email: "nope"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Create() error = %v, want ErrValidation", err)
	}
}

func TestUserListPagination(t *testing.T) {
	store := &fakeUserStore{users: map[string][]domain.UserRecord{}}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("u%d", i)
		store.users[id] = []domain.UserRecord{{
			UserID:    id,
			CreatedAt: fmt.Sprintf("2026-08-2%dT00:00:00Z", i),
		}}
	}
	svc := NewUserService(store, testLogger())

	list, err := svc.List(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if list.Total != 5 || len(list.Users) != 2 || !list.HasMore {
		t.Fatalf("pagination = total %d page %d hasMore %v", list.Total, len(list.Users), list.HasMore)
	}
	// Newest first.
	if list.Users[0].UserID != "u4" || list.Users[1].UserID != "u3" {
		t.Errorf("order = %s, %s", list.Users[0].UserID, list.Users[1].UserID)
	}

	last, err := svc.List(context.Background(), 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(last.Users) != 1 || last.HasMore {
		t.Errorf("last page = %d users, hasMore %v", len(last.Users), last.HasMore)
	}
}

func TestUserDeleteRequiresKey(t *testing.T) {
	svc := NewUserService(&fakeUserStore{}, testLogger())
	if err := svc.Delete(context.Background(), "u1", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Delete() error = %v, want ErrValidation", err)
	}
}

func TestUserUpdateKeepsKey(t *testing.T) {
	store := &fakeUserStore{users: map[string][]domain.UserRecord{
		"u1": {{UserID: "u1", CreatedAt: "2026-08-01T00:00:00Z", Email: "old@example.com"}},
	}}
	svc := NewUserService(store, testLogger())

	user, err := svc.Update(context.Background(), "u1", "", &UserRequest{Email: "new@example.com"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if user.CreatedAt != "2026-08-01T00:00:00Z" {
		t.Errorf("createdAt = %q, want original key", user.CreatedAt)
	}
	if user.Email != "new@example.com" {
		t.Errorf("email = %q", user.Email)
	}
}
