package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"ktransport/internal/db"
	"ktransport/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("KTRANSPORT_TEST_DB")
	if databaseURL == "" {
		t.Skip("KTRANSPORT_TEST_DB not set")
	}
	if err := db.RunMigrations(databaseURL); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	pool, err := db.NewPool(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return NewStore(pool)
}

func newAccount() model.Account {
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.NewString()
	return model.Account{
		User: model.User{
			ID:        id,
			Email:     "rider-" + id + "@ktransport.test",
			FirstName: "Thandi",
			LastName:  "Mokoena",
			Role:      model.RoleCommuter,
			CreatedAt: now,
			UpdatedAt: now,
		},
		PasswordHash: "hash",
	}
}

func TestUserLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	account := newAccount()

	if err := store.CreateUser(ctx, account); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := store.CreateUser(ctx, account); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	got, err := store.GetUserByEmail(ctx, "  "+account.Email+" ")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got.ID != account.ID || got.Role != model.RoleCommuter || got.IsVerified {
		t.Fatalf("unexpected account %+v", got)
	}

	if err := store.MarkVerified(ctx, account.ID, "+27820000009", time.Now()); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	got, err = store.GetUserByID(ctx, account.ID)
	if err != nil || !got.IsVerified || got.Phone != "+27820000009" {
		t.Fatalf("expected verified user with new phone, got %+v %v", got, err)
	}

	if err := store.MarkVerified(ctx, account.ID, "", time.Now()); err != nil {
		t.Fatalf("mark verified without phone: %v", err)
	}
	got, err = store.GetUserByID(ctx, account.ID)
	if err != nil || got.Phone != "+27820000009" {
		t.Fatalf("expected phone to be kept, got %+v %v", got, err)
	}

	if _, err := store.GetUserByID(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRefreshSessionRevocation(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	account := newAccount()
	if err := store.CreateUser(ctx, account); err != nil {
		t.Fatalf("create user: %v", err)
	}

	now := time.Now().UTC()
	for i := 0; i < 2; i++ {
		if err := store.CreateRefreshSession(ctx, model.RefreshSession{
			ID:        uuid.NewString(),
			UserID:    account.ID,
			TokenHash: uuid.NewString(),
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		}); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}
	hash := uuid.NewString()
	if err := store.CreateRefreshSession(ctx, model.RefreshSession{
		ID: uuid.NewString(), UserID: account.ID, TokenHash: hash, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := store.RevokeRefreshSessionsByUser(ctx, account.ID, now); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	session, err := store.GetRefreshSession(ctx, hash)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.Active(now) {
		t.Fatalf("expected revoked session")
	}
	if _, err := store.GetRefreshSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
