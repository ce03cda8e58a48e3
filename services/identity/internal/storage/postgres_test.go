package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sodmaq/NestMongo/services/identity/internal/storage/migrations"
	"github.com/sodmaq/NestMongo/services/testutil"
)

func TestClampPage(t *testing.T) {
	page, limit := clampPage(0, 0)
	if page != 1 || limit != 10 {
		t.Fatalf("expected defaults 1/10, got %d/%d", page, limit)
	}
	page, limit = clampPage(3, 500)
	if page != 3 || limit != 100 {
		t.Fatalf("expected 3/100, got %d/%d", page, limit)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) == 0 {
		t.Fatalf("expected embedded migrations")
	}
}

func setupStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}

	pool, err := testutil.SetupTestDB()
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	t.Cleanup(pool.Close)

	ctx := context.Background()
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = testutil.CleanupTestData(context.Background(), pool) })
	return New(pool), ctx
}

func TestUserLifecycleIntegration(t *testing.T) {
	store, ctx := setupStore(t)

	sentAt := time.Now().UTC().Truncate(time.Second)
	email := testutil.UniqueEmail("lifecycle")
	created, err := store.CreateUser(ctx, NewUser{
		Email:              email,
		PasswordHash:       "hash-1",
		FullName:           "Ada Lovelace",
		VerificationSentAt: &sentAt,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.ID == uuid.Nil || created.IsVerified {
		t.Fatalf("unexpected created user %+v", created)
	}
	if len(created.Roles) != 1 || created.Roles[0] != RoleUser {
		t.Fatalf("expected default role, got %v", created.Roles)
	}
	if created.PasswordHash != "" {
		t.Fatalf("expected password hash omitted")
	}

	if _, err := store.CreateUser(ctx, NewUser{Email: email, PasswordHash: "x", FullName: "dup"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	plain, err := store.GetUserByEmail(ctx, email, false)
	if err != nil || plain.PasswordHash != "" {
		t.Fatalf("expected user without hash, got %+v, %v", plain, err)
	}
	withHash, err := store.GetUserByEmail(ctx, email, true)
	if err != nil || withHash.PasswordHash != "hash-1" {
		t.Fatalf("expected user with hash, got %+v, %v", withHash, err)
	}

	verified, err := store.MarkVerified(ctx, created.ID)
	if err != nil || !verified.IsVerified {
		t.Fatalf("mark verified: %+v, %v", verified, err)
	}
	if _, err := store.MarkVerified(ctx, created.ID); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected ErrAlreadyVerified, got %v", err)
	}

	if err := store.UpdatePassword(ctx, created.ID, "hash-2"); err != nil {
		t.Fatalf("update password: %v", err)
	}
	withHash, _ = store.GetUserByEmail(ctx, email, true)
	if withHash.PasswordHash != "hash-2" {
		t.Fatalf("expected updated hash, got %q", withHash.PasswordHash)
	}

	if _, err := store.GetUserByID(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.MarkVerified(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing user, got %v", err)
	}
}

func TestMarkVerifiedConcurrentIntegration(t *testing.T) {
	store, ctx := setupStore(t)

	user, err := store.CreateUser(ctx, NewUser{
		Email:        testutil.UniqueEmail("race"),
		PasswordHash: "hash",
		FullName:     "Race",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.MarkVerified(ctx, user.ID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful verification, got %d", successes)
	}
}

func TestListUsersIntegration(t *testing.T) {
	store, ctx := setupStore(t)

	for i := 0; i < 3; i++ {
		if _, err := store.CreateUser(ctx, NewUser{
			Email:        testutil.UniqueEmail("list"),
			PasswordHash: "hash",
			FullName:     "List",
		}); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	items, total, err := store.ListUsers(ctx, 1, 2)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if total < 3 {
		t.Fatalf("expected total >= 3, got %d", total)
	}
	if len(items) != 2 {
		t.Fatalf("expected page of 2, got %d", len(items))
	}
	if items[0].CreatedAt.Before(items[1].CreatedAt) {
		t.Fatalf("expected newest first")
	}
}
