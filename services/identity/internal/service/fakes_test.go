package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sodmaq/NestMongo/libs/logging"
	"github.com/sodmaq/NestMongo/services/identity/internal/ephemeral"
	"github.com/sodmaq/NestMongo/services/identity/internal/notify"
	"github.com/sodmaq/NestMongo/services/identity/internal/security"
	"github.com/sodmaq/NestMongo/services/identity/internal/storage"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeDirectory struct {
	mu        sync.Mutex
	clock     security.Clock
	byID      map[uuid.UUID]*storage.User
	byEmail   map[string]uuid.UUID
	lookupErr error
}

func newFakeDirectory(clock security.Clock) *fakeDirectory {
	return &fakeDirectory{
		clock:   clock,
		byID:    map[uuid.UUID]*storage.User{},
		byEmail: map[string]uuid.UUID{},
	}
}

func (d *fakeDirectory) CreateUser(_ context.Context, in storage.NewUser) (*storage.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byEmail[in.Email]; ok {
		return nil, storage.ErrEmailTaken
	}
	now := d.clock.Now()
	u := &storage.User{
		ID:                 uuid.New(),
		Email:              in.Email,
		PasswordHash:       in.PasswordHash,
		FullName:           in.FullName,
		Roles:              append([]string(nil), in.Roles...),
		IsVerified:         in.IsVerified,
		VerificationSentAt: in.VerificationSentAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	d.byID[u.ID] = u
	d.byEmail[u.Email] = u.ID
	return d.public(u), nil
}

// public strips the hash the way the real directory does unless asked.
func (d *fakeDirectory) public(u *storage.User) *storage.User {
	cp := *u
	cp.PasswordHash = ""
	return &cp
}

func (d *fakeDirectory) GetUserByEmail(_ context.Context, email string, withPassword bool) (*storage.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookupErr != nil {
		return nil, d.lookupErr
	}
	id, ok := d.byEmail[email]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if withPassword {
		cp := *d.byID[id]
		return &cp, nil
	}
	return d.public(d.byID[id]), nil
}

func (d *fakeDirectory) GetUserByID(_ context.Context, id uuid.UUID) (*storage.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookupErr != nil {
		return nil, d.lookupErr
	}
	u, ok := d.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return d.public(u), nil
}

func (d *fakeDirectory) MarkVerified(_ context.Context, id uuid.UUID) (*storage.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if u.IsVerified {
		return nil, storage.ErrAlreadyVerified
	}
	u.IsVerified = true
	return d.public(u), nil
}

func (d *fakeDirectory) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (d *fakeDirectory) TouchVerificationSentAt(_ context.Context, id uuid.UUID, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.VerificationSentAt = &at
	return nil
}

func (d *fakeDirectory) ListUsers(_ context.Context, page, limit int) ([]storage.User, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	all := make([]storage.User, 0, len(d.byID))
	for _, u := range d.byID {
		all = append(all, *d.public(u))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	start := (page - 1) * limit
	if start >= len(all) {
		return nil, len(all), nil
	}
	end := min(start+limit, len(all))
	return all[start:end], len(all), nil
}

func (d *fakeDirectory) remove(email string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byID, d.byEmail[email])
	delete(d.byEmail, email)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) last(t *testing.T, template string) notify.Message {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Template == template {
			return n.sent[i]
		}
	}
	t.Fatalf("no %q message sent", template)
	return notify.Message{}
}

var errBoom = errors.New("boom")

type testEnv struct {
	clock    *testClock
	users    *fakeDirectory
	notifier *fakeNotifier
	store    ephemeral.Store
	tokens   *security.TokenIssuer
	identity *IdentityService
	recovery *RecoveryFlow
	guard    *AccessGuard
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return newTestEnvWithStore(t, clock, ephemeral.NewMemoryStoreWithClock(clock.Now))
}

func newTestEnvWithStore(t *testing.T, clock *testClock, store ephemeral.Store) *testEnv {
	t.Helper()

	tokens, err := security.NewTokenIssuer("identity-test",
		security.SigningKey{Secret: []byte("access-secret"), TTL: 15 * time.Minute},
		security.SigningKey{Secret: []byte("refresh-secret"), TTL: 7 * 24 * time.Hour},
		security.SigningKey{Secret: []byte("verification-secret"), TTL: 24 * time.Hour},
		clock,
	)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}

	logger := logging.Discard()
	hasher := security.NewPasswordHasher(security.Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	users := newFakeDirectory(clock)
	notifier := &fakeNotifier{}

	identity := NewIdentityService(users, hasher, tokens, notifier, "http://app.test/", logger, nil)
	identity.clock = clock

	recovery := NewRecoveryFlow(store, users, hasher, security.NewOTPGenerator(bcrypt.MinCost), nil, notifier, DefaultRecoveryConfig(), logger, nil)
	recovery.clock = clock

	return &testEnv{
		clock:    clock,
		users:    users,
		notifier: notifier,
		store:    store,
		tokens:   tokens,
		identity: identity,
		recovery: recovery,
		guard:    NewAccessGuard(tokens, users),
	}
}

// verifiedUser signs up and verifies an account, returning its id.
func (e *testEnv) verifiedUser(t *testing.T, email, password string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	view, err := e.identity.SignUp(ctx, SignUpInput{Email: email, Password: password, FullName: "Test User"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := e.users.MarkVerified(ctx, view.ID); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	return view.ID
}
