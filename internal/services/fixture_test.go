package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/uconnect/uconnect/internal/auth"
	"github.com/uconnect/uconnect/internal/database/testutil"
	"github.com/uconnect/uconnect/internal/media"
	"github.com/uconnect/uconnect/internal/models"
	"github.com/uconnect/uconnect/pkg/crypto"
)

const testPassword = "password123"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentEmail struct {
	To  string
	URL string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (n *recordingNotifier) SendVerificationEmail(_ context.Context, to, url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEmail{To: to, URL: url})
	return n.err
}

func (n *recordingNotifier) Sent() []sentEmail {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentEmail(nil), n.sent...)
}

type fixture struct {
	db           *gorm.DB
	clock        *testClock
	tokens       *auth.JWTService
	notifier     *recordingNotifier
	store        *media.LocalStore
	audit        *AuditService
	verification *VerificationService
	cascade      *CascadeService
	accounts     *AccountService
	posts        *PostService
}

type fixtureConfig struct {
	domains []string
}

func withDomains(domains ...string) func(*fixtureConfig) {
	return func(c *fixtureConfig) { c.domains = domains }
}

func newFixture(t *testing.T, opts ...func(*fixtureConfig)) *fixture {
	t.Helper()

	cfg := fixtureConfig{domains: []string{"campus.edu"}}
	for _, opt := range opts {
		opt(&cfg)
	}

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()

	tokens, err := auth.NewJWTService(auth.JWTConfig{
		Secret:          "test-secret",
		Issuer:          "uconnect",
		SessionTTL:      24 * time.Hour,
		VerificationTTL: 24 * time.Hour,
		Clock:           clock.Now,
	})
	require.NoError(t, err)

	root := t.TempDir()
	store, err := media.NewLocalStore(media.LocalConfig{
		UploadDir:     filepath.Join(root, "uploads"),
		QuarantineDir: filepath.Join(root, "uploads", "deleted"),
		PublicPrefix:  "/uploads",
	})
	require.NoError(t, err)

	audit, err := NewAuditService(db)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	verification, err := NewVerificationService(db, tokens,
		WithVerificationNotifier(notifier),
		WithVerificationAudit(audit),
		WithVerificationClock(clock.Now),
	)
	require.NoError(t, err)

	cascade, err := NewCascadeService(db, store, nil)
	require.NoError(t, err)

	accounts, err := NewAccountService(db, tokens, verification, cascade,
		WithAllowedDomains(cfg.domains),
		WithAccountMedia(store, 0),
		WithAccountAudit(audit),
		WithAccountClock(clock.Now),
	)
	require.NoError(t, err)

	posts, err := NewPostService(db, cascade,
		WithPostMedia(store, 0),
		WithPostAudit(audit),
		WithPostClock(clock.Now),
	)
	require.NoError(t, err)

	return &fixture{
		db:           db,
		clock:        clock,
		tokens:       tokens,
		notifier:     notifier,
		store:        store,
		audit:        audit,
		verification: verification,
		cascade:      cascade,
		accounts:     accounts,
		posts:        posts,
	}
}

// createAccount inserts an account directly, bypassing signup.
func (f *fixture) createAccount(t *testing.T, username, email string, role models.AccountRole, verified bool) *models.Account {
	t.Helper()

	hashed, err := crypto.HashPassword(testPassword)
	require.NoError(t, err)

	account := &models.Account{
		Name:     username,
		Username: username,
		Email:    email,
		Password: hashed,
		Role:     role,
		Verified: verified,
	}
	require.NoError(t, f.db.Create(account).Error)
	return account
}

func (f *fixture) signup(t *testing.T, username, email string) *SignupResult {
	t.Helper()
	res, err := f.accounts.Signup(context.Background(), SignupInput{
		Name:     "Student " + username,
		Username: username,
		Email:    email,
		Password: testPassword,
		Origin:   "http://localhost:3000",
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) reload(t *testing.T, id string) models.Account {
	t.Helper()
	var account models.Account
	require.NoError(t, f.db.First(&account, "id = ?", id).Error)
	return account
}

func principal(a *models.Account) Principal {
	return Principal{AccountID: a.ID, Role: a.Role}
}
