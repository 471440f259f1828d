package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/uconnect/uconnect/internal/api"
	"github.com/uconnect/uconnect/internal/app"
	iauth "github.com/uconnect/uconnect/internal/auth"
	sharedtestutil "github.com/uconnect/uconnect/internal/database/testutil"
	"github.com/uconnect/uconnect/internal/media"
	"github.com/uconnect/uconnect/internal/middleware"
	"github.com/uconnect/uconnect/internal/models"
	"github.com/uconnect/uconnect/internal/monitoring"
	"github.com/uconnect/uconnect/internal/services"
	"github.com/uconnect/uconnect/pkg/crypto"
	"github.com/uconnect/uconnect/pkg/response"
)

// Campus domain accepted by the environment's allow-list.
const (
	CampusDomain  = "campus.edu"
	AdminPassword = "admin-secret-123"
)

// Mail records verification emails instead of delivering them.
type Mail struct {
	mu    sync.Mutex
	links map[string]string
}

// SendVerificationEmail implements notify.Notifier.
func (m *Mail) SendVerificationEmail(_ context.Context, to, verifyURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links == nil {
		m.links = make(map[string]string)
	}
	m.links[to] = verifyURL
	return nil
}

// LinkFor returns the most recent verification link mailed to address.
func (m *Mail) LinkFor(address string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[address]
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T            *testing.T
	DB           *gorm.DB
	Router       *gin.Engine
	JWT          *iauth.JWTService
	Config       *app.Config
	Mail         *Mail
	Media        *media.LocalStore
	Accounts     *services.AccountService
	Verification *services.VerificationService
	Posts        *services.PostService
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	root := t.TempDir()
	cfg := &app.Config{
		Server: app.ServerConfig{
			PublicURL:  "http://uconnect.test",
			SigninPath: "/pages/signin.html",
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret:          "test-suite-super-secret-key-32-bytes!!",
				Issuer:          "test-suite",
				SessionTTL:      time.Hour,
				VerificationTTL: time.Hour,
			},
			AllowedDomains: []string{CampusDomain},
		},
		Media: app.MediaConfig{
			Backend:        "local",
			UploadDir:      filepath.Join(root, "uploads"),
			QuarantineDir:  filepath.Join(root, "uploads", "deleted"),
			PublicPrefix:   "/uploads",
			MaxUploadBytes: 1 << 20,
		},
		RateLimit: app.RateLimitConfig{Requests: 1000, Window: time.Minute},
		Admin: app.AdminConfig{
			Name:     "UConnect Admin",
			Username: "uconnect",
			Email:    "admin@uconnect.com",
			Password: AdminPassword,
		},
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	store, err := media.NewLocalStore(cfg.Media.LocalStoreConfig())
	require.NoError(t, err)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	mail := &Mail{}
	verification, err := services.NewVerificationService(db, jwtSvc,
		services.WithVerificationNotifier(mail),
		services.WithVerificationAudit(audit),
	)
	require.NoError(t, err)

	cascade, err := services.NewCascadeService(db, store, nil)
	require.NoError(t, err)

	accounts, err := services.NewAccountService(db, jwtSvc, verification, cascade,
		services.WithAllowedDomains(cfg.Auth.AllowedDomains),
		services.WithAccountMedia(store, cfg.Media.MaxUploadBytes),
		services.WithAccountAudit(audit),
	)
	require.NoError(t, err)

	posts, err := services.NewPostService(db, cascade,
		services.WithPostMedia(store, cfg.Media.MaxUploadBytes),
		services.WithPostAudit(audit),
	)
	require.NoError(t, err)

	router, err := api.NewRouter(api.Dependencies{
		Config:       cfg,
		JWT:          jwtSvc,
		Accounts:     accounts,
		Verification: verification,
		Posts:        posts,
		Audit:        audit,
		RateStore:    middleware.NewMemoryRateStore(),
		Monitoring:   monitoring.NewModule(monitoring.Options{}),
	})
	require.NoError(t, err)

	return &Env{
		T:            t,
		DB:           db,
		Router:       router,
		JWT:          jwtSvc,
		Config:       cfg,
		Mail:         mail,
		Media:        store,
		Accounts:     accounts,
		Verification: verification,
		Posts:        posts,
	}
}

// CreateAccount inserts an account directly and returns the record.
func (e *Env) CreateAccount(username, email, password string, role models.AccountRole, verified bool) *models.Account {
	e.T.Helper()

	hashed, err := crypto.HashPassword(password)
	require.NoError(e.T, err)

	account := &models.Account{
		Name:     "Test " + username,
		Username: username,
		Email:    email,
		Password: hashed,
		Role:     role,
		Verified: verified,
	}
	require.NoError(e.T, e.DB.Create(account).Error)
	return account
}

// AccountPayload captures the account fields returned from auth endpoints.
type AccountPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
	Role     string `json:"role"`
	Verified bool   `json:"verified"`
}

// LoginResult bundles the JSON response from POST /api/auth/login.
type LoginResult struct {
	Redirect string         `json:"redirect"`
	Token    string         `json:"token"`
	Account  AccountPayload `json:"account"`
}

// Login authenticates and returns the issued session.
func (e *Env) Login(identifier, password string) LoginResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": identifier,
		"password":   password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.Token)
	return result
}

// LoginAs creates a verified account and returns its session token.
func (e *Env) LoginAs(username string, role models.AccountRole) (*models.Account, string) {
	e.T.Helper()
	const password = "password123"
	account := e.CreateAccount(username, username+"@"+CampusDomain, password, role, true)
	return account, e.Login(username, password).Token
}

// VerificationToken extracts the token from the last link mailed to address.
func (e *Env) VerificationToken(address string) string {
	e.T.Helper()
	link := e.Mail.LinkFor(address)
	require.NotEmpty(e.T, link, "no verification email for %s", address)
	parsed, err := url.Parse(link)
	require.NoError(e.T, err)
	return parsed.Query().Get("token")
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and a bearer token.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.Do(req)
}

// RequestWithCookie executes a body-less request authenticated through the session cookie.
func (e *Env) RequestWithCookie(method, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	e.T.Helper()

	req, err := http.NewRequest(method, path, nil)
	require.NoError(e.T, err)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return e.Do(req)
}

// Upload describes a file part of a multipart request.
type Upload struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Multipart executes a multipart/form-data request.
func (e *Env) Multipart(method, path string, fields map[string]string, files []Upload, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		require.NoError(e.T, writer.WriteField(key, value))
	}
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+f.Field+`"; filename="`+f.Filename+`"`)
		header.Set("Content-Type", f.ContentType)
		part, err := writer.CreatePart(header)
		require.NoError(e.T, err)
		_, err = part.Write(f.Data)
		require.NoError(e.T, err)
	}
	require.NoError(e.T, writer.Close())

	req, err := http.NewRequest(method, path, &buf)
	require.NoError(e.T, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.Do(req)
}

// Do serves req through the router.
func (e *Env) Do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// SessionCookie returns the session cookie set on w, if any.
func SessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			return c
		}
	}
	return nil
}
