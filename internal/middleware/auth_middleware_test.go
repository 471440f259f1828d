package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/uconnect/uconnect/internal/auth"
	"github.com/uconnect/uconnect/pkg/response"
)

func newTestJWT(t *testing.T, clock func() time.Time) *iauth.JWTService {
	t.Helper()
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:     "secret",
		Issuer:     "test-suite",
		SessionTTL: time.Minute,
		Clock:      clock,
	})
	require.NoError(t, err)
	return jwtSvc
}

func newAuthRouter(jwtSvc *iauth.JWTService) *gin.Engine {
	r := gin.New()
	r.GET("/secure", Auth(jwtSvc), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"account_id": c.GetString(CtxAccountIDKey),
			"role":       c.GetString(CtxRoleKey),
		})
	})
	r.GET("/admin", Auth(jwtSvc), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var payload response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.False(t, payload.Success)
	require.NotNil(t, payload.Error)
	return payload.Error.Code
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	jwtSvc := newTestJWT(t, nil)
	token, err := jwtSvc.IssueSession("account-123", "user")
	require.NoError(t, err)

	r := newAuthRouter(jwtSvc)

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/secure", nil))
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Equal(t, "AUTH_TOKEN_MISSING", decodeError(t, w))
	})

	t.Run("bearer header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/secure", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var payload map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
		require.Equal(t, "account-123", payload["account_id"])
		require.Equal(t, "user", payload["role"])
	})

	t.Run("cookie wins over header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/secure", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
		req.Header.Set("Authorization", "Bearer garbage")
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/secure", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Equal(t, "AUTH_TOKEN_INVALID", decodeError(t, w))
	})

	t.Run("verification token is not a session", func(t *testing.T) {
		verifyToken, _, err := jwtSvc.IssueVerification("account-123", "a@campus.edu")
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/secure", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: verifyToken})
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Equal(t, "AUTH_TOKEN_INVALID", decodeError(t, w))
	})
}

func TestAuthMiddlewareExpiredToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Now()
	issuer := newTestJWT(t, func() time.Time { return now.Add(-time.Hour) })
	token, err := issuer.IssueSession("account-123", "user")
	require.NoError(t, err)

	r := newAuthRouter(newTestJWT(t, func() time.Time { return now }))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "AUTH_TOKEN_EXPIRED", decodeError(t, w))
}

func TestRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	jwtSvc := newTestJWT(t, nil)
	r := newAuthRouter(jwtSvc)

	userToken, err := jwtSvc.IssueSession("user-1", "user")
	require.NoError(t, err)
	adminToken, err := jwtSvc.IssueSession("admin-1", "admin")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: userToken})
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "FORBIDDEN", decodeError(t, w))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: adminToken})
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
}
