package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, clock func() time.Time) *JWTService {
	t.Helper()
	svc, err := NewJWTService(JWTConfig{
		Secret:          "super-secret",
		Issuer:          "uconnect",
		SessionTTL:      time.Hour,
		VerificationTTL: 24 * time.Hour,
		Clock:           clock,
	})
	require.NoError(t, err)
	return svc
}

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.EqualError(t, err, "jwt: secret must be provided")
}

func TestNewJWTServiceDefaults(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: "s"})
	require.NoError(t, err)
	require.Equal(t, DefaultSessionTTL, svc.SessionTTL())
	require.Equal(t, DefaultVerificationTTL, svc.VerificationTTL())
}

func TestIssueAndVerifySession(t *testing.T) {
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, func() time.Time { return current })

	token, err := svc.IssueSession("acct-123", "admin")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.VerifySession(token)
	require.NoError(t, err)
	require.Equal(t, "acct-123", claims.AccountID)
	require.Equal(t, "acct-123", claims.Subject)
	require.Equal(t, "admin", claims.Role())
	require.Equal(t, PurposeSession, claims.Purpose)
	require.Equal(t, "uconnect", claims.Issuer)
	require.True(t, claims.IssuedAt.Time.Equal(current))
	require.True(t, claims.ExpiresAt.Time.Equal(current.Add(time.Hour)))
}

func TestIssueClonesPayload(t *testing.T) {
	svc := newTestService(t, nil)

	payload := map[string]string{"k": "v"}
	token, err := svc.Issue(Claims{AccountID: "a", Purpose: "custom", Payload: payload}, time.Minute)
	require.NoError(t, err)
	payload["k"] = "mutated"

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "v", claims.Payload["k"])
}

func TestIssueRejectsIncompleteClaims(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.Issue(Claims{Purpose: PurposeSession}, time.Minute)
	require.Error(t, err)
	_, err = svc.Issue(Claims{AccountID: "a"}, time.Minute)
	require.Error(t, err)
	_, err = svc.Issue(Claims{AccountID: "a", Purpose: PurposeSession}, 0)
	require.Error(t, err)
}

func TestIssueProducesDistinctTokensForSameClaims(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, func() time.Time { return fixed })

	first, _, err := svc.IssueVerification("acct", "kim@campus.edu")
	require.NoError(t, err)
	second, _, err := svc.IssueVerification("acct", "kim@campus.edu")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestVerifyExpired(t *testing.T) {
	current := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	svc := newTestService(t, func() time.Time { return current })

	token, err := svc.IssueSession("acct-123", "user")
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)

	_, err = svc.VerifySession(token)
	require.ErrorIs(t, err, ErrTokenExpired)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
	require.False(t, errors.Is(err, ErrTokenInvalid))
}

func TestVerifyInvalidSignature(t *testing.T) {
	issuer := newTestService(t, nil)
	token, err := issuer.IssueSession("acct-123", "user")
	require.NoError(t, err)

	verifier, err := NewJWTService(JWTConfig{Secret: "other-secret", Issuer: "uconnect"})
	require.NoError(t, err)

	_, err = verifier.VerifySession(token)
	require.ErrorIs(t, err, ErrTokenInvalid)
	require.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestVerifyRejectsUnexpectedAlgorithm(t *testing.T) {
	svc := newTestService(t, nil)

	claims := &Claims{
		AccountID: "acct",
		Purpose:   PurposeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "uconnect",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString([]byte("super-secret"))
	require.NoError(t, err)

	_, err = svc.Verify(signed)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRejectsMalformedAndEmpty(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.Verify("")
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.Verify("not.a.jwt")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestPurposeIsEnforced(t *testing.T) {
	svc := newTestService(t, nil)

	verification, _, err := svc.IssueVerification("acct", "kim@campus.edu")
	require.NoError(t, err)
	_, err = svc.VerifySession(verification)
	require.ErrorIs(t, err, ErrTokenInvalid)

	session, err := svc.IssueSession("acct", "user")
	require.NoError(t, err)
	_, err = svc.VerifyVerification(session)
	require.ErrorIs(t, err, ErrTokenInvalid)

	claims, err := svc.VerifyVerification(verification)
	require.NoError(t, err)
	require.Equal(t, "kim@campus.edu", claims.Email())
}

func TestIssueVerificationReportsExpiry(t *testing.T) {
	current := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	svc := newTestService(t, func() time.Time { return current })

	_, expiresAt, err := svc.IssueVerification("acct", "kim@campus.edu")
	require.NoError(t, err)
	require.Equal(t, current.Add(24*time.Hour), expiresAt)
}
