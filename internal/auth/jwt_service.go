package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultSessionTTL defines the fallback validity period for session tokens.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultVerificationTTL defines the fallback validity period for email verification links.
	DefaultVerificationTTL = 24 * time.Hour
)

// Purpose distinguishes what a token may be used for.
type Purpose string

const (
	PurposeSession      Purpose = "session"
	PurposeVerification Purpose = "email_verification"
)

// Payload keys used by the built-in token shapes.
const (
	ClaimRole  = "role"
	ClaimEmail = "email"
)

var (
	// ErrTokenExpired is returned when a token carries a valid signature but is past its expiry.
	ErrTokenExpired = errors.New("jwt: token expired")
	// ErrTokenInvalid covers malformed, forged or wrongly scoped tokens.
	ErrTokenInvalid = errors.New("jwt: token invalid")
)

// JWTConfig bundles the configuration required to build a JWTService.
type JWTConfig struct {
	Secret          string
	Issuer          string
	SessionTTL      time.Duration
	VerificationTTL time.Duration
	Clock           func() time.Time
}

// Claims represents the custom claims embedded in issued JWTs. The payload is
// opaque to the service; helpers below give it a shape for each purpose.
type Claims struct {
	AccountID string            `json:"uid"`
	Purpose   Purpose           `json:"typ"`
	Payload   map[string]string `json:"data,omitempty"`
	jwt.RegisteredClaims
}

// Role returns the role carried by a session token.
func (c *Claims) Role() string { return c.Payload[ClaimRole] }

// Email returns the address carried by a verification token.
func (c *Claims) Email() string { return c.Payload[ClaimEmail] }

// JWTService is responsible for issuing and validating JSON Web Tokens.
type JWTService struct {
	secret          []byte
	issuer          string
	sessionTTL      time.Duration
	verificationTTL time.Duration
	now             func() time.Time
}

// NewJWTService constructs a JWTService instance when provided with the required configuration.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	verificationTTL := cfg.VerificationTTL
	if verificationTTL <= 0 {
		verificationTTL = DefaultVerificationTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTService{
		secret:          []byte(cfg.Secret),
		issuer:          cfg.Issuer,
		sessionTTL:      sessionTTL,
		verificationTTL: verificationTTL,
		now:             now,
	}, nil
}

// SessionTTL reports the lifetime applied to session tokens.
func (s *JWTService) SessionTTL() time.Duration { return s.sessionTTL }

// VerificationTTL reports the lifetime applied to verification tokens.
func (s *JWTService) VerificationTTL() time.Duration { return s.verificationTTL }

// Issue signs claims with the given lifetime. Registered claims are always
// overwritten so every token carries a fresh id and the service issuer.
func (s *JWTService) Issue(claims Claims, ttl time.Duration) (string, error) {
	if claims.AccountID == "" {
		return "", errors.New("jwt: account id is required")
	}
	if claims.Purpose == "" {
		return "", errors.New("jwt: purpose is required")
	}
	if ttl <= 0 {
		return "", errors.New("jwt: ttl must be positive")
	}

	now := s.now()
	claims.Payload = clonePayload(claims.Payload)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   claims.AccountID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer and expiry. Failures wrap either
// ErrTokenExpired or ErrTokenInvalid.
func (s *JWTService) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: token string is empty", ErrTokenInvalid)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var claims Claims
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	if claims.AccountID == "" || claims.Purpose == "" {
		return nil, fmt.Errorf("%w: missing subject or purpose", ErrTokenInvalid)
	}
	return &claims, nil
}

// IssueSession issues a session token carrying the account id and role.
func (s *JWTService) IssueSession(accountID, role string) (string, error) {
	return s.Issue(Claims{
		AccountID: accountID,
		Purpose:   PurposeSession,
		Payload:   map[string]string{ClaimRole: role},
	}, s.sessionTTL)
}

// VerifySession accepts only tokens issued for sessions.
func (s *JWTService) VerifySession(token string) (*Claims, error) {
	return s.verifyPurpose(token, PurposeSession)
}

// IssueVerification issues an email verification token and returns its expiry.
func (s *JWTService) IssueVerification(accountID, email string) (string, time.Time, error) {
	expiresAt := s.now().Add(s.verificationTTL)
	token, err := s.Issue(Claims{
		AccountID: accountID,
		Purpose:   PurposeVerification,
		Payload:   map[string]string{ClaimEmail: email},
	}, s.verificationTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// VerifyVerification accepts only email verification tokens.
func (s *JWTService) VerifyVerification(token string) (*Claims, error) {
	return s.verifyPurpose(token, PurposeVerification)
}

func (s *JWTService) verifyPurpose(token string, purpose Purpose) (*Claims, error) {
	claims, err := s.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != purpose {
		return nil, fmt.Errorf("%w: expected %s token, got %s", ErrTokenInvalid, purpose, claims.Purpose)
	}
	return claims, nil
}

// clonePayload guards against accidental external mutation of issued claims.
func clonePayload(payload map[string]string) map[string]string {
	if len(payload) == 0 {
		return nil
	}

	cpy := make(map[string]string, len(payload))
	for k, v := range payload {
		cpy[k] = v
	}
	return cpy
}
