package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/uconnect/uconnect/internal/auth"
	"github.com/uconnect/uconnect/internal/models"
	"github.com/uconnect/uconnect/internal/notify"
	"github.com/uconnect/uconnect/pkg/logger"
	"github.com/uconnect/uconnect/pkg/metrics"
)

// VerifyEmailPath is the route consuming verification links.
const VerifyEmailPath = "/api/auth/verify-email"

// VerificationOption customises the VerificationService.
type VerificationOption func(*VerificationService)

// WithVerificationNotifier sets the channel used to deliver links.
func WithVerificationNotifier(n notify.Notifier) VerificationOption {
	return func(s *VerificationService) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithVerificationRunner schedules email delivery in the background.
func WithVerificationRunner(r TaskRunner) VerificationOption {
	return func(s *VerificationService) {
		s.runner = r
	}
}

// WithVerificationAudit records verification outcomes.
func WithVerificationAudit(a *AuditService) VerificationOption {
	return func(s *VerificationService) {
		s.audit = a
	}
}

// WithVerificationClock injects a custom time source.
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(s *VerificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// VerificationService moves accounts from unverified to verified. The last
// issued token is mirrored on the account so reissuing revokes older links.
type VerificationService struct {
	db       *gorm.DB
	tokens   *auth.JWTService
	notifier notify.Notifier
	runner   TaskRunner
	audit    *AuditService
	now      func() time.Time
	log      *zap.Logger
}

// NewVerificationService constructs a verification service with the provided dependencies.
func NewVerificationService(db *gorm.DB, tokens *auth.JWTService, opts ...VerificationOption) (*VerificationService, error) {
	if db == nil {
		return nil, errors.New("verification service: db is required")
	}
	if tokens == nil {
		return nil, errors.New("verification service: token service is required")
	}

	service := &VerificationService{
		db:     db,
		tokens: tokens,
		now:    time.Now,
		log:    logger.WithModule("verification"),
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.notifier == nil {
		service.notifier = notify.NewLogNotifier(service.log)
	}
	return service, nil
}

// VerificationLink builds the absolute link mailed to the user.
func VerificationLink(origin, token string) string {
	return strings.TrimRight(origin, "/") + VerifyEmailPath + "?token=" + url.QueryEscape(token)
}

// Issue mints a verification token for account, stores it as the pending
// token and schedules the email. Any previously issued link stops working.
func (s *VerificationService) Issue(ctx context.Context, account *models.Account, origin string) (string, error) {
	ctx = ensureContext(ctx)
	if account == nil || account.ID == "" {
		return "", errors.New("verification service: account is required")
	}

	token, expiresAt, err := s.tokens.IssueVerification(account.ID, account.Email)
	if err != nil {
		return "", fmt.Errorf("verification service: issue token: %w", err)
	}

	result := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND verified = ?", account.ID, false).
		Updates(map[string]any{
			"pending_token":            token,
			"pending_token_expires_at": expiresAt.UTC(),
		})
	if result.Error != nil {
		return "", fmt.Errorf("verification service: store pending token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", ErrAccountExists
	}

	account.PendingToken = token
	account.PendingTokenExpiresAt = &expiresAt

	link := VerificationLink(origin, token)
	to := account.Email
	if err := dispatch(s.runner, "email.verification", func(taskCtx context.Context) error {
		if err := s.notifier.SendVerificationEmail(taskCtx, to, link); err != nil {
			metrics.VerificationEmails.WithLabelValues("failed").Inc()
			return fmt.Errorf("send verification email to %s: %w", to, err)
		}
		metrics.VerificationEmails.WithLabelValues("sent").Inc()
		return nil
	}); err != nil {
		s.log.Warn("verification email not delivered", zap.String("account_id", account.ID), zap.Error(err))
	}

	return token, nil
}

// Consume validates token and marks its account verified. Consuming a token
// for an account that is already verified succeeds without changes.
func (s *VerificationService) Consume(ctx context.Context, token string) (*models.Account, error) {
	ctx = ensureContext(ctx)
	token = strings.TrimSpace(token)

	claims, err := s.tokens.VerifyVerification(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			metrics.Verifications.WithLabelValues("expired").Inc()
			return nil, ErrTokenExpired.WithInternal(err)
		}
		metrics.Verifications.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidToken.WithInternal(err)
	}

	var account models.Account
	if err := s.db.WithContext(ctx).First(&account, "id = ?", claims.AccountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.Verifications.WithLabelValues("invalid").Inc()
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("verification service: load account: %w", err)
	}

	if account.Email != normaliseIdentifier(claims.Email()) {
		metrics.Verifications.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidToken
	}

	if account.Verified {
		metrics.Verifications.WithLabelValues("already_verified").Inc()
		return &account, nil
	}

	if account.PendingToken != token {
		metrics.Verifications.WithLabelValues("mismatch").Inc()
		return nil, ErrTokenMismatch
	}

	now := s.now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND pending_token = ? AND verified = ?", account.ID, token, false).
		Updates(map[string]any{
			"verified":                 true,
			"verified_at":              now,
			"pending_token":            "",
			"pending_token_expires_at": nil,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("verification service: mark verified: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		// Lost a race: either the same link was consumed concurrently or a
		// new one was issued in between.
		if err := s.db.WithContext(ctx).First(&account, "id = ?", account.ID).Error; err != nil {
			return nil, fmt.Errorf("verification service: reload account: %w", err)
		}
		if account.Verified {
			metrics.Verifications.WithLabelValues("already_verified").Inc()
			return &account, nil
		}
		metrics.Verifications.WithLabelValues("mismatch").Inc()
		return nil, ErrTokenMismatch
	}

	account.Verified = true
	account.VerifiedAt = &now
	account.PendingToken = ""
	account.PendingTokenExpiresAt = nil

	metrics.Verifications.WithLabelValues("verified").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  actorPtr(account.ID),
		Actor:    account.Username,
		Action:   AuditVerify,
		Resource: "account:" + account.ID,
		Result:   AuditResultSuccess,
	})
	return &account, nil
}

// ClearExpiredPendingTokens drops pending tokens whose expiry has passed.
func (s *VerificationService) ClearExpiredPendingTokens(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("verified = ? AND pending_token_expires_at IS NOT NULL AND pending_token_expires_at < ?", false, s.now().UTC()).
		Updates(map[string]any{
			"pending_token":            "",
			"pending_token_expires_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("verification service: clear expired tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}
