package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/uconnect/uconnect/internal/auth"
	"github.com/uconnect/uconnect/internal/media"
	"github.com/uconnect/uconnect/internal/models"
	"github.com/uconnect/uconnect/pkg/crypto"
	apperrors "github.com/uconnect/uconnect/pkg/errors"
	"github.com/uconnect/uconnect/pkg/logger"
	"github.com/uconnect/uconnect/pkg/metrics"
)

// MinPasswordLength is enforced on signup and password changes.
const MinPasswordLength = 6

// Landing pages returned after a successful login.
const (
	AdminHomePath = "/pages/adminDashboard.html"
	UserHomePath  = "/pages/userHome.html"
)

// SignupInput describes a registration request. Origin is the scheme and
// host the verification link should point at.
type SignupInput struct {
	Name     string
	Username string
	Email    string
	Password string
	Origin   string
	Meta     RequestMeta
}

// SignupResult reports the account awaiting verification.
type SignupResult struct {
	Account  *models.Account
	Token    string
	Reissued bool
}

// LoginInput carries credentials; Identifier is an email or a username.
type LoginInput struct {
	Identifier string
	Password   string
	Meta       RequestMeta
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Account  *models.Account
	Token    string
	Redirect string
}

// ListAccountsOptions controls the admin account listing.
type ListAccountsOptions struct {
	Query    string
	Page     int
	PageSize int
}

// AdminSeed describes the bootstrap administrator.
type AdminSeed struct {
	Name     string
	Username string
	Email    string
	Password string
	Avatar   string
}

// AvatarUpload is a decoded multipart file.
type AvatarUpload struct {
	Filename    string
	Size        int64
	ContentType string
	Reader      io.Reader
}

// AccountOption customises the AccountService.
type AccountOption func(*AccountService)

// WithAllowedDomains sets the email domain allow-list. Empty allows all.
func WithAllowedDomains(domains []string) AccountOption {
	return func(s *AccountService) {
		s.allowedDomains = append([]string(nil), domains...)
	}
}

// WithAccountMedia enables avatar uploads.
func WithAccountMedia(store media.Store, maxBytes int64) AccountOption {
	return func(s *AccountService) {
		s.media = store
		s.maxUploadBytes = maxBytes
	}
}

// WithAccountAudit records account events.
func WithAccountAudit(a *AuditService) AccountOption {
	return func(s *AccountService) {
		s.audit = a
	}
}

// WithAccountClock injects a custom time source.
func WithAccountClock(clock func() time.Time) AccountOption {
	return func(s *AccountService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// AccountService owns the account lifecycle: registration, login, profile
// changes and removal.
type AccountService struct {
	db             *gorm.DB
	tokens         *auth.JWTService
	verification   *VerificationService
	cascade        *CascadeService
	audit          *AuditService
	media          media.Store
	maxUploadBytes int64
	allowedDomains []string
	now            func() time.Time
	log            *zap.Logger
}

// NewAccountService constructs an AccountService instance.
func NewAccountService(db *gorm.DB, tokens *auth.JWTService, verification *VerificationService, cascade *CascadeService, opts ...AccountOption) (*AccountService, error) {
	switch {
	case db == nil:
		return nil, errors.New("account service: db is required")
	case tokens == nil:
		return nil, errors.New("account service: token service is required")
	case verification == nil:
		return nil, errors.New("account service: verification service is required")
	case cascade == nil:
		return nil, errors.New("account service: cascade service is required")
	}

	svc := &AccountService{
		db:           db,
		tokens:       tokens,
		verification: verification,
		cascade:      cascade,
		now:          time.Now,
		log:          logger.WithModule("accounts"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Signup registers an unverified account and sends a verification link. A
// repeat signup for an unverified account reuses the record and reissues the
// link, which revokes the previous one.
func (s *AccountService) Signup(ctx context.Context, input SignupInput) (*SignupResult, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	username := normaliseIdentifier(input.Username)
	email := normaliseIdentifier(input.Email)
	if name == "" || username == "" || email == "" || input.Password == "" {
		return nil, apperrors.NewBadRequest("Missing fields")
	}
	if len(input.Password) < MinPasswordLength {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}

	if !DomainAllowed(email, s.allowedDomains) {
		metrics.Signups.WithLabelValues("rejected").Inc()
		return nil, ErrSignupDomain
	}

	var matches []models.Account
	if err := s.db.WithContext(ctx).
		Where("email = ? OR username = ?", email, username).
		Limit(2).
		Find(&matches).Error; err != nil {
		return nil, fmt.Errorf("account service: lookup existing: %w", err)
	}

	var (
		account  *models.Account
		reissued bool
	)
	switch {
	case len(matches) > 1 || (len(matches) == 1 && (matches[0].Verified || matches[0].Email != email)):
		// A pending account is only reissued to its own address.
		metrics.Signups.WithLabelValues("rejected").Inc()
		return nil, ErrAccountExists
	case len(matches) == 1:
		account = &matches[0]
		reissued = true
	default:
		hashed, err := crypto.HashPassword(input.Password)
		if err != nil {
			return nil, fmt.Errorf("account service: hash password: %w", err)
		}
		account = &models.Account{
			Name:     name,
			Username: username,
			Email:    email,
			Password: hashed,
			Role:     models.RoleUser,
		}
		if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
			if isUniqueConstraintError(err) {
				metrics.Signups.WithLabelValues("rejected").Inc()
				return nil, ErrAccountExists
			}
			return nil, fmt.Errorf("account service: create account: %w", err)
		}
	}

	token, err := s.verification.Issue(ctx, account, input.Origin)
	if err != nil {
		return nil, err
	}

	outcome := "created"
	if reissued {
		outcome = "reissued"
	}
	metrics.Signups.WithLabelValues(outcome).Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:   actorPtr(account.ID),
		Actor:     account.Username,
		Action:    AuditSignup,
		Resource:  "account:" + account.ID,
		Result:    AuditResultSuccess,
		IPAddress: input.Meta.IPAddress,
		UserAgent: input.Meta.UserAgent,
		Metadata:  map[string]any{"outcome": outcome},
	})

	return &SignupResult{Account: account, Token: token, Reissued: reissued}, nil
}

// Login authenticates by email or username. Unknown identifiers and wrong
// passwords produce the same error. Admins skip the domain and verification
// checks.
func (s *AccountService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	ctx = ensureContext(ctx)

	identifier := normaliseIdentifier(input.Identifier)
	if identifier == "" || input.Password == "" {
		return nil, apperrors.NewBadRequest("Missing fields")
	}

	var account models.Account
	err := s.db.WithContext(ctx).
		Where("email = ? OR username = ?", identifier, identifier).
		Order("created_at ASC").
		First(&account).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("account service: lookup account: %w", err)
	}

	if err != nil || !crypto.VerifyPassword(account.Password, input.Password) {
		s.loginFailed(ctx, input, nil, "invalid_credentials")
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}

	if !account.IsAdmin() {
		if !DomainAllowed(account.Email, s.allowedDomains) {
			s.loginFailed(ctx, input, &account, "domain_not_allowed")
			metrics.AuthAttempts.WithLabelValues("domain").Inc()
			return nil, ErrDomainNotAllowed
		}
		if !account.Verified {
			s.loginFailed(ctx, input, &account, "not_verified")
			metrics.AuthAttempts.WithLabelValues("unverified").Inc()
			return nil, ErrNotVerified
		}
	}

	token, err := s.tokens.IssueSession(account.ID, string(account.Role))
	if err != nil {
		return nil, fmt.Errorf("account service: issue session: %w", err)
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:   actorPtr(account.ID),
		Actor:     account.Username,
		Action:    AuditLogin,
		Resource:  "account:" + account.ID,
		Result:    AuditResultSuccess,
		IPAddress: input.Meta.IPAddress,
		UserAgent: input.Meta.UserAgent,
	})

	return &LoginResult{Account: &account, Token: token, Redirect: RedirectFor(account.Role)}, nil
}

func (s *AccountService) loginFailed(ctx context.Context, input LoginInput, account *models.Account, reason string) {
	entry := AuditEntry{
		Actor:     normaliseIdentifier(input.Identifier),
		Action:    AuditLogin,
		Result:    AuditResultFailure,
		IPAddress: input.Meta.IPAddress,
		UserAgent: input.Meta.UserAgent,
		Metadata:  map[string]any{"reason": reason},
	}
	if account != nil {
		entry.ActorID = actorPtr(account.ID)
		entry.Resource = "account:" + account.ID
	}
	recordAudit(s.audit, ctx, entry)
}

// RedirectFor returns the landing page for role.
func RedirectFor(role models.AccountRole) string {
	if role == models.RoleAdmin {
		return AdminHomePath
	}
	return UserHomePath
}

// Get loads an account by id.
func (s *AccountService) Get(ctx context.Context, id string) (*models.Account, error) {
	ctx = ensureContext(ctx)

	var account models.Account
	err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account service: get account: %w", err)
	}
	return &account, nil
}

// UpdateProfile changes display name and username.
func (s *AccountService) UpdateProfile(ctx context.Context, id, name, username string) (*models.Account, error) {
	ctx = ensureContext(ctx)

	name = strings.TrimSpace(name)
	username = normaliseIdentifier(username)
	if name == "" || username == "" {
		return nil, apperrors.NewBadRequest("Name and username are required")
	}

	account, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var taken int64
	if err := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("username = ? AND id <> ?", username, id).
		Count(&taken).Error; err != nil {
		return nil, fmt.Errorf("account service: check username: %w", err)
	}
	if taken > 0 {
		return nil, ErrUsernameTaken
	}

	if err := s.db.WithContext(ctx).
		Model(account).
		Updates(map[string]any{"name": name, "username": username}).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("account service: update profile: %w", err)
	}

	account.Name = name
	account.Username = username
	return account, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *AccountService) ChangePassword(ctx context.Context, id, oldPassword, newPassword string, meta RequestMeta) error {
	ctx = ensureContext(ctx)

	if oldPassword == "" || newPassword == "" {
		return apperrors.NewBadRequest("Missing fields")
	}
	if len(newPassword) < MinPasswordLength {
		return apperrors.NewBadRequest(fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}

	account, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !crypto.VerifyPassword(account.Password, oldPassword) {
		recordAudit(s.audit, ctx, AuditEntry{
			ActorID:   actorPtr(account.ID),
			Actor:     account.Username,
			Action:    AuditPasswordChange,
			Resource:  "account:" + account.ID,
			Result:    AuditResultFailure,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
		})
		return ErrOldPasswordIncorrect
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("account service: hash password: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Model(account).
		Update("password", hashed).Error; err != nil {
		return fmt.Errorf("account service: update password: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:   actorPtr(account.ID),
		Actor:     account.Username,
		Action:    AuditPasswordChange,
		Resource:  "account:" + account.ID,
		Result:    AuditResultSuccess,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// UpdateAvatar stores a new avatar image and quarantines the previous one
// when it was an upload.
func (s *AccountService) UpdateAvatar(ctx context.Context, id string, upload AvatarUpload) (string, error) {
	ctx = ensureContext(ctx)

	if s.media == nil {
		return "", errors.New("account service: media store is not configured")
	}
	if upload.Reader == nil || upload.Filename == "" {
		return "", apperrors.NewBadRequest("No file")
	}
	if kind, err := media.Classify(upload.Filename); err != nil || kind != models.MediaImage {
		return "", ErrUnsupportedMedia
	}
	if err := media.CheckSize(upload.Size, s.maxUploadBytes); err != nil {
		return "", ErrMediaTooLarge.WithInternal(err)
	}

	account, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	obj, err := s.media.Save(ctx, media.AvatarFileName(upload.Filename, s.now()), upload.Reader, upload.Size, upload.ContentType)
	if err != nil {
		return "", fmt.Errorf("account service: save avatar: %w", err)
	}

	previous := account.Avatar
	if err := s.db.WithContext(ctx).
		Model(account).
		Update("avatar", obj.URL).Error; err != nil {
		s.cascade.QuarantineMedia([]string{obj.Name})
		return "", fmt.Errorf("account service: update avatar: %w", err)
	}

	if name, ok := s.media.NameFromURL(previous); ok && name != obj.Name {
		s.cascade.QuarantineMedia([]string{name})
	}
	return obj.URL, nil
}

// Delete removes the account and everything it contributed. trigger is
// "self" or "admin" and only labels metrics and audit entries.
func (s *AccountService) Delete(ctx context.Context, id, actorID, trigger string, meta RequestMeta) (CascadeResult, error) {
	ctx = ensureContext(ctx)

	account, err := s.Get(ctx, id)
	if err != nil {
		return CascadeResult{}, err
	}

	avatar := account.Avatar
	result, err := s.cascade.DeleteAccount(ctx, id)
	if err != nil {
		metrics.CascadeRuns.WithLabelValues(trigger, "failure").Inc()
		s.log.Error("account cascade failed", zap.String("account_id", id), zap.String("trigger", trigger), zap.Error(err))
		recordAudit(s.audit, ctx, AuditEntry{
			ActorID:   actorPtr(actorID),
			Action:    AuditAccountDelete,
			Resource:  "account:" + id,
			Result:    AuditResultFailure,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
			Metadata:  map[string]any{"trigger": trigger},
		})
		if errors.Is(err, ErrAccountNotFound) {
			return CascadeResult{}, err
		}
		return CascadeResult{}, fmt.Errorf("account service: delete account: %w", err)
	}
	metrics.CascadeRuns.WithLabelValues(trigger, "success").Inc()

	if s.media != nil {
		if name, ok := s.media.NameFromURL(avatar); ok {
			result.MediaQueued += s.cascade.QuarantineMedia([]string{name})
		}
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:   actorPtr(actorID),
		Action:    AuditAccountDelete,
		Resource:  "account:" + id,
		Result:    AuditResultSuccess,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Metadata: map[string]any{
			"trigger":          trigger,
			"username":         account.Username,
			"posts_deleted":    result.PostsDeleted,
			"comments_deleted": result.CommentsDeleted,
			"likes_deleted":    result.LikesDeleted,
		},
	})
	return result, nil
}

// List returns accounts whose name, username or email contains the query.
func (s *AccountService) List(ctx context.Context, opts ListAccountsOptions) ([]models.Account, int64, error) {
	ctx = ensureContext(ctx)

	page, perPage := normalisePage(opts.Page, opts.PageSize)

	query := s.db.WithContext(ctx).Model(&models.Account{})
	if q := strings.TrimSpace(opts.Query); q != "" {
		pattern := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(name) LIKE ? OR username LIKE ? OR email LIKE ?", pattern, pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("account service: count accounts: %w", err)
	}

	var accounts []models.Account
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&accounts).Error; err != nil {
		return nil, 0, fmt.Errorf("account service: list accounts: %w", err)
	}
	return accounts, total, nil
}

// EnsureAdmin creates the bootstrap administrator once.
func (s *AccountService) EnsureAdmin(ctx context.Context, seed AdminSeed) (*models.Account, error) {
	ctx = ensureContext(ctx)

	username := normaliseIdentifier(seed.Username)
	email := normaliseIdentifier(seed.Email)
	if username == "" || email == "" || seed.Password == "" {
		return nil, errors.New("account service: admin seed requires username, email and password")
	}

	var existing models.Account
	err := s.db.WithContext(ctx).
		Where("username = ? AND role = ?", username, models.RoleAdmin).
		First(&existing).Error
	if err == nil {
		return nil, ErrAdminExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("account service: lookup admin: %w", err)
	}

	hashed, err := crypto.HashPassword(seed.Password)
	if err != nil {
		return nil, fmt.Errorf("account service: hash password: %w", err)
	}

	now := s.now().UTC()
	admin := &models.Account{
		Name:       strings.TrimSpace(seed.Name),
		Username:   username,
		Email:      email,
		Password:   hashed,
		Role:       models.RoleAdmin,
		Avatar:     strings.TrimSpace(seed.Avatar),
		Verified:   true,
		VerifiedAt: &now,
	}
	if admin.Name == "" {
		admin.Name = "Administrator"
	}

	if err := s.db.WithContext(ctx).Create(admin).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("account service: create admin: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  actorPtr(admin.ID),
		Actor:    admin.Username,
		Action:   AuditAdminSeed,
		Resource: "account:" + admin.ID,
		Result:   AuditResultSuccess,
	})
	return admin, nil
}
