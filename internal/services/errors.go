package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/uconnect/uconnect/pkg/errors"
)

// Account lifecycle errors rendered to API clients.
var (
	ErrInvalidCredentials   = apperrors.New("INVALID_CREDENTIALS", "Invalid credentials", http.StatusBadRequest)
	ErrDomainNotAllowed     = apperrors.New("DOMAIN_NOT_ALLOWED", "Only university email accounts are allowed.", http.StatusForbidden)
	ErrSignupDomain         = apperrors.New("DOMAIN_NOT_ALLOWED", "Please use your university email to sign up.", http.StatusBadRequest)
	ErrNotVerified          = apperrors.New("NOT_VERIFIED", "Please verify your email first.", http.StatusForbidden)
	ErrAccountExists        = apperrors.New("ACCOUNT_EXISTS", "User already exists.", http.StatusConflict)
	ErrAdminExists          = apperrors.New("ADMIN_EXISTS", "Admin already exists", http.StatusConflict)
	ErrUsernameTaken        = apperrors.New("USERNAME_TAKEN", "Username already taken", http.StatusConflict)
	ErrOldPasswordIncorrect = apperrors.New("OLD_PASSWORD_INCORRECT", "Old password incorrect", http.StatusBadRequest)
	ErrAccountNotFound      = apperrors.New("ACCOUNT_NOT_FOUND", "User not found", http.StatusNotFound)
)

// Verification errors.
var (
	ErrInvalidToken  = apperrors.New("INVALID_TOKEN", "Invalid token", http.StatusBadRequest)
	ErrTokenExpired  = apperrors.New("TOKEN_EXPIRED", "Verification link expired, please sign up again", http.StatusBadRequest)
	ErrTokenMismatch = apperrors.New("TOKEN_MISMATCH", "Token mismatch", http.StatusBadRequest)
)

// Content errors.
var (
	ErrPostNotFound     = apperrors.New("POST_NOT_FOUND", "Post not found", http.StatusNotFound)
	ErrCommentNotFound  = apperrors.New("COMMENT_NOT_FOUND", "Comment not found", http.StatusNotFound)
	ErrEmptyPost        = apperrors.New("EMPTY_POST", "Post cannot be empty", http.StatusBadRequest)
	ErrEmptyComment     = apperrors.New("EMPTY_COMMENT", "Empty comment", http.StatusBadRequest)
	ErrInvalidCategory  = apperrors.New("INVALID_CATEGORY", "Invalid category", http.StatusBadRequest)
	ErrUnsupportedMedia = apperrors.New("UNSUPPORTED_MEDIA", "Only image/video files allowed", http.StatusBadRequest)
	ErrMediaTooLarge    = apperrors.New("MEDIA_TOO_LARGE", "File too large", http.StatusRequestEntityTooLarge)
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate")
}

// isForeignKeyError reports a write that referenced a row which no longer
// exists, such as an account removed while its session is still valid.
func isForeignKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23503" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1452 {
		return true
	}

	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint")
}
