package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/uconnect/uconnect/internal/middleware"
	"github.com/uconnect/uconnect/internal/models"
	"github.com/uconnect/uconnect/internal/services"
	apperrors "github.com/uconnect/uconnect/pkg/errors"
	"github.com/uconnect/uconnect/pkg/logger"
	"github.com/uconnect/uconnect/pkg/response"
)

// AuthConfig carries the HTTP-facing settings of the account endpoints.
type AuthConfig struct {
	// PublicURL is the origin verification links point at. When empty the
	// origin of the signup request is used.
	PublicURL     string
	SigninPath    string
	SecureCookies bool
	SessionTTL    time.Duration
	Admin         services.AdminSeed
}

// AuthHandler exposes signup, verification, login and self-service account endpoints.
type AuthHandler struct {
	accounts     *services.AccountService
	verification *services.VerificationService
	cfg          AuthConfig
	log          *zap.Logger
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(accounts *services.AccountService, verification *services.VerificationService, cfg AuthConfig) (*AuthHandler, error) {
	if accounts == nil || verification == nil {
		return nil, errors.New("auth handler: account and verification services are required")
	}
	if strings.TrimSpace(cfg.SigninPath) == "" {
		cfg.SigninPath = "/pages/signin.html"
	}
	return &AuthHandler{
		accounts:     accounts,
		verification: verification,
		cfg:          cfg,
		log:          logger.WithModule("handlers.auth"),
	}, nil
}

type accountResponse struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Username   string             `json:"username"`
	Email      string             `json:"email"`
	Avatar     string             `json:"avatar"`
	Role       models.AccountRole `json:"role"`
	Verified   bool               `json:"verified"`
	VerifiedAt *time.Time         `json:"verified_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

func toAccountResponse(a *models.Account) accountResponse {
	return accountResponse{
		ID:         a.ID,
		Name:       a.Name,
		Username:   a.Username,
		Email:      a.Email,
		Avatar:     a.Avatar,
		Role:       a.Role,
		Verified:   a.Verified,
		VerifiedAt: a.VerifiedAt,
		CreatedAt:  a.CreatedAt,
	}
}

type signupRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// POST /api/auth/signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.accounts.Signup(requestContext(c), services.SignupInput{
		Name:     req.Name,
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Origin:   h.origin(c),
		Meta:     requestMeta(c),
	})
	if err != nil {
		h.fail(c, "signup", err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":  "Signup successful. Please check your email to verify your account.",
		"reissued": result.Reissued,
	})
}

// GET /api/auth/verify-email?token=
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, apperrors.NewBadRequest("Missing token"))
		return
	}

	if _, err := h.verification.Consume(requestContext(c), token); err != nil {
		h.fail(c, "verify email", err)
		return
	}

	c.Redirect(http.StatusFound, h.signinRedirect())
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" {
		response.Error(c, apperrors.NewBadRequest("identifier is required"))
		return
	}

	result, err := h.accounts.Login(requestContext(c), services.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		Meta:       requestMeta(c),
	})
	if err != nil {
		h.fail(c, "login", err)
		return
	}

	h.setSessionCookie(c, result.Token, int(h.cfg.SessionTTL.Seconds()))
	response.Success(c, http.StatusOK, gin.H{
		"redirect": result.Redirect,
		"token":    result.Token,
		"account":  toAccountResponse(result.Account),
	})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	h.clearSessionCookie(c)
	response.Success(c, http.StatusOK, gin.H{"message": "Logged out"})
}

// POST /api/auth/create-admin
func (h *AuthHandler) CreateAdmin(c *gin.Context) {
	admin, err := h.accounts.EnsureAdmin(requestContext(c), h.cfg.Admin)
	if err != nil {
		h.fail(c, "create admin", err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Admin created",
		"admin":   gin.H{"id": admin.ID, "username": admin.Username},
	})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	account, err := h.accounts.Get(requestContext(c), currentAccountID(c))
	if err != nil {
		h.fail(c, "me", err)
		return
	}
	response.Success(c, http.StatusOK, toAccountResponse(account))
}

// POST /api/auth/upload-avatar
func (h *AuthHandler) UploadAvatar(c *gin.Context) {
	file, err := c.FormFile("avatar")
	if err != nil {
		response.Error(c, apperrors.NewBadRequest("No file"))
		return
	}

	src, err := file.Open()
	if err != nil {
		response.Error(c, apperrors.NewBadRequest("Unreadable upload"))
		return
	}
	defer src.Close()

	avatar, err := h.accounts.UpdateAvatar(requestContext(c), currentAccountID(c), services.AvatarUpload{
		Filename:    file.Filename,
		Size:        file.Size,
		ContentType: file.Header.Get("Content-Type"),
		Reader:      src,
	})
	if err != nil {
		h.fail(c, "upload avatar", err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"avatar": avatar})
}

type updateProfileRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Username string `json:"username" validate:"required,username"`
}

// POST /api/auth/update-profile
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if !bindAndValidate(c, &req) {
		return
	}

	account, err := h.accounts.UpdateProfile(requestContext(c), currentAccountID(c), req.Name, req.Username)
	if err != nil {
		h.fail(c, "update profile", err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Profile updated",
		"account": toAccountResponse(account),
	})
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=6,max=72"`
}

// POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.ChangePassword(requestContext(c), currentAccountID(c), req.OldPassword, req.NewPassword, requestMeta(c)); err != nil {
		h.fail(c, "change password", err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Password updated"})
}

// DELETE /api/auth/delete-account
func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	id := currentAccountID(c)
	result, err := h.accounts.Delete(requestContext(c), id, id, "self", requestMeta(c))
	if err != nil {
		h.fail(c, "delete account", err)
		return
	}

	h.clearSessionCookie(c)
	response.Success(c, http.StatusOK, gin.H{
		"message": "Account deleted",
		"deleted": result,
	})
}

// fail logs server-side failures and renders err through the response envelope.
func (h *AuthHandler) fail(c *gin.Context, op string, err error) {
	if apperrors.IsInternal(err) {
		h.log.Error(op+" failed", zap.Error(err))
	}
	response.Error(c, err)
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.SessionCookie, token, maxAge, "/", "", h.cfg.SecureCookies, true)
}

func (h *AuthHandler) clearSessionCookie(c *gin.Context) {
	h.setSessionCookie(c, "", -1)
}

func (h *AuthHandler) signinRedirect() string {
	target := h.cfg.SigninPath
	if strings.Contains(target, "?") {
		return target + "&verified=1"
	}
	return target + "?verified=1"
}

// origin resolves the scheme and host verification links are built from.
func (h *AuthHandler) origin(c *gin.Context) string {
	if public := strings.TrimRight(strings.TrimSpace(h.cfg.PublicURL), "/"); public != "" {
		return public
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto == "https" || proto == "http" {
		scheme = proto
	}
	return (&url.URL{Scheme: scheme, Host: c.Request.Host}).String()
}
