package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/uconnect/uconnect/internal/services"
	apperrors "github.com/uconnect/uconnect/pkg/errors"
	"github.com/uconnect/uconnect/pkg/logger"
	"github.com/uconnect/uconnect/pkg/response"
)

// AdminHandler exposes account moderation. Routes are guarded by middleware.RequireAdmin.
type AdminHandler struct {
	accounts *services.AccountService
	audit    *services.AuditService
	log      *zap.Logger
}

// NewAdminHandler constructs an AdminHandler. audit may be nil.
func NewAdminHandler(accounts *services.AccountService, audit *services.AuditService) (*AdminHandler, error) {
	if accounts == nil {
		return nil, errors.New("admin handler: account service is required")
	}
	return &AdminHandler{accounts: accounts, audit: audit, log: logger.WithModule("handlers.admin")}, nil
}

// GET /api/admin/users?q=
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, perPage := pageQuery(c, 50)

	accounts, total, err := h.accounts.List(requestContext(c), services.ListAccountsOptions{
		Query:    c.Query("q"),
		Page:     page,
		PageSize: perPage,
	})
	if err != nil {
		h.log.Error("list accounts failed", zap.Error(err))
		response.Error(c, err)
		return
	}

	out := make([]accountResponse, 0, len(accounts))
	for i := range accounts {
		out = append(out, toAccountResponse(&accounts[i]))
	}
	response.SuccessWithMeta(c, http.StatusOK, out, response.NewMeta(page, perPage, total))
}

// DELETE /api/admin/users/:id
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	result, err := h.accounts.Delete(requestContext(c), c.Param("id"), currentAccountID(c), "admin", requestMeta(c))
	if err != nil {
		if apperrors.IsInternal(err) {
			h.log.Error("admin delete account failed", zap.String("account_id", c.Param("id")), zap.Error(err))
		}
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "User deleted", "deleted": result})
}

// GET /api/admin/audit
func (h *AdminHandler) ListAudit(c *gin.Context) {
	if h.audit == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	page, perPage := pageQuery(c, 50)

	logs, total, err := h.audit.List(requestContext(c), services.AuditListOptions{
		Page:     page,
		PageSize: perPage,
		Filters: services.AuditFilters{
			ActorID: c.Query("actor_id"),
			Action:  c.Query("action"),
			Result:  c.Query("result"),
		},
	})
	if err != nil {
		h.log.Error("list audit failed", zap.Error(err))
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, logs, response.NewMeta(page, perPage, total))
}
