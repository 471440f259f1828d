package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/uconnect/uconnect/internal/middleware"
	"github.com/uconnect/uconnect/internal/models"
	"github.com/uconnect/uconnect/internal/services"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

func requestMeta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func currentAccountID(c *gin.Context) string {
	return c.GetString(middleware.CtxAccountIDKey)
}

// principal describes the authenticated caller set by middleware.Auth.
func principal(c *gin.Context) services.Principal {
	return services.Principal{
		AccountID: currentAccountID(c),
		Role:      models.AccountRole(c.GetString(middleware.CtxRoleKey)),
		Meta:      requestMeta(c),
	}
}
