package api

import (
	"github.com/gin-gonic/gin"

	"github.com/uconnect/uconnect/internal/handlers"
	"github.com/uconnect/uconnect/internal/middleware"
)

func registerAdminRoutes(api *gin.RouterGroup, admin *handlers.AdminHandler, posts *handlers.PostHandler) {
	group := api.Group("/admin")
	group.Use(middleware.RequireAdmin())
	{
		group.GET("/users", admin.ListUsers)
		group.DELETE("/users/:id", admin.DeleteUser)
		group.DELETE("/posts/:id", posts.Delete)
		group.GET("/audit", admin.ListAudit)
	}
}
