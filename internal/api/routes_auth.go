package api

import (
	"github.com/gin-gonic/gin"

	"github.com/uconnect/uconnect/internal/handlers"
)

type authRouteDeps struct {
	Handler     *handlers.AuthHandler
	RequireAuth gin.HandlerFunc
	RateLimit   gin.HandlerFunc
}

func registerAuthRoutes(engine *gin.Engine, deps authRouteDeps) {
	auth := engine.Group("/api/auth")
	{
		auth.POST("/signup", deps.RateLimit, deps.Handler.Signup)
		auth.GET("/verify-email", deps.Handler.VerifyEmail)
		auth.POST("/login", deps.RateLimit, deps.Handler.Login)
		auth.POST("/logout", deps.Handler.Logout)
		auth.POST("/create-admin", deps.Handler.CreateAdmin)
	}

	self := auth.Group("")
	self.Use(deps.RequireAuth)
	{
		self.GET("/me", deps.Handler.Me)
		self.POST("/upload-avatar", deps.Handler.UploadAvatar)
		self.POST("/update-profile", deps.Handler.UpdateProfile)
		self.POST("/change-password", deps.Handler.ChangePassword)
		self.DELETE("/delete-account", deps.Handler.DeleteAccount)
	}
}
