package api

import (
	"github.com/gin-gonic/gin"

	"github.com/uconnect/uconnect/internal/handlers"
)

func registerPostRoutes(api *gin.RouterGroup, handler *handlers.PostHandler) {
	posts := api.Group("/posts")
	{
		posts.POST("", handler.Create)
		posts.GET("", handler.Feed)
		posts.GET("/user/:uid", handler.ListByOwner)
		posts.POST("/:id/like", handler.ToggleLike)
		posts.POST("/:id/comments", handler.AddComment)
		posts.GET("/:id/comments", handler.ListComments)
		posts.DELETE("/:id", handler.Delete)
		posts.DELETE("/:id/comments/:commentId", handler.DeleteComment)
	}
}
