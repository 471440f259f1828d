package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/uconnect/uconnect/internal/services"
	apperrors "github.com/uconnect/uconnect/pkg/errors"
	"github.com/uconnect/uconnect/pkg/logger"
	"github.com/uconnect/uconnect/pkg/response"
)

// PostHandler exposes the feed, likes and comments.
type PostHandler struct {
	posts *services.PostService
	log   *zap.Logger
}

// NewPostHandler constructs a PostHandler.
func NewPostHandler(posts *services.PostService) (*PostHandler, error) {
	if posts == nil {
		return nil, errors.New("post handler: post service is required")
	}
	return &PostHandler{posts: posts, log: logger.WithModule("handlers.posts")}, nil
}

// POST /api/posts (multipart: content, category, media)
func (h *PostHandler) Create(c *gin.Context) {
	input := services.CreatePostInput{
		Content:  c.PostForm("content"),
		Category: c.PostForm("category"),
	}

	if file, err := c.FormFile("media"); err == nil {
		src, err := file.Open()
		if err != nil {
			response.Error(c, apperrors.NewBadRequest("Unreadable upload"))
			return
		}
		defer src.Close()
		input.Media = &services.MediaUpload{
			Filename:    file.Filename,
			Size:        file.Size,
			ContentType: file.Header.Get("Content-Type"),
			Reader:      src,
		}
	} else if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		response.Error(c, apperrors.NewBadRequest("Invalid multipart payload"))
		return
	}

	post, err := h.posts.Create(requestContext(c), principal(c), input)
	if err != nil {
		h.fail(c, "create post", err)
		return
	}
	response.Success(c, http.StatusCreated, post)
}

// GET /api/posts?category=&page=&per_page=
func (h *PostHandler) Feed(c *gin.Context) {
	page, perPage := pageQuery(c, 20)

	posts, total, err := h.posts.Feed(requestContext(c), principal(c), services.FeedOptions{
		Category: c.Query("category"),
		Page:     page,
		PerPage:  perPage,
	})
	if err != nil {
		h.fail(c, "feed", err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, posts, response.NewMeta(page, perPage, total))
}

// GET /api/posts/user/:uid
func (h *PostHandler) ListByOwner(c *gin.Context) {
	page, perPage := pageQuery(c, 20)

	posts, total, err := h.posts.ListByOwner(requestContext(c), principal(c), c.Param("uid"), page, perPage)
	if err != nil {
		h.fail(c, "list posts by owner", err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, posts, response.NewMeta(page, perPage, total))
}

// POST /api/posts/:id/like
func (h *PostHandler) ToggleLike(c *gin.Context) {
	result, err := h.posts.ToggleLike(requestContext(c), principal(c), c.Param("id"))
	if err != nil {
		h.fail(c, "toggle like", err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

type commentRequest struct {
	Body string `json:"body" validate:"required,max=2000"`
}

// POST /api/posts/:id/comments
func (h *PostHandler) AddComment(c *gin.Context) {
	var req commentRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		response.Error(c, services.ErrEmptyComment)
		return
	}

	comment, count, err := h.posts.AddComment(requestContext(c), principal(c), c.Param("id"), req.Body)
	if err != nil {
		h.fail(c, "add comment", err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"comment": comment, "comments": count})
}

// GET /api/posts/:id/comments
func (h *PostHandler) ListComments(c *gin.Context) {
	comments, err := h.posts.ListComments(requestContext(c), c.Param("id"))
	if err != nil {
		h.fail(c, "list comments", err)
		return
	}
	response.Success(c, http.StatusOK, comments)
}

// DELETE /api/posts/:id/comments/:commentId
func (h *PostHandler) DeleteComment(c *gin.Context) {
	if err := h.posts.DeleteComment(requestContext(c), principal(c), c.Param("id"), c.Param("commentId")); err != nil {
		h.fail(c, "delete comment", err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Comment deleted"})
}

// DELETE /api/posts/:id and DELETE /api/admin/posts/:id
func (h *PostHandler) Delete(c *gin.Context) {
	if err := h.posts.Delete(requestContext(c), principal(c), c.Param("id")); err != nil {
		h.fail(c, "delete post", err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Post deleted"})
}

func (h *PostHandler) fail(c *gin.Context, op string, err error) {
	if apperrors.IsInternal(err) {
		h.log.Error(op+" failed", zap.Error(err))
	}
	response.Error(c, err)
}
