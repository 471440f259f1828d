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
	"gorm.io/gorm/clause"

	"github.com/uconnect/uconnect/internal/media"
	"github.com/uconnect/uconnect/internal/models"
	apperrors "github.com/uconnect/uconnect/pkg/errors"
	"github.com/uconnect/uconnect/pkg/logger"
	"github.com/uconnect/uconnect/pkg/validator"
)

// FeedAll selects every category in the feed.
const FeedAll = "foru"

// Principal is the authenticated caller of a content operation.
type Principal struct {
	AccountID string
	Role      models.AccountRole
	Meta      RequestMeta
}

// IsAdmin reports whether the caller may act on content owned by others.
func (p Principal) IsAdmin() bool { return p.Role == models.RoleAdmin }

func (p Principal) canModify(ownerID string) bool {
	return p.AccountID != "" && (p.AccountID == ownerID || p.IsAdmin())
}

// MediaUpload is an attachment decoded from a multipart request.
type MediaUpload struct {
	Filename    string
	Size        int64
	ContentType string
	Reader      io.Reader
}

// CreatePostInput describes a new post. Either Content or Media must be set.
type CreatePostInput struct {
	Content  string
	Category string
	Media    *MediaUpload
}

// FeedOptions filters and paginates the feed.
type FeedOptions struct {
	Category string
	Page     int
	PerPage  int
}

// PostView is a post decorated with counters for the requesting account.
type PostView struct {
	ID        string                 `json:"id"`
	Owner     *models.AccountSummary `json:"owner"`
	Content   string                 `json:"content"`
	Category  string                 `json:"category"`
	Media     *models.Media          `json:"media,omitempty"`
	Likes     int64                  `json:"likes"`
	LikedByMe bool                   `json:"liked_by_me"`
	Comments  int64                  `json:"comments"`
	CreatedAt time.Time              `json:"created_at"`
}

// CommentView is a comment with its author summary.
type CommentView struct {
	ID        string                 `json:"id"`
	PostID    string                 `json:"post_id"`
	Author    *models.AccountSummary `json:"author"`
	Body      string                 `json:"body"`
	CreatedAt time.Time              `json:"created_at"`
}

// LikeResult reports membership after a toggle.
type LikeResult struct {
	Liked bool  `json:"liked"`
	Likes int64 `json:"likes"`
}

// PostService manages posts, likes and comments.
type PostService struct {
	db             *gorm.DB
	cascade        *CascadeService
	media          media.Store
	maxUploadBytes int64
	audit          *AuditService
	now            func() time.Time
	log            *zap.Logger
}

// PostOption customises the PostService.
type PostOption func(*PostService)

// WithPostMedia enables attachments.
func WithPostMedia(store media.Store, maxBytes int64) PostOption {
	return func(s *PostService) {
		s.media = store
		s.maxUploadBytes = maxBytes
	}
}

// WithPostAudit records deletions.
func WithPostAudit(a *AuditService) PostOption {
	return func(s *PostService) {
		s.audit = a
	}
}

// WithPostClock injects a custom time source.
func WithPostClock(clock func() time.Time) PostOption {
	return func(s *PostService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewPostService constructs a PostService.
func NewPostService(db *gorm.DB, cascade *CascadeService, opts ...PostOption) (*PostService, error) {
	if db == nil {
		return nil, errors.New("post service: db is required")
	}
	if cascade == nil {
		return nil, errors.New("post service: cascade service is required")
	}
	svc := &PostService{
		db:      db,
		cascade: cascade,
		now:     time.Now,
		log:     logger.WithModule("posts"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// NormaliseCategory lowercases category and applies the default. It returns
// false for unknown categories.
func NormaliseCategory(category string) (string, bool) {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return models.DefaultCategory, true
	}
	return category, validator.IsCategory(category)
}

// Create stores a post and its optional attachment.
func (s *PostService) Create(ctx context.Context, p Principal, input CreatePostInput) (*PostView, error) {
	ctx = ensureContext(ctx)

	content := strings.TrimSpace(input.Content)
	category, ok := NormaliseCategory(input.Category)
	if !ok {
		return nil, ErrInvalidCategory
	}
	hasMedia := input.Media != nil && input.Media.Reader != nil && input.Media.Filename != ""
	if content == "" && !hasMedia {
		return nil, ErrEmptyPost
	}
	if err := accountExists(s.db.WithContext(ctx), p.AccountID); err != nil {
		return nil, err
	}

	post := models.Post{
		OwnerID:  p.AccountID,
		Content:  content,
		Category: category,
	}

	if hasMedia {
		if s.media == nil {
			return nil, apperrors.NewBadRequest("Media uploads are disabled")
		}
		kind, err := media.Classify(input.Media.Filename)
		if err != nil {
			return nil, ErrUnsupportedMedia
		}
		if err := media.CheckSize(input.Media.Size, s.maxUploadBytes); err != nil {
			return nil, ErrMediaTooLarge.WithInternal(err)
		}
		obj, err := s.media.Save(ctx, media.PostFileName(input.Media.Filename, s.now()), input.Media.Reader, input.Media.Size, input.Media.ContentType)
		if err != nil {
			return nil, fmt.Errorf("post service: save media: %w", err)
		}
		post.Media = models.Media{Type: kind, URL: obj.URL, Name: obj.Name}
	}

	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		if post.Media.Name != "" {
			s.cascade.QuarantineMedia([]string{post.Media.Name})
		}
		if isForeignKeyError(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("post service: create post: %w", err)
	}

	if err := s.db.WithContext(ctx).Preload("Owner").First(&post, "id = ?", post.ID).Error; err != nil {
		return nil, fmt.Errorf("post service: reload post: %w", err)
	}
	view := toPostView(post)
	return &view, nil
}

// Feed lists posts newest first. An empty category or "foru" returns all.
func (s *PostService) Feed(ctx context.Context, p Principal, opts FeedOptions) ([]PostView, int64, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.Post{})
	category := strings.ToLower(strings.TrimSpace(opts.Category))
	if category != "" && category != FeedAll {
		query = query.Where("category = ?", category)
	}
	return s.listPosts(ctx, p, query, opts.Page, opts.PerPage)
}

// ListByOwner lists an account's posts newest first.
func (s *PostService) ListByOwner(ctx context.Context, p Principal, ownerID string, page, perPage int) ([]PostView, int64, error) {
	ctx = ensureContext(ctx)
	query := s.db.WithContext(ctx).Model(&models.Post{}).Where("owner_id = ?", ownerID)
	return s.listPosts(ctx, p, query, page, perPage)
}

// Get returns a single post.
func (s *PostService) Get(ctx context.Context, p Principal, postID string) (*PostView, error) {
	ctx = ensureContext(ctx)

	var post models.Post
	err := s.db.WithContext(ctx).Preload("Owner").First(&post, "id = ?", postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("post service: get post: %w", err)
	}

	views := []PostView{toPostView(post)}
	if err := s.decorate(ctx, p, views); err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *PostService) listPosts(ctx context.Context, p Principal, query *gorm.DB, page, perPage int) ([]PostView, int64, error) {
	page, perPage = normalisePage(page, perPage)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("post service: count posts: %w", err)
	}

	var posts []models.Post
	if err := query.
		Preload("Owner").
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&posts).Error; err != nil {
		return nil, 0, fmt.Errorf("post service: list posts: %w", err)
	}

	views := make([]PostView, 0, len(posts))
	for _, post := range posts {
		views = append(views, toPostView(post))
	}
	if err := s.decorate(ctx, p, views); err != nil {
		return nil, 0, err
	}
	return views, total, nil
}

type postCount struct {
	PostID string
	Total  int64
}

// decorate fills like and comment counters with grouped queries.
func (s *PostService) decorate(ctx context.Context, p Principal, views []PostView) error {
	if len(views) == 0 {
		return nil
	}
	ids := make([]string, len(views))
	for i := range views {
		ids[i] = views[i].ID
	}

	var likes, comments []postCount
	if err := s.db.WithContext(ctx).
		Model(&models.PostLike{}).
		Select("post_id, COUNT(*) AS total").
		Where("post_id IN ?", ids).
		Group("post_id").
		Scan(&likes).Error; err != nil {
		return fmt.Errorf("post service: count likes: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Model(&models.Comment{}).
		Select("post_id, COUNT(*) AS total").
		Where("post_id IN ?", ids).
		Group("post_id").
		Scan(&comments).Error; err != nil {
		return fmt.Errorf("post service: count comments: %w", err)
	}

	var mine []string
	if p.AccountID != "" {
		if err := s.db.WithContext(ctx).
			Model(&models.PostLike{}).
			Where("account_id = ? AND post_id IN ?", p.AccountID, ids).
			Pluck("post_id", &mine).Error; err != nil {
			return fmt.Errorf("post service: load own likes: %w", err)
		}
	}

	likeCounts := make(map[string]int64, len(likes))
	for _, c := range likes {
		likeCounts[c.PostID] = c.Total
	}
	commentCounts := make(map[string]int64, len(comments))
	for _, c := range comments {
		commentCounts[c.PostID] = c.Total
	}
	liked := make(map[string]struct{}, len(mine))
	for _, id := range mine {
		liked[id] = struct{}{}
	}

	for i := range views {
		views[i].Likes = likeCounts[views[i].ID]
		views[i].Comments = commentCounts[views[i].ID]
		_, views[i].LikedByMe = liked[views[i].ID]
	}
	return nil
}

// ToggleLike adds the caller to the post's liker set, or removes them when
// already present. The composite key keeps the set free of duplicates even
// under concurrent toggles.
func (s *PostService) ToggleLike(ctx context.Context, p Principal, postID string) (LikeResult, error) {
	ctx = ensureContext(ctx)

	var result LikeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := postExists(tx, postID); err != nil {
			return err
		}
		if err := accountExists(tx, p.AccountID); err != nil {
			return err
		}

		res := tx.Where("post_id = ? AND account_id = ?", postID, p.AccountID).Delete(&models.PostLike{})
		if res.Error != nil {
			return fmt.Errorf("post service: unlike: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			like := models.PostLike{PostID: postID, AccountID: p.AccountID, CreatedAt: s.now().UTC()}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&like).Error; err != nil {
				if isForeignKeyError(err) {
					return ErrAccountNotFound
				}
				return fmt.Errorf("post service: like: %w", err)
			}
			result.Liked = true
		}

		return tx.Model(&models.PostLike{}).Where("post_id = ?", postID).Count(&result.Likes).Error
	})
	if err != nil {
		return LikeResult{}, err
	}
	return result, nil
}

// AddComment appends a comment and returns it with the new comment count.
func (s *PostService) AddComment(ctx context.Context, p Principal, postID, body string) (*CommentView, int64, error) {
	ctx = ensureContext(ctx)

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, 0, ErrEmptyComment
	}

	comment := models.Comment{PostID: postID, AuthorID: p.AccountID, Body: body}
	var total int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := postExists(tx, postID); err != nil {
			return err
		}
		if err := accountExists(tx, p.AccountID); err != nil {
			return err
		}
		if err := tx.Create(&comment).Error; err != nil {
			if isForeignKeyError(err) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("post service: create comment: %w", err)
		}
		if err := tx.Preload("Author").First(&comment, "id = ?", comment.ID).Error; err != nil {
			return fmt.Errorf("post service: reload comment: %w", err)
		}
		return tx.Model(&models.Comment{}).Where("post_id = ?", postID).Count(&total).Error
	})
	if err != nil {
		return nil, 0, err
	}

	view := toCommentView(comment)
	return &view, total, nil
}

// ListComments returns a post's comments in insertion order.
func (s *PostService) ListComments(ctx context.Context, postID string) ([]CommentView, error) {
	ctx = ensureContext(ctx)

	if err := postExists(s.db.WithContext(ctx), postID); err != nil {
		return nil, err
	}

	var comments []models.Comment
	if err := s.db.WithContext(ctx).
		Preload("Author").
		Where("post_id = ?", postID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("post service: list comments: %w", err)
	}

	views := make([]CommentView, 0, len(comments))
	for _, c := range comments {
		views = append(views, toCommentView(c))
	}
	return views, nil
}

// DeleteComment removes a comment when the caller wrote it or is an admin.
func (s *PostService) DeleteComment(ctx context.Context, p Principal, postID, commentID string) error {
	ctx = ensureContext(ctx)

	if err := postExists(s.db.WithContext(ctx), postID); err != nil {
		return err
	}

	var comment models.Comment
	err := s.db.WithContext(ctx).First(&comment, "id = ? AND post_id = ?", commentID, postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCommentNotFound
	}
	if err != nil {
		return fmt.Errorf("post service: load comment: %w", err)
	}

	if !p.canModify(comment.AuthorID) {
		return apperrors.ErrForbidden
	}

	if err := s.db.WithContext(ctx).Delete(&comment).Error; err != nil {
		return fmt.Errorf("post service: delete comment: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:   actorPtr(p.AccountID),
		Action:    AuditCommentDelete,
		Resource:  "comment:" + comment.ID,
		Result:    AuditResultSuccess,
		IPAddress: p.Meta.IPAddress,
		UserAgent: p.Meta.UserAgent,
		Metadata:  map[string]any{"post_id": postID, "author_id": comment.AuthorID},
	})
	return nil
}

// Delete removes a post with its likes and comments when the caller owns it
// or is an admin. An attachment is moved to quarantine after commit.
func (s *PostService) Delete(ctx context.Context, p Principal, postID string) error {
	ctx = ensureContext(ctx)

	var post models.Post
	err := s.db.WithContext(ctx).Select("id", "owner_id").First(&post, "id = ?", postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrPostNotFound
	}
	if err != nil {
		return fmt.Errorf("post service: load post: %w", err)
	}

	if !p.canModify(post.OwnerID) {
		return apperrors.ErrForbidden
	}

	var names []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var deleted int64
		var err error
		deleted, names, err = s.cascade.deletePostsTx(tx, "id = ?", postID)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return ErrPostNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	queued := s.cascade.QuarantineMedia(names)
	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:   actorPtr(p.AccountID),
		Action:    AuditPostDelete,
		Resource:  "post:" + postID,
		Result:    AuditResultSuccess,
		IPAddress: p.Meta.IPAddress,
		UserAgent: p.Meta.UserAgent,
		Metadata:  map[string]any{"owner_id": post.OwnerID, "media_queued": queued},
	})
	return nil
}

// accountExists guards writes made with a session that outlived its
// account; tokens are not revoked when an account is deleted.
func accountExists(db *gorm.DB, accountID string) error {
	var count int64
	if err := db.Model(&models.Account{}).Where("id = ?", accountID).Count(&count).Error; err != nil {
		return fmt.Errorf("post service: lookup account: %w", err)
	}
	if count == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func postExists(db *gorm.DB, postID string) error {
	var count int64
	if err := db.Model(&models.Post{}).Where("id = ?", postID).Count(&count).Error; err != nil {
		return fmt.Errorf("post service: lookup post: %w", err)
	}
	if count == 0 {
		return ErrPostNotFound
	}
	return nil
}

func toPostView(post models.Post) PostView {
	view := PostView{
		ID:        post.ID,
		Owner:     post.Owner.Summary(),
		Content:   post.Content,
		Category:  post.Category,
		CreatedAt: post.CreatedAt,
	}
	if !post.Media.IsZero() {
		m := post.Media
		view.Media = &m
	}
	return view
}

func toCommentView(c models.Comment) CommentView {
	return CommentView{
		ID:        c.ID,
		PostID:    c.PostID,
		Author:    c.Author.Summary(),
		Body:      c.Body,
		CreatedAt: c.CreatedAt,
	}
}
