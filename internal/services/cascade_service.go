package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/uconnect/uconnect/internal/media"
	"github.com/uconnect/uconnect/internal/models"
	"github.com/uconnect/uconnect/pkg/logger"
	"github.com/uconnect/uconnect/pkg/metrics"
)

// CascadeResult reports what a cascade removed.
type CascadeResult struct {
	PostsDeleted    int64 `json:"posts_deleted"`
	CommentsDeleted int64 `json:"comments_deleted"`
	LikesDeleted    int64 `json:"likes_deleted"`
	MediaQueued     int   `json:"media_queued"`
}

// CascadeService removes an account's footprint from the content store:
// its posts (with their likes and comments), its comments on other posts and
// its likes. Every step is a predicate delete, so rerunning it is a no-op.
type CascadeService struct {
	db     *gorm.DB
	media  media.Store
	runner TaskRunner
	log    *zap.Logger
}

// NewCascadeService wires the cascade engine. store may be nil when media is
// not configured, in which case attachments are left in place.
func NewCascadeService(db *gorm.DB, store media.Store, runner TaskRunner) (*CascadeService, error) {
	if db == nil {
		return nil, errors.New("cascade service: db is required")
	}
	return &CascadeService{
		db:     db,
		media:  store,
		runner: runner,
		log:    logger.WithModule("cascade"),
	}, nil
}

// DeleteAccountCascade removes everything the account owns or contributed,
// leaving the account row itself to the caller. It is the cascade-only entry
// point for rerunning an interrupted deletion; DeleteAccount is the normal
// path and shares the same steps.
func (s *CascadeService) DeleteAccountCascade(ctx context.Context, accountID string) (CascadeResult, error) {
	return s.run(ctx, accountID, false)
}

// DeleteAccount runs the cascade and removes the account row in the same
// transaction.
func (s *CascadeService) DeleteAccount(ctx context.Context, accountID string) (CascadeResult, error) {
	return s.run(ctx, accountID, true)
}

func (s *CascadeService) run(ctx context.Context, accountID string, removeAccount bool) (CascadeResult, error) {
	ctx = ensureContext(ctx)

	var (
		result CascadeResult
		names  []string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, names, err = s.cascadeTx(tx, accountID)
		if err != nil || !removeAccount {
			return err
		}

		res := tx.Where("id = ?", accountID).Delete(&models.Account{})
		if res.Error != nil {
			return fmt.Errorf("cascade service: delete account: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAccountNotFound
		}
		return nil
	})
	if err != nil {
		return CascadeResult{}, err
	}

	result.MediaQueued = s.QuarantineMedia(names)
	return result, nil
}

func (s *CascadeService) cascadeTx(tx *gorm.DB, accountID string) (CascadeResult, []string, error) {
	var result CascadeResult
	if accountID == "" {
		return result, nil, errors.New("cascade service: account id is required")
	}

	posts, names, err := s.deletePostsTx(tx, "owner_id = ?", accountID)
	if err != nil {
		return result, nil, err
	}
	result.PostsDeleted = posts

	res := tx.Where("author_id = ?", accountID).Delete(&models.Comment{})
	if res.Error != nil {
		return result, nil, fmt.Errorf("cascade service: delete comments: %w", res.Error)
	}
	result.CommentsDeleted = res.RowsAffected

	res = tx.Where("account_id = ?", accountID).Delete(&models.PostLike{})
	if res.Error != nil {
		return result, nil, fmt.Errorf("cascade service: delete likes: %w", res.Error)
	}
	result.LikesDeleted = res.RowsAffected

	return result, names, nil
}

// deletePostsTx removes the posts matching query together with their likes
// and comments, returning the media names to quarantine after commit.
func (s *CascadeService) deletePostsTx(tx *gorm.DB, query string, args ...any) (int64, []string, error) {
	var posts []models.Post
	if err := tx.Select("id", "media_name", "media_url").Where(query, args...).Find(&posts).Error; err != nil {
		return 0, nil, fmt.Errorf("cascade service: find posts: %w", err)
	}
	if len(posts) == 0 {
		return 0, nil, nil
	}

	ids := make([]string, 0, len(posts))
	var names []string
	for _, post := range posts {
		ids = append(ids, post.ID)
		if name := s.mediaName(post.Media); name != "" {
			names = append(names, name)
		}
	}

	if err := tx.Where("post_id IN ?", ids).Delete(&models.PostLike{}).Error; err != nil {
		return 0, nil, fmt.Errorf("cascade service: delete post likes: %w", err)
	}
	if err := tx.Where("post_id IN ?", ids).Delete(&models.Comment{}).Error; err != nil {
		return 0, nil, fmt.Errorf("cascade service: delete post comments: %w", err)
	}
	res := tx.Where("id IN ?", ids).Delete(&models.Post{})
	if res.Error != nil {
		return 0, nil, fmt.Errorf("cascade service: delete posts: %w", res.Error)
	}
	return res.RowsAffected, names, nil
}

func (s *CascadeService) mediaName(m models.Media) string {
	if m.Name != "" {
		return m.Name
	}
	if m.URL == "" || s.media == nil {
		return ""
	}
	name, _ := s.media.NameFromURL(m.URL)
	return name
}

// QuarantineMedia schedules each file to be moved out of the public area.
// Failures are logged and counted, never returned. It reports how many
// moves were scheduled.
func (s *CascadeService) QuarantineMedia(names []string) int {
	if s.media == nil || len(names) == 0 {
		return 0
	}

	queued := 0
	for _, name := range names {
		err := dispatch(s.runner, "media.quarantine", func(ctx context.Context) error {
			if err := s.media.Quarantine(ctx, name); err != nil {
				metrics.MediaQuarantine.WithLabelValues("failure").Inc()
				return fmt.Errorf("quarantine %s: %w", name, err)
			}
			metrics.MediaQuarantine.WithLabelValues("success").Inc()
			return nil
		})
		if err != nil {
			s.log.Warn("media quarantine failed", zap.String("file", name), zap.Error(err))
			continue
		}
		queued++
	}
	return queued
}
