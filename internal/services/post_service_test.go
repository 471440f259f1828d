package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uconnect/uconnect/internal/models"
	apperrors "github.com/uconnect/uconnect/pkg/errors"
)

func TestCreatePostValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := principal(f.createAccount(t, "ada", "ada@campus.edu", models.RoleUser, true))

	_, err := f.posts.Create(ctx, ada, CreatePostInput{Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyPost)

	_, err = f.posts.Create(ctx, ada, CreatePostInput{Content: "hi", Category: "gossip"})
	assert.ErrorIs(t, err, ErrInvalidCategory)

	_, err = f.posts.Create(ctx, ada, CreatePostInput{Media: &MediaUpload{Filename: "notes.pdf", Size: 1, Reader: strings.NewReader("x")}})
	assert.ErrorIs(t, err, ErrUnsupportedMedia)

	_, err = f.posts.Create(ctx, ada, CreatePostInput{Media: &MediaUpload{Filename: "huge.mp4", Size: 51 << 20, Reader: strings.NewReader("x")}})
	assert.ErrorIs(t, err, ErrMediaTooLarge)

	view, err := f.posts.Create(ctx, ada, CreatePostInput{Content: " hello ", Category: "Campus Event"})
	require.NoError(t, err)
	assert.Equal(t, "hello", view.Content)
	assert.Equal(t, "campus event", view.Category)
	assert.Nil(t, view.Media)
	require.NotNil(t, view.Owner)
	assert.Equal(t, "ada", view.Owner.Username)

	view, err = f.posts.Create(ctx, ada, CreatePostInput{Content: "default category"})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultCategory, view.Category)
}

func TestCreatePostClassifiesMedia(t *testing.T) {
	f := newFixture(t)
	ada := f.createAccount(t, "ada", "ada@campus.edu", models.RoleUser, true)

	video := f.mustPost(t, ada, "", &MediaUpload{Filename: "Clip.MOV", Size: 4, Reader: strings.NewReader("moov")})
	require.NotNil(t, video.Media)
	assert.Equal(t, models.MediaVideo, video.Media.Type)
	assert.True(t, strings.HasSuffix(video.Media.URL, ".mov"))

	image := f.mustPost(t, ada, "caption", &MediaUpload{Filename: "pic.jpeg", Size: 3, Reader: strings.NewReader("jpg")})
	assert.Equal(t, models.MediaImage, image.Media.Type)

	_, err := os.Stat(filepath.Join(f.store.UploadDir(), strings.TrimPrefix(image.Media.URL, "/uploads/")))
	assert.NoError(t, err)
}

func TestFeedFiltersAndDecorates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.createAccount(t, "ada", "ada@campus.edu", models.RoleUser, true)
	grace := f.createAccount(t, "grace", "grace@campus.edu", models.RoleUser, true)

	base := time.Now().Add(-time.Hour)
	mk := func(owner *models.Account, category string, offset time.Duration) models.Post {
		post := models.Post{OwnerID: owner.ID, Content: category, Category: category}
		post.CreatedAt = base.Add(offset)
		require.NoError(t, f.db.Create(&post).Error)
		return post
	}
	oldest := mk(ada, "academics", 0)
	middle := mk(grace, "sports", time.Minute)
	newest := mk(grace, "academics", 2*time.Minute)

	_, err := f.posts.ToggleLike(ctx, principal(ada), middle.ID)
	require.NoError(t, err)
	_, err = f.posts.ToggleLike(ctx, principal(grace), middle.ID)
	require.NoError(t, err)
	_, _, err = f.posts.AddComment(ctx, principal(grace), oldest.ID, "nice")
	require.NoError(t, err)

	for _, category := range []string{"", "foru", "ForU"} {
		all, total, err := f.posts.Feed(ctx, principal(ada), FeedOptions{Category: category})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, all, 3)
		assert.Equal(t, []string{newest.ID, middle.ID, oldest.ID}, []string{all[0].ID, all[1].ID, all[2].ID})
		assert.Equal(t, int64(2), all[1].Likes)
		assert.True(t, all[1].LikedByMe)
		assert.False(t, all[0].LikedByMe)
		assert.Equal(t, int64(1), all[2].Comments)
		assert.Equal(t, "grace", all[0].Owner.Username)
	}

	academics, total, err := f.posts.Feed(ctx, principal(ada), FeedOptions{Category: "Academics"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, academics, 2)

	page, total, err := f.posts.Feed(ctx, principal(ada), FeedOptions{Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 1)
	assert.Equal(t, oldest.ID, page[0].ID)

	mine, total, err := f.posts.ListByOwner(ctx, principal(ada), grace.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, mine, 2)
}

func TestToggleLike(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.createAccount(t, "ada", "ada@campus.edu", models.RoleUser, true)
	post := f.mustPost(t, ada, "like me", nil)

	res, err := f.posts.ToggleLike(ctx, principal(ada), post.ID)
	require.NoError(t, err)
	assert.Equal(t, LikeResult{Liked: true, Likes: 1}, res)

	res, err = f.posts.ToggleLike(ctx, principal(ada), post.ID)
	require.NoError(t, err)
	assert.Equal(t, LikeResult{Liked: false, Likes: 0}, res)

	_, err = f.posts.ToggleLike(ctx, principal(ada), "missing")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestConcurrentLikesNeverDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.createAccount(t, "ada", "ada@campus.edu", models.RoleUser, true)
	post := f.mustPost(t, ada, "race", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.posts.ToggleLike(ctx, principal(ada), post.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// An even number of toggles leaves the caller out of the set.
	likes := f.count(t, &models.PostLike{}, "post_id = ?", post.ID)
	assert.Zero(t, likes)
}

func TestComments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.createAccount(t, "ada", "ada@campus.edu", models.RoleUser, true)
	grace := f.createAccount(t, "grace", "grace@campus.edu", models.RoleUser, true)
	admin := f.createAccount(t, "root", "root@uconnect.com", models.RoleAdmin, true)
	post := f.mustPost(t, ada, "discuss", nil)

	_, _, err := f.posts.AddComment(ctx, principal(grace), post.ID, "  ")
	assert.ErrorIs(t, err, ErrEmptyComment)
	_, _, err = f.posts.AddComment(ctx, principal(grace), "missing", "hi")
	assert.ErrorIs(t, err, ErrPostNotFound)

	first, total, err := f.posts.AddComment(ctx, principal(grace), post.ID, "first")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "grace", first.Author.Username)
	second, total, err := f.posts.AddComment(ctx, principal(ada), post.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	comments, err := f.posts.ListComments(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Body)
	assert.Equal(t, "second", comments[1].Body)

	err = f.posts.DeleteComment(ctx, principal(ada), post.ID, first.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden, "post owner cannot delete someone else's comment")

	err = f.posts.DeleteComment(ctx, principal(grace), post.ID, "missing")
	assert.ErrorIs(t, err, ErrCommentNotFound)

	require.NoError(t, f.posts.DeleteComment(ctx, principal(grace), post.ID, first.ID))
	require.NoError(t, f.posts.DeleteComment(ctx, principal(admin), post.ID, second.ID))

	comments, err = f.posts.ListComments(ctx, post.ID)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestDeletePost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.createAccount(t, "ada", "ada@campus.edu", models.RoleUser, true)
	grace := f.createAccount(t, "grace", "grace@campus.edu", models.RoleUser, true)
	admin := f.createAccount(t, "root", "root@uconnect.com", models.RoleAdmin, true)

	post := f.mustPost(t, ada, "bye", &MediaUpload{Filename: "pic.png", Size: 3, Reader: strings.NewReader("png")})
	name := strings.TrimPrefix(post.Media.URL, "/uploads/")
	_, err := f.posts.ToggleLike(ctx, principal(grace), post.ID)
	require.NoError(t, err)
	_, _, err = f.posts.AddComment(ctx, principal(grace), post.ID, "wait")
	require.NoError(t, err)

	err = f.posts.Delete(ctx, principal(grace), post.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	require.NoError(t, f.posts.Delete(ctx, principal(ada), post.ID))
	assert.Zero(t, f.count(t, &models.Post{}, "id = ?", post.ID))
	assert.Zero(t, f.count(t, &models.PostLike{}, "post_id = ?", post.ID))
	assert.Zero(t, f.count(t, &models.Comment{}, "post_id = ?", post.ID))

	_, err = os.Stat(filepath.Join(f.store.UploadDir(), name))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(f.store.UploadDir(), "deleted", name))
	assert.NoError(t, err, "media must be quarantined, not deleted")

	err = f.posts.Delete(ctx, principal(ada), post.ID)
	assert.ErrorIs(t, err, ErrPostNotFound)

	other := f.mustPost(t, grace, "admin will remove this", nil)
	require.NoError(t, f.posts.Delete(ctx, principal(admin), other.ID))
}
