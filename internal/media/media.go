// Package media stores uploaded post attachments and avatars and moves them
// to a quarantine area, rather than deleting them, when their owner goes away.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/uconnect/uconnect/internal/models"
)

// DefaultMaxUploadBytes caps a single attachment.
const DefaultMaxUploadBytes int64 = 50 << 20

var (
	// ErrUnsupportedType is returned for files that are neither images nor videos.
	ErrUnsupportedType = errors.New("media: only image/video files allowed")
	// ErrTooLarge is returned when an upload exceeds the configured limit.
	ErrTooLarge = errors.New("media: file too large")
	// ErrNotFound is returned when quarantining a file that does not exist.
	ErrNotFound = errors.New("media: file not found")
	// ErrInvalidName rejects names that would escape the storage root.
	ErrInvalidName = errors.New("media: invalid file name")
)

var extensionTypes = map[string]models.MediaType{
	".jpeg": models.MediaImage,
	".jpg":  models.MediaImage,
	".png":  models.MediaImage,
	".gif":  models.MediaImage,
	".mp4":  models.MediaVideo,
	".mov":  models.MediaVideo,
	".webm": models.MediaVideo,
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Object describes a stored file.
type Object struct {
	Name string
	URL  string
	Type models.MediaType
}

// Store persists uploads and relocates them to quarantine on deletion.
type Store interface {
	Save(ctx context.Context, name string, r io.Reader, size int64, contentType string) (Object, error)
	// Quarantine moves name out of the public area. It never hard-deletes.
	Quarantine(ctx context.Context, name string) error
	// PurgeQuarantine permanently removes quarantined files older than cutoff.
	PurgeQuarantine(ctx context.Context, cutoff time.Time) (int, error)
	// NameFromURL maps a public URL produced by Save back to its storage name.
	NameFromURL(url string) (string, bool)
	// Ping confirms the backing storage is reachable.
	Ping(ctx context.Context) error
}

// Classify maps a filename to its media type based on extension.
func Classify(filename string) (models.MediaType, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	mt, ok := extensionTypes[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	return mt, nil
}

// PostFileName generates a collision-resistant name for a post attachment,
// keeping only the original extension.
func PostFileName(original string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(original))
	return fmt.Sprintf("%d-%s%s", now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:12], ext)
}

// AvatarFileName prefixes the sanitised original basename with a timestamp.
func AvatarFileName(original string, now time.Time) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = "avatar"
	}
	return fmt.Sprintf("%d-%s", now.UnixMilli(), base)
}

// CheckSize enforces the upload limit; a non-positive limit uses the default.
func CheckSize(size, limit int64) error {
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	if size > limit {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, size, limit)
	}
	return nil
}

func validateName(name string) error {
	if name == "" || name != path.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func publicURL(prefix, name string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = "/uploads"
	}
	return prefix + "/" + name
}

func nameFromURL(prefix, url string) (string, bool) {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = "/uploads"
	}
	if !strings.HasPrefix(url, prefix+"/") {
		return "", false
	}
	name := strings.TrimPrefix(url, prefix+"/")
	if validateName(name) != nil {
		return "", false
	}
	return name, true
}
