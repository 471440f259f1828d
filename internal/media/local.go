package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/uconnect/uconnect/pkg/logger"
)

// LocalConfig configures the disk-backed store.
type LocalConfig struct {
	UploadDir     string
	QuarantineDir string
	PublicPrefix  string
}

// LocalStore keeps uploads on the local filesystem and quarantines them by
// renaming into a sibling directory.
type LocalStore struct {
	cfg LocalConfig
	now func() time.Time
	log *zap.Logger
}

// NewLocalStore creates both directories if needed.
func NewLocalStore(cfg LocalConfig) (*LocalStore, error) {
	if cfg.UploadDir == "" {
		return nil, errors.New("media: upload dir is required")
	}
	if cfg.QuarantineDir == "" {
		cfg.QuarantineDir = filepath.Join(cfg.UploadDir, "deleted")
	}
	for _, dir := range []string{cfg.UploadDir, cfg.QuarantineDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("media: create %s: %w", dir, err)
		}
	}
	return &LocalStore{cfg: cfg, now: time.Now, log: logger.WithModule("media")}, nil
}

// UploadDir exposes the directory served under the public prefix.
func (s *LocalStore) UploadDir() string { return s.cfg.UploadDir }

// Save writes r to the upload directory. Existing files are never overwritten.
func (s *LocalStore) Save(ctx context.Context, name string, r io.Reader, size int64, _ string) (Object, error) {
	if err := validateName(name); err != nil {
		return Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	dst := filepath.Join(s.cfg.UploadDir, name)
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Object{}, fmt.Errorf("media: create %s: %w", name, err)
	}

	written, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(dst)
		return Object{}, fmt.Errorf("media: write %s: %w", name, multierr.Combine(copyErr, closeErr))
	}
	if size > 0 && written != size {
		_ = os.Remove(dst)
		return Object{}, fmt.Errorf("media: short write for %s: %d of %d bytes", name, written, size)
	}

	mt, _ := Classify(name)
	return Object{Name: name, URL: publicURL(s.cfg.PublicPrefix, name), Type: mt}, nil
}

// Quarantine renames the file into the quarantine directory. The move resets
// the modification time so retention counts from the deletion.
func (s *LocalStore) Quarantine(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	src := filepath.Join(s.cfg.UploadDir, name)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return err
	}

	dst := s.quarantinePath(name)
	if err := os.Rename(src, dst); err != nil {
		if err := copyThenRemove(src, dst); err != nil {
			return fmt.Errorf("media: quarantine %s: %w", name, err)
		}
	}

	now := s.now()
	if err := os.Chtimes(dst, now, now); err != nil {
		s.log.Debug("reset quarantine mtime failed", zap.String("file", dst), zap.Error(err))
	}
	return nil
}

// quarantinePath avoids clobbering an earlier quarantined file with the same name.
func (s *LocalStore) quarantinePath(name string) string {
	dst := filepath.Join(s.cfg.QuarantineDir, name)
	if _, err := os.Stat(dst); errors.Is(err, fs.ErrNotExist) {
		return dst
	}
	return filepath.Join(s.cfg.QuarantineDir, strconv.FormatInt(s.now().UnixNano(), 10)+"-"+name)
}

// PurgeQuarantine removes quarantined files last touched before cutoff.
func (s *LocalStore) PurgeQuarantine(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.cfg.QuarantineDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.QuarantineDir, entry.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, multierr.Combine(errs...)
}

// Ping checks that both directories still exist.
func (s *LocalStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, dir := range []string{s.cfg.UploadDir, s.cfg.QuarantineDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("media: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("media: %s is not a directory", dir)
		}
	}
	return nil
}

// NameFromURL implements Store.
func (s *LocalStore) NameFromURL(url string) (string, bool) {
	return nameFromURL(s.cfg.PublicPrefix, url)
}

func copyThenRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
