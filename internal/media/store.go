// Package media stores profile pictures.
package media

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"cms-backend/internal/apperr"

	"github.com/google/uuid"
)

// ImageStore persists an uploaded image and returns an opaque reference.
type ImageStore interface {
	Save(ctx context.Context, owner uuid.UUID, data []byte) (string, error)
	Delete(ctx context.Context, ref string) error
}

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// DiskStore writes images under Dir. References are file names relative to Dir.
type DiskStore struct {
	Dir      string
	MaxBytes int64
}

func NewDiskStore(dir string, maxBytes int64) *DiskStore {
	return &DiskStore{Dir: dir, MaxBytes: maxBytes}
}

// Validate checks size and sniffed content type and returns the file extension.
func (s *DiskStore) Validate(data []byte) (string, error) {
	if len(data) == 0 {
		return "", apperr.Validation("image is empty")
	}
	if s.MaxBytes > 0 && int64(len(data)) > s.MaxBytes {
		return "", apperr.Validation(fmt.Sprintf("image exceeds %d bytes", s.MaxBytes))
	}
	ct := http.DetectContentType(data)
	ext, ok := allowedTypes[ct]
	if !ok {
		return "", apperr.Validation(fmt.Sprintf("unsupported image type %q", ct))
	}
	return ext, nil
}

func (s *DiskStore) Save(ctx context.Context, owner uuid.UUID, data []byte) (string, error) {
	ext, err := s.Validate(data)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create picture dir: %w", err)
	}

	// A fresh name per upload; the previous picture is removed by the caller
	// after the new reference is committed.
	ref := fmt.Sprintf("%s-%s%s", owner, uuid.NewString()[:8], ext)
	tmp, err := os.CreateTemp(s.Dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create picture: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write picture: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write picture: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.Dir, ref)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store picture: %w", err)
	}
	return ref, nil
}

// Delete removes a stored image. Unknown references are ignored.
func (s *DiskStore) Delete(_ context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	if ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return apperr.Validation("invalid picture reference")
	}
	if err := os.Remove(filepath.Join(s.Dir, ref)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete picture: %w", err)
	}
	return nil
}
