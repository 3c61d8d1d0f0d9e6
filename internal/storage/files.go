package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	MediaURLPrefix = "/media/"

	// MaxPhotoBytes bounds a single upload.
	MaxPhotoBytes = 10 << 20
)

var (
	ErrUnsupportedMedia = errors.New("unsupported image type")
	ErrPhotoTooLarge    = errors.New("photo exceeds 10MB")
)

var photoExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// PhotoStore keeps uploaded entry photos on local disk.
type PhotoStore struct {
	dir string
}

func NewPhotoStore(dir string) (*PhotoStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}
	return &PhotoStore{dir: dir}, nil
}

func (s *PhotoStore) Dir() string { return s.dir }

// Save sniffs the image type, writes it under a random name and returns its URL path.
func (s *PhotoStore) Save(ctx context.Context, r io.Reader) (string, error) {
	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", fmt.Errorf("read photo header: %w", err)
	}
	ext, ok := photoExtensions[http.DetectContentType(head)]
	if !ok {
		return "", ErrUnsupportedMedia
	}

	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("create photo file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(br, MaxPhotoBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxPhotoBytes {
		err = ErrPhotoTooLarge
	}
	if err != nil {
		os.Remove(path)
		if errors.Is(err, ErrPhotoTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("write photo: %w", err)
	}

	slog.InfoContext(ctx, "Photo stored", "name", name, "bytes", n)
	return MediaURLPrefix + name, nil
}

// Handler serves stored photos; mount it under MediaURLPrefix.
func (s *PhotoStore) Handler() http.Handler {
	return http.StripPrefix(MediaURLPrefix, http.FileServer(http.Dir(s.dir)))
}
