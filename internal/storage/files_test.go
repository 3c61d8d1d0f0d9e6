package storage

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestPhotoStore_Save(t *testing.T) {
	store, err := NewPhotoStore(t.TempDir())
	if err != nil {
		t.Fatalf("new photo store: %v", err)
	}

	url, err := store.Save(context.Background(), bytes.NewReader(pngHeader))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(url, MediaURLPrefix) || !strings.HasSuffix(url, ".png") {
		t.Fatalf("url = %q", url)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), strings.TrimPrefix(url, MediaURLPrefix))); err != nil {
		t.Fatalf("stored file missing: %v", err)
	}

	rec := httptest.NewRecorder()
	store.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), pngHeader) {
		t.Fatalf("serve photo: status %d", rec.Code)
	}
}

func TestPhotoStore_RejectsNonImages(t *testing.T) {
	store, err := NewPhotoStore(t.TempDir())
	if err != nil {
		t.Fatalf("new photo store: %v", err)
	}
	_, err = store.Save(context.Background(), strings.NewReader("just some text"))
	if !errors.Is(err, ErrUnsupportedMedia) {
		t.Fatalf("expected ErrUnsupportedMedia, got %v", err)
	}
	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 0 {
		t.Fatalf("unexpected files left behind: %d", len(entries))
	}
}

func TestPhotoStore_RejectsLargeFiles(t *testing.T) {
	store, err := NewPhotoStore(t.TempDir())
	if err != nil {
		t.Fatalf("new photo store: %v", err)
	}
	big := append(append([]byte{}, pngHeader...), make([]byte, MaxPhotoBytes)...)
	if _, err := store.Save(context.Background(), bytes.NewReader(big)); !errors.Is(err, ErrPhotoTooLarge) {
		t.Fatalf("expected ErrPhotoTooLarge, got %v", err)
	}
	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 0 {
		t.Fatalf("oversized file left behind")
	}
}
