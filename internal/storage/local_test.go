package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestLocalStorePutWritesValidatedFile(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir, "/uploads", fastPolicy())

	data := encodePNG(t, 3, 2)
	blob, err := store.Put(context.Background(), data, "image/png", "avatar.png")
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	if !strings.HasPrefix(blob.Reference, "/uploads/") || !strings.HasSuffix(blob.Reference, ".png") {
		t.Fatalf("unexpected reference %q", blob.Reference)
	}
	if blob.Width != 3 || blob.Height != 2 {
		t.Fatalf("expected 3x2 dimensions, got %dx%d", blob.Width, blob.Height)
	}
	if !store.Owns(blob.Reference) {
		t.Fatalf("store should own its own reference %q", blob.Reference)
	}

	written, err := os.ReadFile(filepath.Join(dir, blob.ID+".png"))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if !bytes.Equal(written, data) {
		t.Fatal("stored bytes differ from input")
	}
}

func TestLocalStorePutRejectsMismatchWithoutWriting(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir, "/uploads", fastPolicy())

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}
	_, err := store.Put(context.Background(), jpeg, "image/png", "")

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Claimed != "image/png" || verr.Detected != "image/jpeg" {
		t.Fatalf("unexpected validation error fields: %+v", verr)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no files written, found %d", len(entries))
	}
}

func TestLocalStorePutUnknownTypeUsesBinExtension(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "uploads/", fastPolicy())

	blob, err := store.Put(context.Background(), []byte("%PDF-1.4"), "application/pdf", "doc.pdf")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasSuffix(blob.Reference, ".bin") {
		t.Fatalf("expected .bin extension, got %q", blob.Reference)
	}
	if !strings.HasPrefix(blob.Reference, "/uploads/") {
		t.Fatalf("expected normalized public path, got %q", blob.Reference)
	}
}

func TestLocalStorePutRetriesThenFails(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "/uploads", fastPolicy())

	calls := 0
	diskErr := errors.New("disk full")
	store.writeFile = func(string, []byte, os.FileMode) error {
		calls++
		return diskErr
	}

	_, err := store.Put(context.Background(), []byte("OggS\x00"), "audio/ogg", "")
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError, got %v", err)
	}
	if calls != 3 || ioErr.Attempts != 3 {
		t.Fatalf("expected 3 attempts, calls=%d attempts=%d", calls, ioErr.Attempts)
	}
	if !errors.Is(err, diskErr) {
		t.Fatalf("expected IOError to wrap last error, got %v", err)
	}
}

func TestLocalStorePutRecoversAfterTransientFailure(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "/uploads", fastPolicy())

	calls := 0
	store.writeFile = func(name string, data []byte, perm os.FileMode) error {
		calls++
		if calls < 2 {
			return errors.New("temporary failure")
		}
		return os.WriteFile(name, data, perm)
	}

	if _, err := store.Put(context.Background(), []byte("ID3\x03"), "audio/mpeg", ""); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 write attempts, got %d", calls)
	}
}

func TestLocalStoreDeleteIsIdempotent(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "/uploads", fastPolicy())

	blob, err := store.Put(context.Background(), []byte("GIF89a\x01\x00\x01\x00"), "image/gif", "")
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	for i := 0; i < 2; i++ {
		ok, err := store.Delete(context.Background(), blob.Reference)
		if err != nil || !ok {
			t.Fatalf("delete #%d: ok=%v err=%v", i+1, ok, err)
		}
	}

	if _, err := os.Stat(filepath.Join(store.Dir(), blob.ID+".gif")); !os.IsNotExist(err) {
		t.Fatalf("expected file to be gone, stat err=%v", err)
	}
}

func TestLocalStoreDeleteExhaustsRetries(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "/uploads", fastPolicy())

	blob, err := store.Put(context.Background(), []byte{0x1A, 0x45, 0xDF, 0xA3, 0x00}, "video/webm", "")
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	store.removeFile = func(string) error { return errors.New("busy") }

	ok, err := store.Delete(context.Background(), blob.Reference)
	if ok {
		t.Fatal("expected delete to report failure")
	}
	var ioErr *IOError
	if !errors.As(err, &ioErr) || ioErr.Attempts != 3 {
		t.Fatalf("expected IOError after 3 attempts, got %v", err)
	}
}

func TestRetryPolicyDefaultsAndContext(t *testing.T) {
	p := RetryPolicy{}.normalized()
	if p.MaxAttempts != 3 || p.BaseDelay != 100*time.Millisecond || p.Multiplier != 2 {
		t.Fatalf("unexpected normalized policy %+v", p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	attempts, err := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, Multiplier: 2}.Do(ctx, "test", func() error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected error with cancelled context")
	}
	if calls > 1 || attempts != calls {
		t.Fatalf("expected at most one attempt before noticing cancellation, got %d", calls)
	}
}

func TestLocalStoreCheck(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "uploads")
	store := NewLocalStore(dir, "/uploads", fastPolicy())
	if err := store.Check(); err != nil {
		t.Fatalf("check: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("expected upload dir to be created: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("check must not leave files behind, found %d", len(entries))
	}

	notDir := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(notDir, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	var ioErr *IOError
	if err := NewLocalStore(notDir, "/uploads", fastPolicy()).Check(); !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError when the upload dir is a file, got %v", err)
	}
}
