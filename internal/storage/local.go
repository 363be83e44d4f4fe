package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp"
)

var mimeExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"video/mp4":  "mp4",
	"video/webm": "webm",
	"video/ogg":  "ogv",
	"audio/mpeg": "mp3",
	"audio/ogg":  "ogg",
	"audio/wav":  "wav",
}

// ExtensionFor maps a MIME type to the stored file extension, "bin" when unknown.
func ExtensionFor(mimeType string) string {
	if ext, ok := mimeExtensions[strings.ToLower(strings.TrimSpace(mimeType))]; ok {
		return ext
	}
	return "bin"
}

// Blob describes a stored upload.
type Blob struct {
	ID           string `json:"id"`
	Reference    string `json:"url"`
	MimeType     string `json:"type"`
	OriginalName string `json:"name,omitempty"`
	Size         int    `json:"size"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

// LocalStore 将上传文件保存在本地目录，并通过 publicPath 对外暴露。
type LocalStore struct {
	dir        string
	publicPath string
	retry      RetryPolicy

	writeFile  func(name string, data []byte, perm os.FileMode) error
	removeFile func(name string) error
}

// NewLocalStore creates a store rooted at dir, served under publicPath.
func NewLocalStore(dir, publicPath string, policy RetryPolicy) *LocalStore {
	publicPath = "/" + strings.Trim(strings.TrimSpace(publicPath), "/")
	return &LocalStore{
		dir:        dir,
		publicPath: publicPath,
		retry:      policy.normalized(),
		writeFile:  os.WriteFile,
		removeFile: os.Remove,
	}
}

// Dir returns the directory files are written to.
func (s *LocalStore) Dir() string {
	return s.dir
}

// PublicURLFor returns the public reference of a stored file name.
func (s *LocalStore) PublicURLFor(id string) string {
	return path.Join(s.publicPath, id)
}

// Owns reports whether reference points into this store.
func (s *LocalStore) Owns(reference string) bool {
	return strings.HasPrefix(reference, s.publicPath+"/")
}

// Check verifies that the upload directory exists (creating it if needed)
// and accepts writes.
func (s *LocalStore) Check() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: s.dir, Attempts: 1, Err: err}
	}
	tmp, err := os.CreateTemp(s.dir, ".healthz-*")
	if err != nil {
		return &IOError{Op: "check", Path: s.dir, Attempts: 1, Err: err}
	}
	name := tmp.Name()
	tmp.Close()
	if err := os.Remove(name); err != nil {
		return &IOError{Op: "check", Path: name, Attempts: 1, Err: err}
	}
	return nil
}

// Put validates data against mimeType and writes it under a fresh id.
func (s *LocalStore) Put(ctx context.Context, data []byte, mimeType, suggestedName string) (*Blob, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if !ValidateContent(data, mimeType) {
		verr := &ValidationError{Claimed: mimeType, Detected: DetectMimeType(data)}
		slog.Warn("rejected upload", "claimed", verr.Claimed, "detected", verr.Detected, "name", suggestedName)
		return nil, verr
	}
	if !HasSignature(mimeType) {
		slog.Warn("no signature defined for MIME type", "type", mimeType)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: s.dir, Attempts: 1, Err: err}
	}

	id := uuid.NewString()
	fileName := fmt.Sprintf("%s.%s", id, ExtensionFor(mimeType))
	target := filepath.Join(s.dir, fileName)

	attempts, err := s.retry.Do(ctx, "write", func() error {
		return s.writeFile(target, data, 0o644)
	})
	if err != nil {
		slog.Error("all upload attempts failed", "path", target, "attempts", attempts, "error", err)
		return nil, &IOError{Op: "write", Path: target, Attempts: attempts, Err: err}
	}

	blob := &Blob{
		ID:           id,
		Reference:    s.PublicURLFor(fileName),
		MimeType:     mimeType,
		OriginalName: suggestedName,
		Size:         len(data),
	}
	if strings.HasPrefix(mimeType, "image/") {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			blob.Width = cfg.Width
			blob.Height = cfg.Height
		}
	}
	return blob, nil
}

// Delete removes the file behind reference. A missing file counts as deleted.
func (s *LocalStore) Delete(ctx context.Context, reference string) (bool, error) {
	fileName := path.Base(strings.TrimSpace(reference))
	if fileName == "" || fileName == "." || fileName == "/" {
		return false, &IOError{Op: "delete", Path: reference, Attempts: 0, Err: errors.New("empty reference")}
	}
	target := filepath.Join(s.dir, fileName)

	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		slog.Debug("file already deleted", "path", target)
		return true, nil
	}

	attempts, err := s.retry.Do(ctx, "delete", func() error {
		err := s.removeFile(target)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	})
	if err != nil {
		slog.Error("failed to delete file", "path", target, "attempts", attempts, "error", err)
		return false, &IOError{Op: "delete", Path: target, Attempts: attempts, Err: err}
	}
	return true, nil
}
