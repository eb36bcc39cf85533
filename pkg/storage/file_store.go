// Package storage handles local staging of uploads and preview copies, with
// an S3-compatible backend as an alternative for previews.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// PreviewStore keeps the original bytes of ingested documents so the UI can
// render them later. Keys are "<userID>/<fileID>/<filename>".
type PreviewStore interface {
	Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes everything under "<prefix>/".
	DeletePrefix(ctx context.Context, prefix string) error
}

// FileStore implements PreviewStore on the local filesystem and additionally
// stages incoming uploads in a temp directory.
type FileStore struct {
	basePath string
	tempPath string
}

// NewFileStore creates the preview and staging directories if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	tempPath := filepath.Join(basePath, "tmp")
	for _, dir := range []string{basePath, tempPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return &FileStore{basePath: basePath, tempPath: tempPath}, nil
}

// StagedUpload is an incoming file parked on disk before remote ingestion.
type StagedUpload struct {
	Path      string
	SizeBytes int64
	SHA256    string
}

// Stage writes the upload to the temp directory, hashing it on the way
// through. The caller removes the staged file when done.
func (f *FileStore) Stage(r io.Reader) (*StagedUpload, error) {
	tmp, err := os.CreateTemp(f.tempPath, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	defer tmp.Close()

	hasher := sha256.New()
	size, err := io.Copy(tmp, io.TeeReader(r, hasher))
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("write staging file: %w", err)
	}
	return &StagedUpload{
		Path:      tmp.Name(),
		SizeBytes: size,
		SHA256:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Discard removes a staged upload. Missing files are fine.
func (f *FileStore) Discard(staged *StagedUpload) {
	if staged == nil {
		return
	}
	os.Remove(staged.Path)
}

// Save copies preview bytes under the given key.
func (f *FileStore) Save(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	target := f.resolve(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create preview dir: %w", err)
	}
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create preview file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("write preview file: %w", err)
	}
	return nil
}

// Open streams a stored preview and reports its size.
func (f *FileStore) Open(_ context.Context, key string) (io.ReadCloser, int64, error) {
	path := f.resolve(key)
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, fmt.Errorf("stat preview: %w", err)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open preview: %w", err)
	}
	return file, info.Size(), nil
}

// Delete removes one preview. Missing files are fine.
func (f *FileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(f.resolve(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete preview: %w", err)
	}
	return nil
}

// DeletePrefix removes everything under a key prefix (e.g. a whole user).
func (f *FileStore) DeletePrefix(_ context.Context, prefix string) error {
	dir := f.resolve(prefix)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return os.RemoveAll(dir)
}

// LocalPath maps a key onto its on-disk location (page probing).
func (f *FileStore) LocalPath(key string) string {
	return f.resolve(key)
}

// resolve joins the key onto the base path, flattening traversal segments.
func (f *FileStore) resolve(key string) string {
	parts := strings.Split(key, "/")
	safe := make([]string, 0, len(parts))
	for _, p := range parts {
		p = safeSegment(p)
		if p != "" {
			safe = append(safe, p)
		}
	}
	return filepath.Join(append([]string{f.basePath}, safe...)...)
}

func safeSegment(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// PreviewKey builds the canonical key for a user's file preview.
func PreviewKey(userID, fileID, filename string) string {
	name := safeSegment(filename)
	if name == "" {
		name = "document"
	}
	return userID + "/" + fileID + "/" + name
}
