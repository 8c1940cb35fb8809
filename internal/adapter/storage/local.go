package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage keeps artifacts in a directory. Dot files, such as
// in-progress work directories and partial copies, are ignored.
type LocalStorage struct {
	basePath string
}

func NewLocal(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Check verifies that the directory exists and is writable.
func (l *LocalStorage) Check(ctx context.Context) error {
	info, err := os.Stat(l.basePath)
	if err != nil {
		return fmt.Errorf("failed to access %s: %w", l.basePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", l.basePath)
	}
	f, err := os.CreateTemp(l.basePath, ".vigil-check-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", l.basePath, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Upload copies localPath into the directory. The copy becomes visible
// under remoteName only once complete.
func (l *LocalStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	destPath := filepath.Join(l.basePath, remoteName)
	if filepath.Clean(localPath) == filepath.Clean(destPath) {
		return nil
	}

	source, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	tmp, err := os.CreateTemp(l.basePath, "."+remoteName+".*")
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, source); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to copy: %w", err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("failed to move into place: %w", err)
	}
	return nil
}

func (l *LocalStorage) entries() ([]os.DirEntry, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	files := entries[:0]
	for _, entry := range entries {
		if !entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			files = append(files, entry)
		}
	}
	return files, nil
}

func (l *LocalStorage) List(ctx context.Context) ([]string, error) {
	entries, err := l.entries()
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	return files, nil
}

func (l *LocalStorage) Delete(ctx context.Context, remoteName string) error {
	filePath := filepath.Join(l.basePath, filepath.Base(remoteName))
	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (l *LocalStorage) GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error) {
	entries, err := l.entries()
	if err != nil {
		return nil, err
	}

	var oldFiles []string
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to get file info for %s: %w", entry.Name(), err)
		}
		if info.ModTime().Before(cutoffTime) {
			oldFiles = append(oldFiles, entry.Name())
		}
	}

	return oldFiles, nil
}

func (l *LocalStorage) GetPath(filename string) string {
	return filepath.Join(l.basePath, filename)
}
