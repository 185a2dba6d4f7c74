package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var ErrFileMissing = errors.New("deliverable file missing")

// Store defines the interface for the gated deliverable. There is exactly
// one file per deployment; its download name and type are fixed.
type Store interface {
	Save(data io.Reader) (int64, error)
	GetPath() (string, error)
	Filename() string
	ContentType() string
	EnsureDir() error
}

// FileSystemStore keeps the deliverable on the local filesystem.
type FileSystemStore struct {
	path        string
	filename    string
	contentType string
}

// NewFileSystemStore creates a store for the file at path, served as filename.
func NewFileSystemStore(path, filename, contentType string) *FileSystemStore {
	return &FileSystemStore{path: path, filename: filename, contentType: contentType}
}

// EnsureDir creates the directory holding the deliverable if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}
	return nil
}

// Save replaces the deliverable with data. The new content is written to a
// temp file and renamed so that concurrent downloads never see a partial file.
func (fs *FileSystemStore) Save(data io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".deliverable-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, data)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		return 0, fmt.Errorf("failed to install deliverable: %w", err)
	}
	return n, nil
}

// GetPath returns the path to the deliverable, or ErrFileMissing.
func (fs *FileSystemStore) GetPath() (string, error) {
	info, err := os.Stat(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrFileMissing, fs.path)
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrFileMissing, fs.path)
	}
	return fs.path, nil
}

// Filename is the name offered to the browser in Content-Disposition.
func (fs *FileSystemStore) Filename() string {
	return fs.filename
}

// ContentType is the media type the deliverable is served with.
func (fs *FileSystemStore) ContentType() string {
	return fs.contentType
}
