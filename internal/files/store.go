package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidFilename = errors.New("invalid filename")
	ErrFileNotFound    = errors.New("file not found")
)

// FileInfo is returned to the uploader and shared in chat file messages
type FileInfo struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// Store keeps uploads as flat files under Root named "<uuid>-<original name>"
type Store struct {
	Root string
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}

	return &Store{Root: root}, nil
}

func (s *Store) Save(originalName string, r io.Reader) (*FileInfo, error) {
	name := filepath.Base(filepath.Clean("/" + originalName))
	if name == "/" || name == "." {
		return nil, ErrInvalidFilename
	}

	info := &FileInfo{
		ID:           uuid.NewString(),
		OriginalName: name,
		UploadedAt:   time.Now().UTC(),
	}
	info.Filename = uuid.NewString() + "-" + name

	path := filepath.Join(s.Root, info.Filename)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}

	size, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// a partial upload is never served
		_ = os.Remove(path)
		return nil, fmt.Errorf("write %s: %w", info.Filename, err)
	}
	info.Size = size

	return info, nil
}

// Path resolves a stored filename. Names with any path component are rejected.
func (s *Store) Path(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", ErrInvalidFilename
	}

	path := filepath.Join(s.Root, filename)
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrFileNotFound
		}
		return "", err
	}
	if stat.IsDir() {
		return "", ErrFileNotFound
	}

	return path, nil
}
