package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore keeps audio files under a local directory. The ref is the path
// relative to dir so the upload directory can move between deployments.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) Save(ctx context.Context, id, filename string, r io.Reader, size int64) (string, error) {
	name := id + "_" + sanitize(filename)
	dst := filepath.Join(s.dir, name)

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("write audio file: %w", err)
	}
	return name, nil
}

func (s *DiskStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.dir, filepath.Base(ref)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	return f, nil
}

func (s *DiskStore) Delete(ctx context.Context, ref string) error {
	err := os.Remove(filepath.Join(s.dir, filepath.Base(ref)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete audio file: %w", err)
	}
	return nil
}

// sanitize strips path separators and whitespace from client filenames.
func sanitize(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
