package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Image formats accepted from the scan upload endpoint.
var allowedImageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// ErrUnsupportedImage is returned for uploads that are not jpg/jpeg/png.
var ErrUnsupportedImage = fmt.Errorf("unsupported image format")

// ImageStore writes uploaded receipt images to a directory, one file per
// scan, named by a fresh id so uploads can never collide or traverse
// paths.
type ImageStore struct {
	dir string
}

func NewImageStore(dir string) (*ImageStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}
	return &ImageStore{dir: dir}, nil
}

// Save writes the image and returns its path. originalName is only used
// for its extension.
func (s *ImageStore) Save(originalName string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !allowedImageExts[ext] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, ext)
	}

	path := filepath.Join(s.dir, uuid.NewString()+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write image file: %w", err)
	}
	return path, nil
}

// Read loads a stored image back, refusing paths outside the store
// directory.
func (s *ImageStore) Read(path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve image path: %w", err)
	}
	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return nil, fmt.Errorf("resolve image directory: %w", err)
	}
	if !strings.HasPrefix(abs, dir+string(os.PathSeparator)) {
		return nil, fmt.Errorf("image path %s outside store", path)
	}
	return os.ReadFile(abs)
}

// Remove deletes a stored image; a missing file is not an error.
func (s *ImageStore) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove image file: %w", err)
	}
	return nil
}
