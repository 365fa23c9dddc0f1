package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"pollchat/internal/domain"
)

var ErrInvalidPath = errors.New("invalid file path")

// Local stores attachments as flat files under a single root directory.
// Paths handed out and accepted are relative to that root.
type Local struct {
	root string
}

func NewLocal(root string) *Local {
	return &Local{root: root}
}

var _ domain.FileRemover = (*Local)(nil)

// Save writes r under a fresh name that keeps the extension of original.
// It returns the storage-relative path and the number of bytes written.
func (l *Local) Save(original string, r io.Reader) (string, int64, error) {
	ext := filepath.Ext(filepath.Base(original))
	if ext == "" {
		return "", 0, fmt.Errorf("file must have an extension")
	}
	name := uuid.NewString() + strings.ToLower(ext)

	out, err := os.OpenFile(filepath.Join(l.root, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create file: %w", err)
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out.Name())
		return "", 0, fmt.Errorf("write file: %w", err)
	}
	return name, n, nil
}

// Resolve maps a storage-relative path to its location on disk, refusing
// anything that would escape the root.
func (l *Local) Resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) || filepath.Base(rel) != rel || rel == "." || rel == ".." {
		return "", ErrInvalidPath
	}
	return filepath.Join(l.root, rel), nil
}

// Remove deletes a stored file. A file that is already gone is not an error.
func (l *Local) Remove(_ context.Context, rel string) error {
	p, err := l.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}
