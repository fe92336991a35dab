package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// DiskStore keeps files under a single root directory.
type DiskStore struct {
	// Root is the top-level folder on disk where all files live.
	Root string
}

// NewDiskStore creates a DiskStore, creating root if it does not exist.
func NewDiskStore(root string) (*DiskStore, error) {
	if len(root) == 0 {
		root = "tftp_files"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	return &DiskStore{Root: root}, nil
}

// path resolves name inside Root. Names that would escape Root are refused.
func (d *DiskStore) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", name, ErrAccessDenied)
	}
	return filepath.Join(d.Root, clean), nil
}

func (d *DiskStore) ReadAll(name string) ([]byte, error) {
	p, err := d.path(name)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, classify(name, err)
	}
	return b, nil
}

func (d *DiskStore) Create(name string) error {
	p, err := d.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return classify(name, err)
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return classify(name, err)
	}
	return classify(name, f.Close())
}

func (d *DiskStore) Append(name string, b []byte) error {
	p, err := d.path(name)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return classify(name, err)
	}
	_, werr := f.Write(b)
	return classify(name, errors.Join(werr, f.Close()))
}

// Remove deletes name. It is used to discard a partial file after a failed
// transfer.
func (d *DiskStore) Remove(name string) error {
	p, err := d.path(name)
	if err != nil {
		return err
	}
	return classify(name, os.Remove(p))
}

// classify maps OS errors onto the storage sentinels; anything unrecognised
// is returned wrapped but unclassified.
func classify(name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%s: %w", name, ErrAlreadyExists)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w", name, ErrAccessDenied)
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return fmt.Errorf("%s: %w", name, ErrDiskFull)
	}
	return fmt.Errorf("%s: %w", name, err)
}
