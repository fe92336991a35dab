// Package storage is the file store the responder and requester read from and
// write to. Failures are classified into a small set of sentinel errors that
// map one-to-one onto TFTP error codes.
package storage

import (
	"errors"
	"io"
)

// Storage errors. Implementations wrap one of these so callers can use errors.Is.
var (
	ErrNotFound      = errors.New("file not found")
	ErrAccessDenied  = errors.New("access denied")
	ErrAlreadyExists = errors.New("file already exists")
	ErrDiskFull      = errors.New("disk full")
)

// Storage is the collaborator interface consumed by the transfer roles.
type Storage interface {
	// ReadAll returns the whole content of name.
	// Errors: ErrNotFound, ErrAccessDenied.
	ReadAll(name string) ([]byte, error)

	// Create makes a new empty file. It never truncates an existing one.
	// Errors: ErrAccessDenied, ErrAlreadyExists, ErrDiskFull.
	Create(name string) error

	// Append adds b at the end of an existing file.
	// Errors: ErrAccessDenied, ErrDiskFull, ErrNotFound.
	Append(name string, b []byte) error
}

// Appender adapts Storage.Append to io.Writer, so the receiving side of a
// transfer can stream blocks straight into a file.
func Appender(s Storage, name string) io.Writer {
	return &appender{s: s, name: name}
}

type appender struct {
	s    Storage
	name string
}

func (a *appender) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := a.s.Append(a.name, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Remover is implemented by stores that can delete a file.
type Remover interface {
	Remove(name string) error
}

// Discard drops a partially written file after a failed transfer. Stores that
// cannot delete keep the file.
func Discard(s Storage, name string) error {
	if r, ok := s.(Remover); ok {
		return r.Remove(name)
	}
	return nil
}
