package services

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the remote path does not exist.
	ErrNotFound = errors.New("remote file not found")
	// ErrExists is returned when creating a path that is already present.
	ErrExists = errors.New("remote file already exists")
	// ErrTransient marks failures that may succeed if tried again later.
	ErrTransient = errors.New("transient remote failure")
)

// File is a remote file with its blob sha.
type File struct {
	Path    string
	SHA     string
	Content []byte
}

// Entry is one item of a remote directory listing.
type Entry struct {
	Path string
	Name string
	Type string // "file" or "dir"
}

// Store is the repository API the admin writes through. Every call targets
// the configured branch.
type Store interface {
	Get(ctx context.Context, path string) (*File, error)
	Create(ctx context.Context, path, message string, content []byte) error
	Update(ctx context.Context, path, message string, content []byte, sha string) error
	Delete(ctx context.Context, path, message, sha string) error
	List(ctx context.Context, dir string) ([]Entry, error)
}

// removeRemote looks up the current sha of path and deletes it.
func removeRemote(ctx context.Context, store Store, path, message string) error {
	f, err := store.Get(ctx, path)
	if err != nil {
		return err
	}
	return store.Delete(ctx, f.Path, message, f.SHA)
}

// exists reports whether path is present. Any lookup failure counts as absent.
func exists(ctx context.Context, store Store, path string) bool {
	_, err := store.Get(ctx, path)
	return err == nil
}
