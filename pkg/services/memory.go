package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// Call records one mutating operation made against a MemoryStore.
type Call struct {
	Op   string // create, update, delete
	Path string
}

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	files   map[string][]byte
	calls   []Call
	failure func(op, path string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: map[string][]byte{}}
}

// FailWith installs a hook consulted before every operation. A non-nil
// return is handed back to the caller instead of performing the operation.
func (s *MemoryStore) FailWith(fn func(op, path string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = fn
}

// Put writes a file without recording a call.
func (s *MemoryStore) Put(p string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[p] = append([]byte(nil), content...)
}

// Has reports whether p exists.
func (s *MemoryStore) Has(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[p]
	return ok
}

// Calls returns the mutating operations performed so far, oldest first.
func (s *MemoryStore) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CountCalls counts operations of the given kind on p.
func (s *MemoryStore) CountCalls(op, p string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Op == op && c.Path == p {
			n++
		}
	}
	return n
}

func (s *MemoryStore) fail(op, p string) error {
	if s.failure == nil {
		return nil
	}
	return s.failure(op, p)
}

func (s *MemoryStore) Get(_ context.Context, p string) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("get", p); err != nil {
		return nil, err
	}
	content, ok := s.files[p]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	return &File{Path: p, SHA: blobSHA(content), Content: append([]byte(nil), content...)}, nil
}

func (s *MemoryStore) Create(_ context.Context, p, _ string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: "create", Path: p})
	if err := s.fail("create", p); err != nil {
		return err
	}
	if _, ok := s.files[p]; ok {
		return fmt.Errorf("%s: %w", p, ErrExists)
	}
	s.files[p] = append([]byte(nil), content...)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, p, _ string, content []byte, sha string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: "update", Path: p})
	if err := s.fail("update", p); err != nil {
		return err
	}
	current, ok := s.files[p]
	if !ok {
		return fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if blobSHA(current) != sha {
		return fmt.Errorf("%s: sha mismatch", p)
	}
	s.files[p] = append([]byte(nil), content...)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, p, _, sha string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: "delete", Path: p})
	if err := s.fail("delete", p); err != nil {
		return err
	}
	current, ok := s.files[p]
	if !ok {
		return fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if blobSHA(current) != sha {
		return fmt.Errorf("%s: sha mismatch", p)
	}
	delete(s.files, p)
	return nil
}

func (s *MemoryStore) List(_ context.Context, dir string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("list", dir); err != nil {
		return nil, err
	}
	dir = strings.TrimSuffix(dir, "/")
	seen := map[string]Entry{}
	for p := range s.files {
		rest := strings.TrimPrefix(p, dir+"/")
		if rest == p {
			continue
		}
		name, _, isDir := strings.Cut(rest, "/")
		entry := Entry{Path: path.Join(dir, name), Name: name, Type: "file"}
		if isDir {
			entry.Type = "dir"
		}
		seen[entry.Path] = entry
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotFound)
	}
	out := make([]Entry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// blobSHA mirrors git's blob object hash.
func blobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
