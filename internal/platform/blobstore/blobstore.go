// Package blobstore stores named binary objects such as backup archives.
// It defines the Store interface, an in-memory implementation for tests and
// development, and a filesystem implementation rooted at one directory.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound    = errors.New("blob not found")
	ErrTooLarge    = errors.New("blob exceeds maximum allowed size")
	ErrInvalidName = errors.New("invalid blob name")
)

// MaxSize is the largest object a store accepts (1 GB).
const MaxSize = 1 << 30

// Object describes a stored blob.
type Object struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Hash      string    `json:"hash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	Put(ctx context.Context, name string, content io.Reader) (*Object, error)
	Get(ctx context.Context, name string) (io.ReadCloser, *Object, error)
	List(ctx context.Context, prefix string) ([]*Object, error)
	Delete(ctx context.Context, name string) error
}

// CleanName validates a slash-separated relative object name.
func CleanName(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return clean, nil
}

func sortObjects(objs []*Object) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].Name < objs[j].Name })
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	object  Object
	content []byte
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]*storedBlob), now: time.Now}
}

// Put reads the content, hashes it and replaces any object with the same name.
func (s *MemoryStore) Put(_ context.Context, name string, content io.Reader) (*Object, error) {
	name, err := CleanName(name)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(content, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxSize {
		return nil, ErrTooLarge
	}

	h := sha256.Sum256(data)
	obj := Object{
		Name:      name,
		Size:      int64(len(data)),
		Hash:      hex.EncodeToString(h[:]),
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	s.blobs[name] = &storedBlob{object: obj, content: data}
	s.mu.Unlock()
	return &obj, nil
}

func (s *MemoryStore) Get(_ context.Context, name string) (io.ReadCloser, *Object, error) {
	s.mu.RLock()
	blob, ok := s.blobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrNotFound
	}
	obj := blob.object
	return io.NopCloser(bytes.NewReader(blob.content)), &obj, nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Object{}
	for name, blob := range s.blobs {
		if strings.HasPrefix(name, prefix) {
			obj := blob.object
			out = append(out, &obj)
		}
	}
	sortObjects(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[name]; !ok {
		return ErrNotFound
	}
	delete(s.blobs, name)
	return nil
}

// ---------------------------------------------------------------------------
// Filesystem implementation
// ---------------------------------------------------------------------------

// FSStore keeps each object as a file under root. Writes go to a temporary
// file that is renamed into place, so readers never see a partial object.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(name string) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *FSStore) Put(ctx context.Context, name string, content io.Reader) (*Object, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(content, MaxSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write blob: %w", err)
	}
	if n > MaxSize {
		return nil, ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return nil, fmt.Errorf("commit blob: %w", err)
	}

	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("stat blob: %w", err)
	}
	clean, _ := CleanName(name)
	return &Object{
		Name:      clean,
		Size:      n,
		Hash:      hex.EncodeToString(h.Sum(nil)),
		CreatedAt: info.ModTime().UTC(),
	}, nil
}

func (s *FSStore) Get(_ context.Context, name string) (io.ReadCloser, *Object, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat blob: %w", err)
	}
	clean, _ := CleanName(name)
	return f, &Object{Name: clean, Size: info.Size(), CreatedAt: info.ModTime().UTC()}, nil
}

// List walks the store and returns objects whose name starts with prefix.
// Hashes are not recomputed for listed objects.
func (s *FSStore) List(_ context.Context, prefix string) ([]*Object, error) {
	out := []*Object{}
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, &Object{Name: name, Size: info.Size(), CreatedAt: info.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	sortObjects(out)
	return out, nil
}

func (s *FSStore) Delete(_ context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	} else if err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
