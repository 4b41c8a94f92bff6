package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dreamware/shelf/internal/telemetry"
)

// pathLocks holds one mutex per resolved file path so that every FileStore
// bound to the same path within this process shares a single writer lock.
// Cross-process writers are not serialized; see the package documentation.
var pathLocks sync.Map // map[string]*sync.Mutex

func lockFor(path string) *sync.Mutex {
	mu, _ := pathLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// FileStore implements Store on top of a single JSON file. Every operation
// reads the file fresh and writes the whole document back, so the file on
// disk is always the sole source of truth.
type FileStore struct {
	path string
	mu   *sync.Mutex // shared per-path lock, see pathLocks
}

// NewFileStore creates a store bound to path. The parent directory and the
// file itself are created if missing (the file starts as an empty document),
// and the existing content is validated as JSON up front so that a corrupt
// file surfaces at open time rather than on first use.
func NewFileStore(path string) (*FileStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}

	s := &FileStore{
		path: abs,
		mu:   lockFor(abs),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureExists(); err != nil {
		return nil, err
	}
	if _, err := s.read(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the resolved path of the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// ensureExists creates the parent directory tree and seeds the file with an
// empty document. Idempotent: an existing file is left untouched.
func (s *FileStore) ensureExists() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return fmt.Errorf("create store file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte("{}")); err != nil {
		return fmt.Errorf("seed store file: %w", err)
	}
	return nil
}

// read loads and parses the full document. Callers must hold s.mu.
func (s *FileStore) read() (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}
	telemetry.RecordStoreRead()

	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, malformed(s.path, err)
	}
	return doc, nil
}

// write persists the full document, overwriting prior content. The document
// is pretty-printed so the file stays reviewable by hand. Callers must hold
// s.mu.
func (s *FileStore) write(doc map[string]json.RawMessage) error {
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store document: %w", err)
	}
	out = append(out, '\n')

	if err := os.WriteFile(s.path, out, 0o644); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	telemetry.RecordStoreWrite()
	return nil
}

// Contains reports whether key is present, reading the document fresh.
func (s *FileStore) Contains(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return false, err
	}
	_, ok := doc[key]
	return ok, nil
}

// Get unmarshals the value under key into out, reading the document fresh.
func (s *FileStore) Get(_ context.Context, key string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	raw, ok := doc[key]
	if !ok {
		return ErrKeyNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode value for key %q: %w", key, err)
	}
	return nil
}

// Set assigns doc[key] = value and writes the whole document back.
func (s *FileStore) Set(_ context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for key %q: %w", key, err)
	}
	doc[key] = raw
	return s.write(doc)
}

// Keys returns all keys in the document
// Order is not guaranteed
func (s *FileStore) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	return keys, nil
}

// Update applies fn to the value under key while holding the per-path lock
// across the read and the write, making the read-modify-write atomic for all
// FileStore instances on this path within the process.
func (s *FileStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	cur, ok := doc[key]

	next, err := fn(cur, ok)
	if err != nil {
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode value for key %q: %w", key, err)
	}
	doc[key] = raw
	return s.write(doc)
}

// malformed maps a JSON decode failure onto a MalformedStoreError, keeping
// the decoder's byte offset when it reports one.
func malformed(path string, err error) error {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return &MalformedStoreError{Path: path, Offset: syn.Offset, Err: err}
	}
	var typ *json.UnmarshalTypeError
	if errors.As(err, &typ) {
		return &MalformedStoreError{Path: path, Offset: typ.Offset, Err: err}
	}
	return &MalformedStoreError{Path: path, Err: err}
}
