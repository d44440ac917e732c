// Package store persists the towerlink settings document as a single JSON file.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// KV is the key/value surface consumed by the config and window layers.
type KV interface {
	Get(key string) (json.RawMessage, bool)
	Has(key string) bool
	Set(key string, value any) error
	// Merge writes every value and removes every listed key in one durable write.
	Merge(values map[string]any, remove ...string) error
}

// CorruptDocumentError reports a settings file that could not be parsed.
type CorruptDocumentError struct {
	Path     string
	MovedTo  string
	ParseErr error
}

func (e *CorruptDocumentError) Error() string {
	if e.MovedTo != "" {
		return fmt.Sprintf("settings file %q is corrupt (moved to %q): %v", e.Path, e.MovedTo, e.ParseErr)
	}
	return fmt.Sprintf("settings file %q is corrupt: %v", e.Path, e.ParseErr)
}

func (e *CorruptDocumentError) Unwrap() error {
	return e.ParseErr
}

// File is a KV backed by one JSON document on disk.
type File struct {
	path         string
	clearInvalid bool

	mu        sync.Mutex
	doc       map[string]json.RawMessage
	recovered error
}

// OpenOption customizes Open.
type OpenOption func(*File)

// WithClearInvalid replaces an unparseable document with an empty one instead of failing.
func WithClearInvalid(enabled bool) OpenOption {
	return func(f *File) {
		f.clearInvalid = enabled
	}
}

// Open reads path into memory. A missing file yields an empty document.
func Open(path string, opts ...OpenOption) (*File, error) {
	f := &File{path: path}
	for _, opt := range opts {
		opt(f)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.doc = map[string]json.RawMessage{}
			return f, nil
		}
		return nil, fmt.Errorf("read settings %q: %w", path, err)
	}

	doc, parseErr := decodeDocument(content)
	if parseErr == nil {
		f.doc = doc
		return f, nil
	}

	corrupt := &CorruptDocumentError{Path: path, ParseErr: parseErr}
	if !f.clearInvalid {
		return nil, corrupt
	}

	movedTo := path + ".corrupt"
	if err := os.Rename(path, movedTo); err == nil {
		corrupt.MovedTo = movedTo
	}
	f.doc = map[string]json.RawMessage{}
	f.recovered = corrupt
	return f, nil
}

// Path returns the backing file location.
func (f *File) Path() string {
	return f.path
}

// Recovered reports the corruption replaced at Open, if any.
func (f *File) Recovered() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recovered
}

// Get returns a copy of the raw value stored at key.
func (f *File) Get(key string) (json.RawMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, ok := f.doc[key]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), raw...), true
}

// Has reports whether key is present, including explicit nulls.
func (f *File) Has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.doc[key]
	return ok
}

// Set stores one value and persists the document.
func (f *File) Set(key string, value any) error {
	return f.Merge(map[string]any{key: value})
}

// Merge applies values and removals to a copy of the document, writes it,
// and only then swaps it in as the current state.
func (f *File) Merge(values map[string]any, remove ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]json.RawMessage, len(f.doc)+len(values))
	for k, v := range f.doc {
		next[k] = v
	}
	for _, k := range remove {
		delete(next, k)
	}
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode settings key %q: %w", k, err)
		}
		next[k] = raw
	}

	if err := writeDocument(f.path, next); err != nil {
		return err
	}
	f.doc = next
	return nil
}

// Snapshot returns the document as it would be written to disk.
func (f *File) Snapshot() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return encodeDocument(f.doc)
}

func encodeDocument(doc map[string]json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return buf.Bytes(), nil
}

// writeDocument replaces path atomically: temp file, fsync, rename.
func writeDocument(path string, doc map[string]json.RawMessage) error {
	content, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("ensure settings dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp settings file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp settings file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp settings file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("replace settings %q: %w", path, err)
	}
	return nil
}
