package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/disconnec/FeiSync/internal/ferr"
)

const (
	filePerm = 0o600
	dirPerm  = 0o700
)

// fileDoc is a JSON-backed document guarded by a read-write lock. Writes are
// made atomic with the write-to-temp-then-rename idiom the teacher uses for
// its TOML config file (internal/config/write.go atomicWriteFile).
type fileDoc[T any] struct {
	mu      sync.RWMutex
	path    string
	cached  *T
	corrupt bool
}

func newFileDoc[T any](path string, zero func() *T) (*fileDoc[T], error) {
	d := &fileDoc[T]{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			d.cached = zero()

			return d, nil
		}

		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		d.corrupt = true

		return d, ferr.Newf(ferr.ErrPersistenceCorrupt, "document %s failed to parse: %v", path, err)
	}

	d.cached = &v

	return d, nil
}

// Read takes the read lock and hands the cached value to fn. fn must not
// retain the pointer past its call.
func (d *fileDoc[T]) Read(fn func(*T)) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.corrupt {
		return ferr.New(ferr.ErrPersistenceCorrupt, "document "+d.path+" is corrupt; reads are unavailable")
	}

	fn(d.cached)

	return nil
}

// Write takes the write lock, applies fn to a deep-copied value (via a
// marshal/unmarshal round trip — simple, and size-appropriate for documents
// this small), persists atomically on success, and swaps in the new value.
// fn's error aborts the write; the document is unchanged.
func (d *fileDoc[T]) Write(fn func(*T) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.corrupt {
		return ferr.New(ferr.ErrPersistenceCorrupt, "document "+d.path+" is corrupt; mutations are refused until resolved")
	}

	next, err := deepCopy(d.cached)
	if err != nil {
		return fmt.Errorf("copying document %s: %w", d.path, err)
	}

	if err := fn(next); err != nil {
		return err
	}

	if err := atomicWriteJSON(d.path, next); err != nil {
		return fmt.Errorf("persisting document %s: %w", d.path, err)
	}

	d.cached = next

	return nil
}

func deepCopy[T any](v *T) (*T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// atomicWriteJSON serializes v and writes it to path atomically: temp file
// in the same directory, fsync, chmod, rename. Mirrors the teacher's
// atomicWriteFile for its TOML config.
func atomicWriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("creating document directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling document: %w", err)
	}

	f, err := os.CreateTemp(dir, ".doc-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, filePerm); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
