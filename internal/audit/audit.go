// Package audit implements the append-only JSONL audit log of
// architecture.md §4.8: a rolling on-disk log with a configurable size cap,
// oldest-first archive pruning, and filtered reads. The append-then-rotate
// shape mirrors the teacher's atomic-write idiom (write, then decide
// whether to roll) applied to a log rather than a single document.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/disconnec/FeiSync/internal/ferr"
	"github.com/disconnec/FeiSync/internal/store"
)

const (
	activeLogName = "active.jsonl"
	dirPerm       = 0o700
	filePerm      = 0o600
)

// Log is an append-only, size-capped audit log.
type Log struct {
	mu      sync.Mutex
	dir     string
	capByte int64
}

// New creates a Log writing under dir, rolling over once the active file
// exceeds capMB megabytes (clamped to the spec's 5-2048 MB range).
func New(dir string, capMB int) (*Log, error) {
	if capMB < 5 {
		capMB = 5
	}

	if capMB > 2048 {
		capMB = 2048
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}

	return &Log{dir: dir, capByte: int64(capMB) * 1 << 20}, nil
}

// Append writes one entry to the active log file, rolling over first if the
// file has already reached the cap.
func (l *Log) Append(entry store.ApiLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixNano()
	}

	path := filepath.Join(l.dir, activeLogName)

	if info, err := os.Stat(path); err == nil && info.Size() >= l.capByte {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}

	return f.Sync()
}

// rotateLocked renames the active file to a timestamped archive and prunes
// archives oldest-first until the directory is back under the cap. Must be
// called with l.mu held.
func (l *Log) rotateLocked() error {
	active := filepath.Join(l.dir, activeLogName)

	archiveName := fmt.Sprintf("archive-%d.jsonl", time.Now().UnixNano())
	if err := os.Rename(active, filepath.Join(l.dir, archiveName)); err != nil {
		return fmt.Errorf("rotating audit log: %w", err)
	}

	return l.pruneLocked()
}

// pruneLocked removes the oldest archives until total directory size is
// under the cap. Must be called with l.mu held.
func (l *Log) pruneLocked() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("listing audit log directory: %w", err)
	}

	type archive struct {
		name string
		size int64
	}

	var archives []archive

	var total int64

	for _, e := range entries {
		if e.IsDir() || e.Name() == activeLogName || !strings.HasPrefix(e.Name(), "archive-") {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		archives = append(archives, archive{name: e.Name(), size: info.Size()})
		total += info.Size()
	}

	sort.Slice(archives, func(i, j int) bool { return archives[i].name < archives[j].name })

	for _, a := range archives {
		if total <= l.capByte {
			break
		}

		if err := os.Remove(filepath.Join(l.dir, a.name)); err != nil {
			continue
		}

		total -= a.size
	}

	return nil
}

// Filter narrows a Query's results.
type Filter struct {
	CommandSubstring string
	Status           store.LogStatus // empty: any
	Limit            int             // 0: unbounded
}

// Query reads matching entries across the active log and all archives,
// newest first, applying filter.
func (l *Log) Query(filter Filter) ([]store.ApiLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("listing audit log directory: %w", err)
	}

	var files []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		files = append(files, e.Name())
	}

	// Archives sort oldest to newest by their timestamped names; the active
	// file holds the newest entries, so it sorts last.
	sort.Slice(files, func(i, j int) bool {
		if files[i] == activeLogName || files[j] == activeLogName {
			return files[j] == activeLogName && files[i] != activeLogName
		}

		return files[i] < files[j]
	})

	var out []store.ApiLogEntry

	for i := len(files) - 1; i >= 0; i-- {
		batch, err := l.readFile(filepath.Join(l.dir, files[i]))
		if err != nil {
			return nil, err
		}

		for j := len(batch) - 1; j >= 0; j-- {
			entry := batch[j]

			if filter.CommandSubstring != "" && !strings.Contains(entry.Command, filter.CommandSubstring) {
				continue
			}

			if filter.Status != "" && entry.Status != filter.Status {
				continue
			}

			out = append(out, entry)

			if filter.Limit > 0 && len(out) >= filter.Limit {
				return out, nil
			}
		}
	}

	return out, nil
}

func (l *Log) readFile(path string) ([]store.ApiLogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, ferr.Newf(ferr.ErrLocalIO, "reading audit log %s: %v", path, err)
	}
	defer f.Close()

	var out []store.ApiLogEntry

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		var entry store.ApiLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // a partially written final line is tolerated, not fatal.
		}

		out = append(out, entry)
	}

	return out, scanner.Err()
}
