// Package syncrunner implements the three-way reconciliation engine of
// architecture.md §4.6: enumerate both sides, classify every path against
// its snapshot, resolve conflicts by policy, and drive the resulting
// actions through the transfer engine. The depth-first dual-source
// enumeration is grounded on the teacher's sync.Buffer/PathChanges
// grouping-by-path shape; glob filtering uses doublestar (already present
// in the retrieved corpus's dependency graph) for the spec's "**" semantics
// rather than hand-rolling path.Match, which doesn't support it.
package syncrunner

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/disconnec/FeiSync/internal/backend"
	"github.com/disconnec/FeiSync/internal/ferr"
)

// RemoteEntry is one remote file or folder, keyed by its path relative to
// the task's remote_folder_token.
type RemoteEntry struct {
	RelPath  string
	Token    string
	IsDir    bool
	Size     int64
	Mtime    int64 // unix nanoseconds
	Checksum string
}

// LocalEntry is one local file or folder, keyed by its path relative to
// the task's local_path.
type LocalEntry struct {
	RelPath string
	Size    int64
	Mtime   int64 // unix nanoseconds
	IsDir   bool
}

// globFilter implements architecture.md §4.6.1's include/exclude rule: an
// entry passes iff (includes are empty OR some include matches) AND no
// exclude matches. Directories are walked regardless of their own filter
// result so their children can still be considered.
type globFilter struct {
	includes []string
	excludes []string
}

func newGlobFilter(includes, excludes []string) globFilter {
	return globFilter{includes: includes, excludes: excludes}
}

func (f globFilter) passes(relPath string) bool {
	for _, pattern := range f.excludes {
		if match(pattern, relPath) {
			return false
		}
	}

	if len(f.includes) == 0 {
		return true
	}

	for _, pattern := range f.includes {
		if match(pattern, relPath) {
			return true
		}
	}

	return false
}

func match(pattern, relPath string) bool {
	ok, err := doublestar.Match(pattern, relPath)
	return err == nil && ok
}

// EnumerateRemote walks the remote folder tree depth-first from rootToken,
// yielding an entry for every file (directories are walked but not
// themselves yielded as syncable entries, matching the truth table's
// file-oriented rows). Entries failing the filter are skipped, but their
// subdirectories are still descended into.
func EnumerateRemote(ctx context.Context, be backend.DriveBackend, rootToken string, filter globFilter) ([]RemoteEntry, error) {
	var out []RemoteEntry

	if err := enumerateRemoteDir(ctx, be, rootToken, "", filter, &out); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })

	return out, nil
}

func enumerateRemoteDir(ctx context.Context, be backend.DriveBackend, token, relPrefix string, filter globFilter, out *[]RemoteEntry) error {
	children, err := be.ListFolder(ctx, token)
	if err != nil {
		return err
	}

	for _, child := range children {
		rel := path.Join(relPrefix, child.Name)

		if child.Type == backend.EntryFolder {
			if err := enumerateRemoteDir(ctx, be, child.Token, rel, filter, out); err != nil {
				return err
			}

			continue
		}

		if !filter.passes(rel) {
			continue
		}

		*out = append(*out, RemoteEntry{
			RelPath: rel, Token: child.Token, Size: child.Size,
			Mtime: child.Mtime.UnixNano(),
		})
	}

	return nil
}

// EnumerateLocal walks the local directory tree depth-first, yielding an
// entry for every regular file passing the filter.
func EnumerateLocal(root string, filter globFilter) ([]LocalEntry, error) {
	var out []LocalEntry

	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if p == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}

		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			return nil // directories are walked regardless of filter; see doc comment.
		}

		if !filter.passes(rel) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}

		out = append(out, LocalEntry{RelPath: rel, Size: info.Size(), Mtime: info.ModTime().UnixNano()})

		return nil
	})
	if err != nil {
		return nil, ferr.Newf(ferr.ErrLocalIO, "enumerating %s: %v", root, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })

	return out, nil
}
