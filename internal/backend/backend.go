// Package backend defines the DriveBackend capability (architecture.md §4.2):
// the abstract boundary between FeiSync's engine/router and an upstream
// cloud drive. The wire format of any concrete upstream is explicitly out
// of scope (spec.md §1) — this package only fixes the Go interface every
// adapter must satisfy.
package backend

import (
	"context"
	"io"
	"time"
)

// EntryType classifies a remote entry.
type EntryType string

const (
	EntryFolder EntryType = "folder"
	EntryFile   EntryType = "file"
	EntryDoc    EntryType = "doc"
)

// Entry is one remote file or folder as returned by a listing call.
type Entry struct {
	Token       string
	Name        string
	Type        EntryType
	ParentToken string
	Size        int64
	Mtime       time.Time
}

// Metadata is the detail returned by a metadata lookup.
type Metadata struct {
	Size             int64
	Mtime            time.Time
	Checksum         string // empty if the backend doesn't expose one
	LatestModifyTime time.Time
}

// UploadSession is the handle returned by UploadInit, opaque to callers
// beyond the fields they need to drive the block loop.
type UploadSession struct {
	UploadID  string
	BlockSize int64
}

// Quota reports a tenant's used/total space as seen by the upstream.
type Quota struct {
	Used  int64
	Total int64
}

// DeleteType distinguishes a file delete from a folder delete, since some
// backends require different calls for each.
type DeleteType string

const (
	DeleteFile   DeleteType = "file"
	DeleteFolder DeleteType = "folder"
)

// DriveBackend is the capability every upstream cloud-drive adapter must
// implement (architecture.md §4.2). Implementations own their own token
// refresh and rate-limit handling; upstream failures surface as the
// sentinel errors in internal/ferr (UpstreamTransient, UpstreamPermanent,
// UpstreamRateLimited, Timeout).
type DriveBackend interface {
	ListRoot(ctx context.Context) (rootToken string, entries []Entry, err error)
	ListFolder(ctx context.Context, folderToken string) ([]Entry, error)
	Metadata(ctx context.Context, token string) (Metadata, error)
	CreateFolder(ctx context.Context, parentToken, name string) (token string, err error)
	Move(ctx context.Context, token, newParentToken string) error
	Copy(ctx context.Context, token, newParentToken, newName string) (newToken string, err error)
	Delete(ctx context.Context, token string, kind DeleteType) error

	// UploadInit begins a resumable upload session. block_size is the
	// backend's required chunk alignment.
	UploadInit(ctx context.Context, parentToken, fileName string, size int64) (UploadSession, error)
	// UploadBlock uploads one chunk. Idempotent on (upload_id, seq).
	UploadBlock(ctx context.Context, uploadID string, seq int64, data []byte) error
	UploadFinish(ctx context.Context, uploadID string) (token string, err error)
	UploadAbort(ctx context.Context, uploadID string) error

	// DownloadRange fetches up to len bytes starting at offset. The backend
	// may return a short read; callers loop until they have what they need.
	DownloadRange(ctx context.Context, token string, offset, length int64) (io.ReadCloser, error)

	Quota(ctx context.Context) (Quota, error)
}

// Registry resolves a backend-kind string (Tenant.BackendKind) to a factory
// that builds a DriveBackend for one tenant's credentials.
type Registry struct {
	factories map[string]Factory
}

// Factory builds a DriveBackend bound to one tenant's stored credentials.
// Credentials are passed as an opaque map so the registry doesn't need to
// know each backend's credential shape.
type Factory func(creds map[string]string) (DriveBackend, error)

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the given backend kind.
func (r *Registry) Register(kind string, f Factory) {
	r.factories[kind] = f
}

// Build resolves a backend kind to a live DriveBackend instance.
func (r *Registry) Build(kind string, creds map[string]string) (DriveBackend, error) {
	f, ok := r.factories[kind]
	if !ok {
		return nil, &unknownKindError{kind: kind}
	}

	return f(creds)
}

type unknownKindError struct{ kind string }

func (e *unknownKindError) Error() string {
	return "backend: unknown backend kind " + e.kind
}
