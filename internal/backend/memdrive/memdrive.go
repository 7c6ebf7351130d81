// Package memdrive is a local-disk-backed reference implementation of
// backend.DriveBackend. It requires no network credentials, making FeiSync
// runnable end to end in tests and in development, and models the upload
// session / block-idempotence / short-read behaviors real backends exhibit
// so the transfer engine's retry and resume logic can be exercised without
// a live upstream.
package memdrive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/disconnec/FeiSync/internal/backend"
	"github.com/disconnec/FeiSync/internal/ferr"
)

// DefaultBlockSize is the chunk size memdrive hands out from UploadInit.
const DefaultBlockSize = 4 * 1024 * 1024

// node is one entry in the in-memory tree; file content lives on disk under
// root/<token>.bin.
type node struct {
	token       string
	name        string
	typ         backend.EntryType
	parentToken string
	size        int64
	mtime       time.Time
}

type uploadSession struct {
	parentToken string
	fileName    string
	size        int64
	blockSize   int64
	blocks      map[int64][]byte
	received    int64
}

// Backend is an in-memory + temp-dir DriveBackend. Safe for concurrent use.
type Backend struct {
	root string

	mu       sync.Mutex
	nodes    map[string]*node
	children map[string][]string // parentToken -> child tokens
	uploads  map[string]*uploadSession

	// FailNextN, when >0, causes the next N network-shaped calls to return
	// ErrUpstreamTransient — used by engine tests to exercise retry.
	FailNextN int
}

// New creates a Backend rooted at a fresh temp directory for file content.
func New() (*Backend, error) {
	root, err := os.MkdirTemp("", "memdrive-*")
	if err != nil {
		return nil, err
	}

	rootToken := "root"

	b := &Backend{
		root:     root,
		nodes:    map[string]*node{rootToken: {token: rootToken, name: "", typ: backend.EntryFolder}},
		children: make(map[string][]string),
		uploads:  make(map[string]*uploadSession),
	}

	return b, nil
}

func (b *Backend) maybeFail() error {
	if b.FailNextN > 0 {
		b.FailNextN--

		return ferr.New(ferr.ErrUpstreamTransient, "memdrive: injected failure")
	}

	return nil
}

func (b *Backend) ListRoot(ctx context.Context) (string, []backend.Entry, error) {
	entries, err := b.ListFolder(ctx, "root")

	return "root", entries, err
}

func (b *Backend) ListFolder(_ context.Context, folderToken string) ([]backend.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.maybeFail(); err != nil {
		return nil, err
	}

	if _, ok := b.nodes[folderToken]; !ok {
		return nil, ferr.New(ferr.ErrNotFound, "folder not found: "+folderToken)
	}

	var out []backend.Entry

	for _, tok := range b.children[folderToken] {
		n := b.nodes[tok]
		out = append(out, backend.Entry{
			Token: n.token, Name: n.name, Type: n.typ,
			ParentToken: n.parentToken, Size: n.size, Mtime: n.mtime,
		})
	}

	return out, nil
}

func (b *Backend) Metadata(_ context.Context, token string) (backend.Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.nodes[token]
	if !ok {
		return backend.Metadata{}, ferr.New(ferr.ErrNotFound, "token not found: "+token)
	}

	return backend.Metadata{Size: n.size, Mtime: n.mtime, LatestModifyTime: n.mtime}, nil
}

func (b *Backend) CreateFolder(_ context.Context, parentToken, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.maybeFail(); err != nil {
		return "", err
	}

	for _, tok := range b.children[parentToken] {
		if b.nodes[tok].name == name {
			return "", ferr.New(ferr.ErrDuplicateName, "entry named "+name+" already exists")
		}
	}

	token := uuid.NewString()
	b.nodes[token] = &node{token: token, name: name, typ: backend.EntryFolder, parentToken: parentToken, mtime: time.Now()}
	b.children[parentToken] = append(b.children[parentToken], token)

	return token, nil
}

func (b *Backend) Move(_ context.Context, token, newParentToken string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.nodes[token]
	if !ok {
		return ferr.New(ferr.ErrNotFound, "token not found: "+token)
	}

	b.removeChild(n.parentToken, token)
	n.parentToken = newParentToken
	b.children[newParentToken] = append(b.children[newParentToken], token)

	return nil
}

func (b *Backend) Copy(_ context.Context, token, newParentToken, newName string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.nodes[token]
	if !ok {
		return "", ferr.New(ferr.ErrNotFound, "token not found: "+token)
	}

	newToken := uuid.NewString()
	cp := *n
	cp.token = newToken
	cp.name = newName
	cp.parentToken = newParentToken
	b.nodes[newToken] = &cp
	b.children[newParentToken] = append(b.children[newParentToken], newToken)

	if n.typ == backend.EntryFile {
		src, err := os.ReadFile(b.contentPath(token))
		if err == nil {
			_ = os.WriteFile(b.contentPath(newToken), src, 0o600)
		}
	}

	return newToken, nil
}

func (b *Backend) Delete(_ context.Context, token string, _ backend.DeleteType) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.nodes[token]
	if !ok {
		return ferr.New(ferr.ErrNotFound, "token not found: "+token)
	}

	b.removeChild(n.parentToken, token)
	delete(b.nodes, token)
	delete(b.children, token)
	os.Remove(b.contentPath(token))

	return nil
}

func (b *Backend) removeChild(parentToken, token string) {
	kids := b.children[parentToken]

	for i, t := range kids {
		if t == token {
			b.children[parentToken] = append(kids[:i], kids[i+1:]...)

			return
		}
	}
}

func (b *Backend) contentPath(token string) string {
	return filepath.Join(b.root, token+".bin")
}

func (b *Backend) UploadInit(_ context.Context, parentToken, fileName string, size int64) (backend.UploadSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.maybeFail(); err != nil {
		return backend.UploadSession{}, err
	}

	id := uuid.NewString()
	b.uploads[id] = &uploadSession{
		parentToken: parentToken,
		fileName:    fileName,
		size:        size,
		blockSize:   DefaultBlockSize,
		blocks:      make(map[int64][]byte),
	}

	return backend.UploadSession{UploadID: id, BlockSize: DefaultBlockSize}, nil
}

func (b *Backend) UploadBlock(_ context.Context, uploadID string, seq int64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.maybeFail(); err != nil {
		return err
	}

	s, ok := b.uploads[uploadID]
	if !ok {
		return ferr.New(ferr.ErrNotFound, "upload session not found: "+uploadID)
	}

	if _, already := s.blocks[seq]; already {
		// Idempotent on (upload_id, seq): re-accept without double counting.
		return nil
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	s.blocks[seq] = cp
	s.received += int64(len(data))

	return nil
}

func (b *Backend) UploadFinish(_ context.Context, uploadID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.uploads[uploadID]
	if !ok {
		return "", ferr.New(ferr.ErrNotFound, "upload session not found: "+uploadID)
	}

	var buf bytes.Buffer

	numBlocks := int64(0)
	if s.size > 0 {
		numBlocks = (s.size + s.blockSize - 1) / s.blockSize
	}

	for seq := int64(0); seq < numBlocks; seq++ {
		block, ok := s.blocks[seq]
		if !ok {
			return "", ferr.Newf(ferr.ErrInvalidArgument, "missing block %d", seq)
		}

		buf.Write(block)
	}

	token := uuid.NewString()
	if err := os.WriteFile(b.contentPath(token), buf.Bytes(), 0o600); err != nil {
		return "", fmt.Errorf("memdrive: writing uploaded content: %w", err)
	}

	n := &node{
		token: token, name: s.fileName, typ: backend.EntryFile,
		parentToken: s.parentToken, size: int64(buf.Len()), mtime: time.Now(),
	}
	b.nodes[token] = n
	b.children[s.parentToken] = append(b.children[s.parentToken], token)
	delete(b.uploads, uploadID)

	return token, nil
}

func (b *Backend) UploadAbort(_ context.Context, uploadID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.uploads, uploadID)

	return nil
}

func (b *Backend) DownloadRange(_ context.Context, token string, offset, length int64) (io.ReadCloser, error) {
	b.mu.Lock()
	n, ok := b.nodes[token]
	b.mu.Unlock()

	if !ok {
		return nil, ferr.New(ferr.ErrNotFound, "token not found: "+token)
	}

	f, err := os.Open(b.contentPath(n.token))
	if err != nil {
		return nil, fmt.Errorf("memdrive: opening content: %w", err)
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()

		return nil, fmt.Errorf("memdrive: seeking: %w", err)
	}

	return &limitedReadCloser{r: io.LimitReader(f, length), c: f}, nil
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }

func (b *Backend) Quota(context.Context) (backend.Quota, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var used int64

	for tok, n := range b.nodes {
		if n.typ == backend.EntryFile {
			if fi, err := os.Stat(b.contentPath(tok)); err == nil {
				used += fi.Size()
			}
		}
	}

	return backend.Quota{Used: used, Total: 100 * 1024 * 1024 * 1024}, nil
}

// Close removes the backing temp directory. Tests should defer Close.
func (b *Backend) Close() error {
	return os.RemoveAll(b.root)
}

// Factory adapts New to backend.Factory for registry wiring. Credentials are
// ignored — memdrive needs none.
func Factory(map[string]string) (backend.DriveBackend, error) {
	return New()
}
