package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disconnec/FeiSync/internal/backend"
	"github.com/disconnec/FeiSync/internal/backoff"
	"github.com/disconnec/FeiSync/internal/ferr"
	"github.com/disconnec/FeiSync/internal/store"
)

// DownloadRequest describes a file download to enqueue.
type DownloadRequest struct {
	TenantID string
	Token    string
	Name     string
	Size     int64
	DestDir  string
	TaskID   string
}

// EnqueueDownload creates a pending download transfer and starts it
// asynchronously.
func (e *Engine) EnqueueDownload(ctx context.Context, req DownloadRequest) (store.Transfer, error) {
	t, err := e.insertTransfer(store.Transfer{
		Direction:     store.TransferDownload,
		Kind:          store.TransferKindFileDown,
		Name:          req.Name,
		TenantID:      req.TenantID,
		ResourceToken: req.Token,
		Size:          req.Size,
		Status:        store.TransferPending,
		TaskID:        req.TaskID,
		ResumePayload: &store.ResumePayload{Token: req.Token, TargetPath: filepath.Join(req.DestDir, req.Name), Size: req.Size},
	})
	if err != nil {
		return store.Transfer{}, err
	}

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		e.runDownload(ctx, t.ID)
	}()

	return t, nil
}

func (e *Engine) runDownload(ctx context.Context, transferID string) {
	t, err := e.GetTransfer(transferID)
	if err != nil {
		e.logger.Error("runDownload: transfer vanished", "transfer_id", transferID, "error", err)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.register(t.ID, cancel)

	defer func() {
		cancel()
		e.unregister(t.ID)
	}()

	select {
	case e.downloadSem <- struct{}{}:
		defer func() { <-e.downloadSem }()
	case <-runCtx.Done():
		e.handleTerminalError(t.ID, ferr.New(ferr.ErrCancelled, "download interrupted while queued"))
		return
	}

	tenantSem := e.tenantSemaphore(t.TenantID)

	select {
	case tenantSem <- struct{}{}:
		defer func() { <-tenantSem }()
	case <-runCtx.Done():
		e.handleTerminalError(t.ID, ferr.New(ferr.ErrCancelled, "download interrupted while queued"))
		return
	}

	be, err := e.backendFor(runCtx, t.TenantID)
	if err != nil {
		e.fail(t.ID, err)
		return
	}

	if err := e.doDownload(runCtx, be, t); err != nil {
		e.handleTerminalError(t.ID, err)
	}
}

// resolveDestPath implements the unique-name rule of architecture.md
// §4.4.2 step 1: append " (n)" with the smallest n>=1 making the name
// unique within destDir.
func resolveDestPath(destDir, name string) string {
	candidate := filepath.Join(destDir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for n := 1; ; n++ {
		candidate = filepath.Join(destDir, fmt.Sprintf("%s (%d)%s", base, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func (e *Engine) doDownload(ctx context.Context, be backend.DriveBackend, t store.Transfer) error {
	payload := t.ResumePayload

	if payload.TempPath == "" {
		target := resolveDestPath(filepath.Dir(payload.TargetPath), filepath.Base(payload.TargetPath))
		tempPath := target + ".part"

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return ferr.Newf(ferr.ErrLocalIO, "creating destination dir: %v", err)
		}

		updated, err := e.updateTransfer(t.ID, func(rec *store.Transfer) {
			rec.Status = store.TransferRunning
			rec.ResumePayload.TempPath = tempPath
			rec.ResumePayload.TargetPath = target
		})
		if err != nil {
			return err
		}

		t = updated
		payload = t.ResumePayload
	} else if t.Status != store.TransferRunning {
		t, _ = e.updateTransfer(t.ID, func(rec *store.Transfer) { rec.Status = store.TransferRunning })
		payload = t.ResumePayload
	}

	f, err := os.OpenFile(payload.TempPath, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return ferr.Newf(ferr.ErrLocalIO, "opening temp file: %v", err)
	}
	defer f.Close()

	if info, statErr := f.Stat(); statErr == nil && info.Size() > payload.Downloaded {
		payload.Downloaded = info.Size()
	}

	for t.Size == 0 || payload.Downloaded < t.Size {
		if err := ctx.Err(); err != nil {
			return ferr.New(ferr.ErrCancelled, "download interrupted")
		}

		downloaded := payload.Downloaded

		var body io.ReadCloser

		if retryErr := e.runRetry(ctx, backoff.BlockRetry, func() error {
			var rErr error
			body, rErr = be.DownloadRange(ctx, payload.Token, downloaded, defaultDownloadBlockSize)
			return rErr
		}); retryErr != nil {
			return retryErr
		}

		n, copyErr := io.Copy(f, io.LimitReader(body, int64(defaultDownloadBlockSize)))
		body.Close()

		if copyErr != nil {
			return ferr.Newf(ferr.ErrLocalIO, "writing downloaded block: %v", copyErr)
		}

		nextT, uerr := e.updateTransfer(t.ID, func(rec *store.Transfer) {
			rec.Transferred += n
			rec.ResumePayload.Downloaded += n
		})
		if uerr != nil {
			return uerr
		}

		t = nextT
		payload = t.ResumePayload

		if n == 0 {
			break // backend signaled EOF on an unknown-size stream.
		}
	}

	if err := f.Close(); err != nil {
		return ferr.Newf(ferr.ErrLocalIO, "closing temp file: %v", err)
	}

	if err := os.Rename(payload.TempPath, payload.TargetPath); err != nil {
		return ferr.Newf(ferr.ErrLocalIO, "finalizing download: %v", err)
	}

	_, err = e.updateTransfer(t.ID, func(rec *store.Transfer) {
		rec.Status = store.TransferSuccess
		rec.LocalPath = payload.TargetPath
		rec.ResumePayload = nil
	})

	return err
}

// EnqueueFolderDownload mirrors the remote tree using list_folder
// depth-first, creating local directories eagerly, per architecture.md
// §4.4.2's folder-download paragraph.
func (e *Engine) EnqueueFolderDownload(ctx context.Context, tenantID, folderToken, destDir, taskID string) (store.Transfer, error) {
	be, err := e.backendFor(ctx, tenantID)
	if err != nil {
		return store.Transfer{}, err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return store.Transfer{}, ferr.Newf(ferr.ErrLocalIO, "creating destination dir: %v", err)
	}

	parent, err := e.insertTransfer(store.Transfer{
		Direction: store.TransferDownload, Kind: store.TransferKindFolderDown,
		Name: filepath.Base(destDir), TenantID: tenantID, ResourceToken: folderToken,
		LocalPath: destDir, Status: store.TransferRunning, TaskID: taskID,
	})
	if err != nil {
		return store.Transfer{}, err
	}

	children, size, err := e.mirrorDownload(ctx, be, tenantID, folderToken, destDir, parent.ID, taskID)
	if err != nil {
		e.fail(parent.ID, err)
		return parent, err
	}

	if _, err := e.updateTransfer(parent.ID, func(rec *store.Transfer) { rec.Size = size }); err != nil {
		return parent, err
	}

	e.wg.Add(1)

	go e.awaitFolderChildren(parent.ID, children)

	return parent, nil
}

func (e *Engine) mirrorDownload(ctx context.Context, be backend.DriveBackend, tenantID, folderToken, localDir, parentTransferID, taskID string) ([]string, int64, error) {
	entries, err := be.ListFolder(ctx, folderToken)
	if err != nil {
		return nil, 0, err
	}

	var (
		children  []string
		totalSize int64
	)

	for _, entry := range entries {
		if entry.Type == backend.EntryFolder {
			childDir := filepath.Join(localDir, entry.Name)
			if err := os.MkdirAll(childDir, 0o755); err != nil {
				return nil, 0, ferr.Newf(ferr.ErrLocalIO, "creating dir %s: %v", childDir, err)
			}

			sub, subSize, err := e.mirrorDownload(ctx, be, tenantID, entry.Token, childDir, parentTransferID, taskID)
			if err != nil {
				return nil, 0, err
			}

			children = append(children, sub...)
			totalSize += subSize

			continue
		}

		child, err := e.insertTransfer(store.Transfer{
			Direction: store.TransferDownload, Kind: store.TransferKindFileDown,
			Name: entry.Name, TenantID: tenantID, ResourceToken: entry.Token,
			Size: entry.Size, Status: store.TransferPending, TaskID: taskID,
			ParentTransferID: parentTransferID,
			ResumePayload:    &store.ResumePayload{Token: entry.Token, TargetPath: filepath.Join(localDir, entry.Name), Size: entry.Size},
		})
		if err != nil {
			return nil, 0, err
		}

		children = append(children, child.ID)
		totalSize += entry.Size

		e.wg.Add(1)

		go func(id string) {
			defer e.wg.Done()
			e.runDownload(ctx, id)
		}(child.ID)
	}

	return children, totalSize, nil
}
