package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/disconnec/FeiSync/internal/backend"
	"github.com/disconnec/FeiSync/internal/backoff"
	"github.com/disconnec/FeiSync/internal/events"
	"github.com/disconnec/FeiSync/internal/ferr"
	"github.com/disconnec/FeiSync/internal/store"
)

// UploadRequest describes a file upload to enqueue.
type UploadRequest struct {
	TenantID    string
	ParentToken string // empty: resolve a write target via the caller's router first
	LocalPath   string
	TaskID      string
}

// EnqueueUpload creates a pending upload transfer and starts it
// asynchronously, gated by the upload direction pool and the destination
// tenant's semaphore (architecture.md §4.4.5).
func (e *Engine) EnqueueUpload(ctx context.Context, req UploadRequest) (store.Transfer, error) {
	info, err := os.Stat(req.LocalPath)
	if err != nil {
		return store.Transfer{}, ferr.Newf(ferr.ErrLocalIO, "stat %s: %v", req.LocalPath, err)
	}

	t, err := e.insertTransfer(store.Transfer{
		Direction:   store.TransferUpload,
		Kind:        store.TransferKindFileUp,
		Name:        info.Name(),
		TenantID:    req.TenantID,
		ParentToken: req.ParentToken,
		LocalPath:   req.LocalPath,
		Size:        info.Size(),
		Status:      store.TransferPending,
		TaskID:      req.TaskID,
	})
	if err != nil {
		return store.Transfer{}, err
	}

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		e.runUpload(ctx, t.ID)
	}()

	return t, nil
}

// runUpload drives one transfer through the upload state machine
// (architecture.md §4.4.1). It acquires the direction and per-tenant
// semaphores before touching the network, matching the teacher's worker
// pool shape of bounded concurrency guarding the actual I/O call.
func (e *Engine) runUpload(ctx context.Context, transferID string) {
	t, err := e.GetTransfer(transferID)
	if err != nil {
		e.logger.Error("runUpload: transfer vanished", "transfer_id", transferID, "error", err)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.register(t.ID, cancel)

	defer func() {
		cancel()
		e.unregister(t.ID)
	}()

	select {
	case e.uploadSem <- struct{}{}:
		defer func() { <-e.uploadSem }()
	case <-runCtx.Done():
		e.handleTerminalError(t.ID, ferr.New(ferr.ErrCancelled, "upload interrupted while queued"))
		return
	}

	tenantSem := e.tenantSemaphore(t.TenantID)

	select {
	case tenantSem <- struct{}{}:
		defer func() { <-tenantSem }()
	case <-runCtx.Done():
		e.handleTerminalError(t.ID, ferr.New(ferr.ErrCancelled, "upload interrupted while queued"))
		return
	}

	be, err := e.backendFor(runCtx, t.TenantID)
	if err != nil {
		e.fail(t.ID, err)
		return
	}

	if err := e.doUpload(runCtx, be, t); err != nil {
		e.handleTerminalError(t.ID, err)
	}
}

func (e *Engine) fail(id string, err error) {
	_, uerr := e.updateTransfer(id, func(t *store.Transfer) {
		t.Status = store.TransferFailed
		t.Message = err.Error()
	})
	if uerr != nil {
		e.logger.Error("failed to persist transfer failure", "transfer_id", id, "error", uerr)
	}
}

// handleTerminalError distinguishes a pause request (context canceled by
// Pause, not Cancel) from a genuine failure. A paused transfer keeps its
// resume_payload; a failed one is recorded with the error message.
func (e *Engine) handleTerminalError(id string, err error) {
	if ferr.Is(err, ferr.ErrCancelled) {
		cur, gerr := e.GetTransfer(id)
		if gerr == nil && cur.Status == store.TransferFailed {
			return // Cancel() already finalized this transfer.
		}

		_, uerr := e.updateTransfer(id, func(t *store.Transfer) {
			t.Status = store.TransferPaused
		})
		if uerr != nil {
			e.logger.Error("failed to persist transfer pause", "transfer_id", id, "error", uerr)
		}

		return
	}

	e.fail(id, err)
}

// doUpload runs init (if needed), the block loop, and finish for one
// transfer, resuming from t.ResumePayload when present.
func (e *Engine) doUpload(ctx context.Context, be backend.DriveBackend, t store.Transfer) error {
	if t.ResumePayload == nil {
		session, err := be.UploadInit(ctx, t.ParentToken, t.Name, t.Size)
		if err != nil {
			return err
		}

		payload := &store.ResumePayload{
			UploadID: session.UploadID, BlockSize: session.BlockSize, NextSeq: 0,
			ParentToken: t.ParentToken, FilePath: t.LocalPath, FileName: t.Name, Size: t.Size,
		}

		updated, err := e.updateTransfer(t.ID, func(rec *store.Transfer) {
			rec.Status = store.TransferRunning
			rec.ResumePayload = payload
		})
		if err != nil {
			return err
		}

		t = updated
	} else if t.Status != store.TransferRunning {
		t, _ = e.updateTransfer(t.ID, func(rec *store.Transfer) { rec.Status = store.TransferRunning })
	}

	f, err := os.Open(t.LocalPath)
	if err != nil {
		return ferr.Newf(ferr.ErrLocalIO, "opening %s: %v", t.LocalPath, err)
	}
	defer f.Close()

	payload := t.ResumePayload
	blockSize := payload.BlockSize

	if blockSize <= 0 {
		blockSize = defaultDownloadBlockSize
	}

	buf := make([]byte, blockSize)

	for offset := payload.NextSeq * blockSize; offset < t.Size || t.Size == 0; offset = payload.NextSeq * blockSize {
		if err := ctx.Err(); err != nil {
			return ferr.New(ferr.ErrCancelled, "upload interrupted")
		}

		n, readErr := f.ReadAt(buf, offset)
		if n == 0 && readErr != nil {
			if readErr == io.EOF {
				break
			}

			return ferr.Newf(ferr.ErrLocalIO, "reading block at %d: %v", offset, readErr)
		}

		seq := payload.NextSeq
		chunk := buf[:n]

		if retryErr := e.runRetry(ctx, backoff.BlockRetry, func() error {
			return be.UploadBlock(ctx, payload.UploadID, seq, chunk)
		}); retryErr != nil {
			return retryErr
		}

		nextT, uerr := e.updateTransfer(t.ID, func(rec *store.Transfer) {
			rec.Transferred += int64(n)
			rec.ResumePayload.NextSeq = seq + 1
		})
		if uerr != nil {
			return uerr
		}

		t = nextT
		payload = t.ResumePayload

		if n < len(buf) {
			break
		}
	}

	resourceToken, err := be.UploadFinish(ctx, payload.UploadID)
	if err != nil {
		return err
	}

	_, err = e.updateTransfer(t.ID, func(rec *store.Transfer) {
		rec.Status = store.TransferSuccess
		rec.ResourceToken = resourceToken
		rec.ResumePayload = nil
	})
	if err != nil {
		return err
	}

	e.recordUsage(t.TenantID, t.Size)

	return nil
}

// quotaWarningThreshold is the used/quota fraction past which a completed
// upload triggers a quota_warning event (architecture.md §3: overruns are
// observable, never rejected).
const quotaWarningThreshold = 0.9

// recordUsage adds deltaBytes to a tenant's recorded usage and, if that
// pushes it past quotaWarningThreshold, publishes a quota_warning event.
// Failures here are logged, not propagated — a completed upload must not be
// rolled back because its quota bookkeeping update failed.
func (e *Engine) recordUsage(tenantID string, deltaBytes int64) {
	var t store.Tenant

	err := e.store.Tenants().Write(func(doc *store.TenantsDoc) error {
		for i := range doc.Tenants {
			if doc.Tenants[i].ID == tenantID {
				doc.Tenants[i].UsedBytes += deltaBytes
				t = doc.Tenants[i]

				return nil
			}
		}

		return ferr.New(ferr.ErrNotFound, "tenant not found: "+tenantID)
	})
	if err != nil {
		e.logger.Warn("recording tenant usage", "tenant_id", tenantID, "error", err)
		return
	}

	if t.QuotaBytes > 0 && float64(t.UsedBytes) >= quotaWarningThreshold*float64(t.QuotaBytes) {
		e.bus.Publish(events.Event{
			Kind: events.KindQuotaWarning,
			Key:  tenantID,
			Payload: map[string]any{
				"tenant_id":   tenantID,
				"used_bytes":  t.UsedBytes,
				"quota_bytes": t.QuotaBytes,
			},
		})
	}
}

// EnqueueFolderUpload enumerates the local tree under root, creates
// mirrored remote folders top-down, and enqueues one file upload per leaf,
// per architecture.md §4.4.1's folder-upload paragraph. The returned parent
// transfer's progress is the sum of its children's; it reaches success only
// once every child does.
func (e *Engine) EnqueueFolderUpload(ctx context.Context, req UploadRequest) (store.Transfer, error) {
	info, err := os.Stat(req.LocalPath)
	if err != nil {
		return store.Transfer{}, ferr.Newf(ferr.ErrLocalIO, "stat %s: %v", req.LocalPath, err)
	}

	if !info.IsDir() {
		return store.Transfer{}, ferr.New(ferr.ErrInvalidArgument, "EnqueueFolderUpload requires a directory")
	}

	be, err := e.backendFor(ctx, req.TenantID)
	if err != nil {
		return store.Transfer{}, err
	}

	parent, err := e.insertTransfer(store.Transfer{
		Direction: store.TransferUpload, Kind: store.TransferKindFolderUp,
		Name: filepath.Base(req.LocalPath), TenantID: req.TenantID, ParentToken: req.ParentToken,
		LocalPath: req.LocalPath, Status: store.TransferRunning, TaskID: req.TaskID,
	})
	if err != nil {
		return store.Transfer{}, err
	}

	children, size, err := e.mirrorAndEnqueue(ctx, be, req.TenantID, req.LocalPath, req.ParentToken, parent.ID, req.TaskID)
	if err != nil {
		e.fail(parent.ID, err)
		return parent, err
	}

	_, err = e.updateTransfer(parent.ID, func(rec *store.Transfer) { rec.Size = size })
	if err != nil {
		return parent, err
	}

	e.wg.Add(1)

	go e.awaitFolderChildren(parent.ID, children)

	return parent, nil
}

// mirrorAndEnqueue recursively creates remote folders for dir's
// subdirectories and enqueues file uploads for dir's files, returning the
// child transfer IDs and their aggregate size.
func (e *Engine) mirrorAndEnqueue(ctx context.Context, be backend.DriveBackend, tenantID, localDir, remoteParent, parentTransferID, taskID string) ([]string, int64, error) {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return nil, 0, ferr.Newf(ferr.ErrLocalIO, "reading dir %s: %v", localDir, err)
	}

	var (
		children  []string
		totalSize int64
	)

	for _, entry := range entries {
		childPath := filepath.Join(localDir, entry.Name())

		if entry.IsDir() {
			folderToken, createErr := be.CreateFolder(ctx, remoteParent, entry.Name())
			if createErr != nil {
				return nil, 0, createErr
			}

			sub, subSize, err := e.mirrorAndEnqueue(ctx, be, tenantID, childPath, folderToken, parentTransferID, taskID)
			if err != nil {
				return nil, 0, err
			}

			children = append(children, sub...)
			totalSize += subSize

			continue
		}

		info, statErr := entry.Info()
		if statErr != nil {
			return nil, 0, ferr.Newf(ferr.ErrLocalIO, "stat %s: %v", childPath, statErr)
		}

		child, insErr := e.insertTransfer(store.Transfer{
			Direction: store.TransferUpload, Kind: store.TransferKindFileUp,
			Name: entry.Name(), TenantID: tenantID, ParentToken: remoteParent,
			LocalPath: childPath, Size: info.Size(), Status: store.TransferPending,
			TaskID: taskID, ParentTransferID: parentTransferID,
		})
		if insErr != nil {
			return nil, 0, insErr
		}

		children = append(children, child.ID)
		totalSize += info.Size()

		e.wg.Add(1)

		go func(id string) {
			defer e.wg.Done()
			e.runUpload(ctx, id)
		}(child.ID)
	}

	return children, totalSize, nil
}

// awaitFolderChildren polls child transfers until every one reaches a
// terminal state, then marks the parent folder transfer success or failed.
// A polling loop is used rather than an events.Bus subscription to keep the
// engine package decoupled from any particular subscriber lifecycle.
func (e *Engine) awaitFolderChildren(parentID string, children []string) {
	defer e.wg.Done()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		allDone := true
		anyFailed := false
		transferred := int64(0)

		for _, id := range children {
			c, err := e.GetTransfer(id)
			if err != nil {
				continue
			}

			transferred += c.Transferred

			switch c.Status {
			case store.TransferSuccess:
			case store.TransferFailed:
				anyFailed = true
			default:
				allDone = false
			}
		}

		_, _ = e.updateTransfer(parentID, func(rec *store.Transfer) {
			rec.Transferred = transferred
		})

		if allDone {
			status := store.TransferSuccess
			msg := ""

			if anyFailed {
				status = store.TransferFailed
				msg = "one or more child transfers failed"
			}

			_, _ = e.updateTransfer(parentID, func(rec *store.Transfer) {
				rec.Status = status
				rec.Message = msg
			})

			return
		}
	}
}
