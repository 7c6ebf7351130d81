package syncrunner

import (
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"github.com/disconnec/FeiSync/internal/backend"
	"github.com/disconnec/FeiSync/internal/events"
	"github.com/disconnec/FeiSync/internal/ferr"
	"github.com/disconnec/FeiSync/internal/store"
	"github.com/disconnec/FeiSync/internal/transfer"
)

// Runner reconciles a task's local directory against its remote folder
// (architecture.md §4.6). It satisfies cronsched.Dispatcher.
type Runner struct {
	store      *store.Store
	engine     *transfer.Engine
	backendFor func(ctx context.Context, tenantID string) (backend.DriveBackend, error)
	bus        *events.Bus
	logger     *slog.Logger
}

// New creates a Runner.
func New(st *store.Store, engine *transfer.Engine, backendFor func(ctx context.Context, tenantID string) (backend.DriveBackend, error), bus *events.Bus, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{store: st, engine: engine, backendFor: backendFor, bus: bus, logger: logger}
}

func (r *Runner) getTask(taskID string) (store.SyncTask, error) {
	var (
		found store.SyncTask
		ok    bool
	)

	if err := r.store.Tasks().Read(func(doc *store.TasksDoc) {
		for _, t := range doc.Tasks {
			if t.ID == taskID {
				found, ok = t, true
				return
			}
		}
	}); err != nil {
		return store.SyncTask{}, err
	}

	if !ok {
		return store.SyncTask{}, ferr.New(ferr.ErrNotFound, "task not found: "+taskID)
	}

	return found, nil
}

// RunTask executes one full reconciliation cycle for taskID, per
// architecture.md §4.6.4-5. It returns the task's resulting last_status and
// message; cronsched persists those alongside next_run_at recomputation.
func (r *Runner) RunTask(ctx context.Context, taskID string) (store.TaskStatus, string, error) {
	task, err := r.getTask(taskID)
	if err != nil {
		return store.TaskFailed, err.Error(), err
	}

	r.bus.Publish(events.Event{Kind: events.KindSyncRunStarted, Key: task.ID, Payload: map[string]any{"task_id": task.ID}})

	be, err := r.backendFor(ctx, task.TenantID)
	if err != nil {
		return store.TaskFailed, err.Error(), err
	}

	filter := newGlobFilter(task.IncludeGlobs, task.ExcludeGlobs)

	remoteEntries, err := EnumerateRemote(ctx, be, task.RemoteFolderToken, filter)
	if err != nil {
		return store.TaskFailed, "enumerating remote: " + err.Error(), err
	}

	localEntries, err := EnumerateLocal(task.LocalPath, filter)
	if err != nil {
		return store.TaskFailed, "enumerating local: " + err.Error(), err
	}

	snapDoc, err := r.store.Snapshot(task.ID)
	if err != nil {
		return store.TaskFailed, "loading snapshot: " + err.Error(), err
	}

	var snapshot map[string]store.SnapshotEntry

	if err := snapDoc.Read(func(s *store.Snapshot) {
		snapshot = make(map[string]store.SnapshotEntry, len(s.Entries))
		for k, v := range s.Entries {
			snapshot[k] = v
		}
	}); err != nil {
		return store.TaskFailed, "reading snapshot: " + err.Error(), err
	}

	remoteByPath := make(map[string]RemoteEntry, len(remoteEntries))
	for _, e := range remoteEntries {
		remoteByPath[e.RelPath] = e
	}

	localByPath := make(map[string]LocalEntry, len(localEntries))
	for _, e := range localEntries {
		localByPath[e.RelPath] = e
	}

	checksum := func(relPath string) string {
		sum, cerr := fileChecksum(filepath.Join(task.LocalPath, filepath.FromSlash(relPath)))
		if cerr != nil {
			return ""
		}

		return sum
	}

	actions := Plan(task, remoteByPath, localByPath, snapshot, checksum)

	r.bus.Publish(events.Event{Kind: events.KindSyncRunProgress, Key: task.ID,
		Payload: map[string]any{"task_id": task.ID, "actions": len(actions)}})

	folderCache := map[string]string{"": task.RemoteFolderToken}

	var runErr error

	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			runErr = multierr.Append(runErr, err)
			break
		}

		if err := r.execute(ctx, be, task, action, folderCache); err != nil {
			runErr = multierr.Append(runErr, err)
		}
	}

	r.bus.Publish(events.Event{Kind: events.KindSyncRunFinished, Key: task.ID,
		Payload: map[string]any{"task_id": task.ID, "failed": runErr != nil}})

	if runErr != nil {
		return store.TaskFailed, runErr.Error(), nil
	}

	if err := r.rebuildSnapshot(ctx, be, task, filter, snapDoc); err != nil {
		return store.TaskFailed, "rebuilding snapshot: " + err.Error(), nil
	}

	return store.TaskSuccess, "", nil
}

// execute performs one reconciliation action, awaiting the transfer
// engine's terminal event for upload/download actions (architecture.md
// §4.6.4: the runner awaits all transfers' terminal events).
func (r *Runner) execute(ctx context.Context, be backend.DriveBackend, task store.SyncTask, action Action, folderCache map[string]string) error {
	switch action.Kind {
	case ActionNone:
		return nil

	case ActionUpload:
		parentToken, err := r.ensureRemoteDir(ctx, be, path.Dir(action.RelPath), folderCache)
		if err != nil {
			return err
		}

		t, err := r.engine.EnqueueUpload(ctx, transfer.UploadRequest{
			TenantID: task.TenantID, ParentToken: parentToken,
			LocalPath: filepath.Join(task.LocalPath, filepath.FromSlash(action.RelPath)), TaskID: task.ID,
		})
		if err != nil {
			return err
		}

		return r.awaitTransfer(ctx, t.ID)

	case ActionDownload:
		destDir := filepath.Join(task.LocalPath, filepath.FromSlash(path.Dir(action.RelPath)))
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return ferr.Newf(ferr.ErrLocalIO, "creating %s: %v", destDir, err)
		}

		t, err := r.engine.EnqueueDownload(ctx, transfer.DownloadRequest{
			TenantID: task.TenantID, Token: action.Remote.Token, Name: path.Base(action.RelPath),
			Size: action.Remote.Size, DestDir: destDir, TaskID: task.ID,
		})
		if err != nil {
			return err
		}

		return r.awaitTransfer(ctx, t.ID)

	case ActionDeleteRemote:
		return be.Delete(ctx, action.Remote.Token, backend.DeleteFile)

	case ActionDeleteLocal:
		local := filepath.Join(task.LocalPath, filepath.FromSlash(action.RelPath))
		if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
			return ferr.Newf(ferr.ErrLocalIO, "removing %s: %v", local, err)
		}

		return nil

	default:
		return nil
	}
}

// awaitTransfer polls a transfer's status until it reaches a terminal
// state. A polling loop keeps the runner decoupled from events.Bus
// subscriber lifecycle management, matching the transfer engine's own
// folder-upload/download completion tracking.
func (r *Runner) awaitTransfer(ctx context.Context, transferID string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ferr.New(ferr.ErrCancelled, "sync run cancelled")
		case <-ticker.C:
			t, err := r.engine.GetTransfer(transferID)
			if err != nil {
				return err
			}

			switch t.Status {
			case store.TransferSuccess:
				return nil
			case store.TransferFailed:
				return ferr.Newf(ferr.ErrConflict, "transfer %s failed: %s", transferID, t.Message)
			}
		}
	}
}

// ensureRemoteDir resolves (creating as needed) the remote folder chain for
// a local directory path, caching tokens by path so repeated uploads into
// the same directory within one run don't re-list/re-create.
func (r *Runner) ensureRemoteDir(ctx context.Context, be backend.DriveBackend, dirPath string, cache map[string]string) (string, error) {
	if dirPath == "." || dirPath == "" {
		return cache[""], nil
	}

	if token, ok := cache[dirPath]; ok {
		return token, nil
	}

	parentToken, err := r.ensureRemoteDir(ctx, be, path.Dir(dirPath), cache)
	if err != nil {
		return "", err
	}

	name := path.Base(dirPath)

	children, err := be.ListFolder(ctx, parentToken)
	if err != nil {
		return "", err
	}

	for _, child := range children {
		if child.Type == backend.EntryFolder && child.Name == name {
			cache[dirPath] = child.Token
			return child.Token, nil
		}
	}

	token, err := be.CreateFolder(ctx, parentToken, name)
	if err != nil {
		return "", err
	}

	cache[dirPath] = token

	return token, nil
}

// rebuildSnapshot re-enumerates both the local tree and the remote folder
// and writes the result as the new snapshot, per architecture.md §4.6.4:
// the snapshot is rebuilt by re-enumeration once the action queue drains,
// and only on full success. Remote is re-enumerated fresh rather than
// reusing the pre-run listing so files uploaded or downloaded during this
// run get their resulting RemoteToken recorded; otherwise detection=metadata
// would see every just-synced path as still changed on the very next run.
func (r *Runner) rebuildSnapshot(ctx context.Context, be backend.DriveBackend, task store.SyncTask, filter globFilter, snapDoc interface {
	Write(fn func(*store.Snapshot) error) error
}) error {
	localEntries, err := EnumerateLocal(task.LocalPath, filter)
	if err != nil {
		return err
	}

	remoteEntries, err := EnumerateRemote(ctx, be, task.RemoteFolderToken, filter)
	if err != nil {
		return err
	}

	remoteByPath := make(map[string]RemoteEntry, len(remoteEntries))
	for _, e := range remoteEntries {
		remoteByPath[e.RelPath] = e
	}

	return snapDoc.Write(func(s *store.Snapshot) error {
		s.Entries = make(map[string]store.SnapshotEntry, len(localEntries))

		for _, e := range localEntries {
			entry := store.SnapshotEntry{Size: e.Size, Mtime: e.Mtime}

			if remote, ok := remoteByPath[e.RelPath]; ok {
				entry.RemoteToken = remote.Token
			}

			if task.Detection == store.DetectionChecksum {
				if sum, cerr := fileChecksum(filepath.Join(task.LocalPath, filepath.FromSlash(e.RelPath))); cerr == nil {
					entry.Checksum = sum
				}
			}

			s.Entries[e.RelPath] = entry
		}

		return nil
	})
}
