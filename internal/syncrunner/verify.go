package syncrunner

import (
	"context"
	"path/filepath"

	"github.com/disconnec/FeiSync/internal/store"
)

// DriftReport lists the actions a real run of this task would take right
// now, without taking any of them — the read-only counterpart to RunTask,
// grounded on the teacher's verify command (full-tree comparison against a
// stored baseline, reporting mismatches without mutating anything).
type DriftReport struct {
	TaskID  string
	Drifted []Action
}

// Verify enumerates both sides of taskID and plans reconciliation actions
// against the stored snapshot, exactly as RunTask would, but returns the
// plan instead of executing it. Actions of kind ActionNone are omitted —
// DriftReport.Drifted only ever lists paths that are actually out of sync.
func (r *Runner) Verify(ctx context.Context, taskID string) (DriftReport, error) {
	task, err := r.getTask(taskID)
	if err != nil {
		return DriftReport{}, err
	}

	be, err := r.backendFor(ctx, task.TenantID)
	if err != nil {
		return DriftReport{}, err
	}

	filter := newGlobFilter(task.IncludeGlobs, task.ExcludeGlobs)

	remoteEntries, err := EnumerateRemote(ctx, be, task.RemoteFolderToken, filter)
	if err != nil {
		return DriftReport{}, err
	}

	localEntries, err := EnumerateLocal(task.LocalPath, filter)
	if err != nil {
		return DriftReport{}, err
	}

	snapDoc, err := r.store.Snapshot(task.ID)
	if err != nil {
		return DriftReport{}, err
	}

	var snapshot map[string]store.SnapshotEntry

	if err := snapDoc.Read(func(s *store.Snapshot) {
		snapshot = make(map[string]store.SnapshotEntry, len(s.Entries))
		for k, v := range s.Entries {
			snapshot[k] = v
		}
	}); err != nil {
		return DriftReport{}, err
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

	drifted := make([]Action, 0, len(actions))

	for _, a := range actions {
		if a.Kind != ActionNone {
			drifted = append(drifted, a)
		}
	}

	return DriftReport{TaskID: task.ID, Drifted: drifted}, nil
}
