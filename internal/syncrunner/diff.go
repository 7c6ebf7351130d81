package syncrunner

import (
	"hash/adler32"
	"io"
	"os"
	"time"

	"github.com/disconnec/FeiSync/internal/store"
)

// ActionKind classifies one reconciliation action.
type ActionKind string

const (
	ActionUpload       ActionKind = "upload"
	ActionDownload     ActionKind = "download"
	ActionDeleteLocal  ActionKind = "delete_local"
	ActionDeleteRemote ActionKind = "delete_remote"
	ActionNone         ActionKind = "none"
)

// Action is one reconciliation decision for a single relative path.
type Action struct {
	RelPath string
	Kind    ActionKind
	Remote  *RemoteEntry
	Local   *LocalEntry
}

// mtimeTolerance is the size_mtime detection mode's allowed clock skew
// between the filesystem and the snapshot, per architecture.md §4.6.2.
const mtimeTolerance = 2 * time.Second

// fileChecksum computes an Adler-32 content checksum over a local file.
// Adler-32 is the checksum the spec names explicitly (architecture.md
// §4.6.2); it is adequate here because it only needs to detect accidental
// content drift between runs, not resist adversarial collision.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := adler32.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return string(h.Sum(nil)), nil
}

// changed reports whether a path differs from its snapshot entry, per the
// task's detection mode (architecture.md §4.6.2).
func changed(mode store.DetectionMode, snap store.SnapshotEntry, remote *RemoteEntry, local *LocalEntry, localChecksum string) (remoteChanged, localChanged bool) {
	if remote != nil {
		switch mode {
		case store.DetectionMetadata:
			remoteChanged = remote.Token != snap.RemoteToken
		default:
			remoteChanged = remote.Size != snap.Size || absDuration(remote.Mtime-snap.Mtime) > int64(mtimeTolerance)
		}
	}

	if local != nil {
		switch mode {
		case store.DetectionMetadata:
			localChanged = local.Mtime != snap.Mtime
		case store.DetectionChecksum:
			localChanged = local.Size != snap.Size || absDuration(local.Mtime-snap.Mtime) > int64(mtimeTolerance)
			if !localChanged && localChecksum != "" && snap.Checksum != "" {
				localChanged = localChecksum != snap.Checksum
			}
		default: // size_mtime
			localChanged = local.Size != snap.Size || absDuration(local.Mtime-snap.Mtime) > int64(mtimeTolerance)
		}
	}

	return remoteChanged, localChanged
}

func absDuration(d int64) int64 {
	if d < 0 {
		return -d
	}

	return d
}

// resolveConflict picks the winning side for a both-changed (+,+,+) path,
// per architecture.md §4.6.3's change matrix.
func resolveConflict(policy store.ConflictPolicy, remote RemoteEntry, local LocalEntry) ActionKind {
	switch policy {
	case store.ConflictPreferLocal:
		return ActionUpload
	case store.ConflictPreferRemote:
		return ActionDownload
	default: // newest; tie goes to prefer_remote
		if local.Mtime > remote.Mtime {
			return ActionUpload
		}

		return ActionDownload
	}
}

// directionAllows filters an action by the task's configured direction
// (architecture.md §4.6.3's last paragraph): cloud_to_local only downloads
// and local deletes; local_to_cloud only uploads and remote deletes.
func directionAllows(dir store.Direction, kind ActionKind) bool {
	switch dir {
	case store.DirectionCloudToLocal:
		return kind == ActionDownload || kind == ActionDeleteLocal || kind == ActionNone
	case store.DirectionLocalToCloud:
		return kind == ActionUpload || kind == ActionDeleteRemote || kind == ActionNone
	default: // bidirectional
		return true
	}
}

// Plan computes the full set of reconciliation actions for one sync run,
// applying the 8-row presence truth table and the both-changed change
// matrix (architecture.md §4.6.3).
func Plan(task store.SyncTask, remoteByPath map[string]RemoteEntry, localByPath map[string]LocalEntry, snapshot map[string]store.SnapshotEntry, checksumOf func(relPath string) string) []Action {
	paths := unionKeys(remoteByPath, localByPath, snapshot)

	actions := make([]Action, 0, len(paths))

	for _, p := range paths {
		remote, rOK := remoteByPath[p]
		local, lOK := localByPath[p]
		snap, sOK := snapshot[p]

		var remotePtr *RemoteEntry
		if rOK {
			remotePtr = &remote
		}

		var localPtr *LocalEntry
		if lOK {
			localPtr = &local
		}

		kind := classify(task, remotePtr, localPtr, snap, sOK, checksumOf)

		if directionAllows(task.Direction, kind) {
			actions = append(actions, Action{RelPath: p, Kind: kind, Remote: remotePtr, Local: localPtr})
		}
	}

	return actions
}

func classify(task store.SyncTask, remote *RemoteEntry, local *LocalEntry, snap store.SnapshotEntry, snapPresent bool, checksumOf func(string) string) ActionKind {
	switch {
	case remote == nil && local == nil && !snapPresent:
		return ActionNone

	case remote != nil && local == nil && !snapPresent:
		return ActionDownload

	case remote == nil && local != nil && !snapPresent:
		return ActionUpload

	case remote != nil && local != nil && !snapPresent:
		return resolveConflict(task.Conflict, *remote, *local)

	case remote != nil && local == nil && snapPresent:
		// Remote survived, local deleted.
		if task.PropagateDelete && task.Direction != store.DirectionCloudToLocal {
			return ActionDeleteRemote
		}

		return ActionDownload

	case remote == nil && local != nil && snapPresent:
		// Local survived, remote deleted.
		if task.PropagateDelete && task.Direction != store.DirectionLocalToCloud {
			return ActionDeleteLocal
		}

		return ActionUpload

	case remote != nil && local != nil && snapPresent:
		var checksum string
		if task.Detection == store.DetectionChecksum && local != nil {
			checksum = checksumOf(local.RelPathOrEmpty())
		}

		remoteChanged, localChanged := changed(task.Detection, snap, remote, local, checksum)

		switch {
		case !remoteChanged && !localChanged:
			return ActionNone
		case remoteChanged && !localChanged:
			return ActionDownload
		case !remoteChanged && localChanged:
			return ActionUpload
		default:
			return resolveConflict(task.Conflict, *remote, *local)
		}

	default: // both sides deleted: remote == nil, local == nil, snapPresent
		return ActionNone
	}
}

func unionKeys(remote map[string]RemoteEntry, local map[string]LocalEntry, snapshot map[string]store.SnapshotEntry) []string {
	seen := make(map[string]bool)

	for k := range remote {
		seen[k] = true
	}

	for k := range local {
		seen[k] = true
	}

	for k := range snapshot {
		seen[k] = true
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}

	return out
}

// RelPathOrEmpty lets classify call checksumOf uniformly even when local is
// nil (the both-changed branch above only invokes it when local != nil, but
// the method keeps the call site simple).
func (l *LocalEntry) RelPathOrEmpty() string {
	if l == nil {
		return ""
	}

	return l.RelPath
}
