package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Document file names, per architecture.md §6.
const (
	tenantsFile   = "tenants.json"
	groupsFile    = "groups.json"
	tasksFile     = "tasks.json"
	transfersFile = "transfers.json"
	configFile    = "config.json"
	snapshotsDir  = "snapshots"
	auditLogDir   = "api_logs"
)

// TenantsDoc, GroupsDoc, etc. are the top-level shapes of each document.
type TenantsDoc struct {
	Tenants []Tenant `json:"tenants"`
}

type GroupsDoc struct {
	Groups []Group `json:"groups"`
}

type TasksDoc struct {
	Tasks []SyncTask `json:"tasks"`
}

type TransfersDoc struct {
	Transfers []Transfer `json:"transfers"`
}

// Store bundles every persistent document behind explicit accessors, per the
// "avoid ambient globals" design note in architecture.md §9 — callers pass
// around a *Store rather than reaching for package-level state, which is
// what lets tests instantiate multiple engines side-by-side.
//
// Lock ordering is fixed ascending: config < tenants < groups < tasks <
// snapshots < transfers < logs (architecture.md §5). Components that must
// hold more than one document's lock at once (e.g. deleting a tenant and
// scrubbing group membership) must acquire them in this order.
type Store struct {
	dataDir string

	config    *fileDoc[RuntimeConfig]
	tenants   *fileDoc[TenantsDoc]
	groups    *fileDoc[GroupsDoc]
	tasks     *fileDoc[TasksDoc]
	transfers *fileDoc[TransfersDoc]

	snapMu    sync.Mutex
	snapshots map[string]*fileDoc[Snapshot]
}

// Open loads (or initializes) every document under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	s := &Store{dataDir: dataDir, snapshots: make(map[string]*fileDoc[Snapshot])}

	var err error

	if s.config, err = newFileDoc(filepath.Join(dataDir, configFile), func() *RuntimeConfig {
		return &RuntimeConfig{
			UploadWorkers:        3,
			DownloadWorkers:      3,
			PerTenantParallelism: 2,
			AuditLogCapMB:        64,
			AuditLogDir:          filepath.Join(dataDir, auditLogDir),
		}
	}); err != nil {
		return nil, err
	}

	if s.tenants, err = newFileDoc(filepath.Join(dataDir, tenantsFile), func() *TenantsDoc { return &TenantsDoc{} }); err != nil {
		return nil, err
	}

	if s.groups, err = newFileDoc(filepath.Join(dataDir, groupsFile), func() *GroupsDoc { return &GroupsDoc{} }); err != nil {
		return nil, err
	}

	if s.tasks, err = newFileDoc(filepath.Join(dataDir, tasksFile), func() *TasksDoc { return &TasksDoc{} }); err != nil {
		return nil, err
	}

	if s.transfers, err = newFileDoc(filepath.Join(dataDir, transfersFile), func() *TransfersDoc { return &TransfersDoc{} }); err != nil {
		return nil, err
	}

	return s, nil
}

// DataDir returns the root directory this store persists under.
func (s *Store) DataDir() string { return s.dataDir }

// Config returns the config.json accessor.
func (s *Store) Config() *fileDoc[RuntimeConfig] { return s.config }

// Tenants returns the tenants.json accessor.
func (s *Store) Tenants() *fileDoc[TenantsDoc] { return s.tenants }

// Groups returns the groups.json accessor.
func (s *Store) Groups() *fileDoc[GroupsDoc] { return s.groups }

// Tasks returns the tasks.json accessor.
func (s *Store) Tasks() *fileDoc[TasksDoc] { return s.tasks }

// Transfers returns the transfers.json accessor.
func (s *Store) Transfers() *fileDoc[TransfersDoc] { return s.transfers }

// Snapshot returns the accessor for one task's snapshot document, creating
// it on first use. The map of accessors is guarded separately from any
// individual snapshot's own lock — this only protects map mutation.
func (s *Store) Snapshot(taskID string) (*fileDoc[Snapshot], error) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	if d, ok := s.snapshots[taskID]; ok {
		return d, nil
	}

	path := filepath.Join(s.dataDir, snapshotsDir, taskID+".json")

	d, err := newFileDoc(path, func() *Snapshot {
		return &Snapshot{TaskID: taskID, Entries: make(map[string]SnapshotEntry)}
	})
	if err != nil {
		return nil, err
	}

	s.snapshots[taskID] = d

	return d, nil
}

// DeleteSnapshot removes a task's snapshot file and its cached accessor.
func (s *Store) DeleteSnapshot(taskID string) error {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	delete(s.snapshots, taskID)

	path := filepath.Join(s.dataDir, snapshotsDir, taskID+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing snapshot: %w", err)
	}

	return nil
}
