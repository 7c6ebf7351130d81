// Package store implements the JSON-document persistence layer described in
// architecture.md §4.1: one file per document, guarded by a per-file
// read-write lock, written atomically via temp-file-then-rename (the same
// idiom as the teacher's internal/config/write.go atomicWriteFile).
package store

// Platform identifies which upstream cloud platform a Tenant's credentials
// target.
type Platform string

const (
	PlatformIntl Platform = "intl"
	PlatformCN   Platform = "cn"
)

// Permission controls whether the router may select a Tenant as a write
// target.
type Permission string

const (
	PermissionReadOnly  Permission = "read_only"
	PermissionReadWrite Permission = "read_write"
)

// AppCredentials holds the tenant's upstream application credentials.
// Secrets are stored as opaque strings; the store never interprets them.
type AppCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// Tenant is one cloud-drive credential pair and its quota (data-model.md §3).
type Tenant struct {
	ID                string         `json:"id"`
	DisplayName       string         `json:"display_name"`
	AppCredentials    AppCredentials `json:"app_credentials"`
	Platform          Platform       `json:"platform"`
	BackendKind       string         `json:"backend_kind"` // "memdrive" | "graphdrive"; supplements §4.2
	QuotaBytes        int64          `json:"quota_bytes"`
	UsedBytes         int64          `json:"used_bytes"`
	Permission        Permission     `json:"permission"`
	Active            bool           `json:"active"`
	Order             int            `json:"order"`
	CachedAccessToken string         `json:"cached_access_token,omitempty"`
	TokenExpiry       int64          `json:"token_expiry,omitempty"` // unix seconds, 0 = none
}

// Group is a named subset of tenants sharing one API key and forming one
// scope (data-model.md §3).
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Remark    string   `json:"remark"`
	TenantIDs []string `json:"tenant_ids"`
	APIKey    string   `json:"api_key"`
}

// Direction is the sync direction for a SyncTask.
type Direction string

const (
	DirectionCloudToLocal   Direction = "cloud_to_local"
	DirectionLocalToCloud   Direction = "local_to_cloud"
	DirectionBidirectional  Direction = "bidirectional"
)

// DetectionMode selects how the sync runner decides whether a file changed.
type DetectionMode string

const (
	DetectionMetadata  DetectionMode = "metadata"
	DetectionSizeMtime DetectionMode = "size_mtime"
	DetectionChecksum  DetectionMode = "checksum"
)

// ConflictPolicy selects which side wins a (+,+,+) both-changed conflict.
type ConflictPolicy string

const (
	ConflictNewest       ConflictPolicy = "newest"
	ConflictPreferLocal  ConflictPolicy = "prefer_local"
	ConflictPreferRemote ConflictPolicy = "prefer_remote"
)

// TaskStatus is the last observed outcome of a SyncTask run.
type TaskStatus string

const (
	TaskIdle      TaskStatus = "idle"
	TaskScheduled TaskStatus = "scheduled"
	TaskRunning   TaskStatus = "running"
	TaskSuccess   TaskStatus = "success"
	TaskFailed    TaskStatus = "failed"
)

// SyncTask is a scheduled reconciliation job (data-model.md §3).
type SyncTask struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Direction           Direction      `json:"direction"`
	GroupID             string         `json:"group_id"`
	TenantID            string         `json:"tenant_id"`
	RemoteFolderToken   string         `json:"remote_folder_token"`
	LocalPath           string         `json:"local_path"`
	Schedule            string         `json:"schedule"`
	Enabled             bool           `json:"enabled"`
	Detection           DetectionMode  `json:"detection"`
	Conflict            ConflictPolicy `json:"conflict"`
	PropagateDelete     bool           `json:"propagate_delete"`
	IncludeGlobs        []string       `json:"include_globs"`
	ExcludeGlobs        []string       `json:"exclude_globs"`
	Notes               string         `json:"notes"`
	NextRunAt           int64          `json:"next_run_at"` // unix seconds, 0 = none scheduled
	LastRunAt           int64          `json:"last_run_at"`
	LastStatus          TaskStatus     `json:"last_status"`
	LastMessage         string         `json:"last_message"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
}

// TransferDirection and TransferKind classify a Transfer record.
type TransferDirection string

const (
	TransferUpload   TransferDirection = "upload"
	TransferDownload TransferDirection = "download"
)

type TransferKind string

const (
	TransferKindFileUp     TransferKind = "file_up"
	TransferKindFolderUp   TransferKind = "folder_up"
	TransferKindFileDown   TransferKind = "file_down"
	TransferKindFolderDown TransferKind = "folder_down"
)

// TransferStatus is a Transfer's position in the state machine (§4.4.3).
type TransferStatus string

const (
	TransferPending TransferStatus = "pending"
	TransferRunning TransferStatus = "running"
	TransferPaused  TransferStatus = "paused"
	TransferSuccess TransferStatus = "success"
	TransferFailed  TransferStatus = "failed"
)

// ResumePayload is the persisted checkpoint allowing a partially completed
// transfer to continue after a process restart (glossary).
type ResumePayload struct {
	// Upload fields.
	UploadID    string `json:"upload_id,omitempty"`
	BlockSize   int64  `json:"block_size,omitempty"`
	NextSeq     int64  `json:"next_seq,omitempty"`
	ParentToken string `json:"parent_token,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
	FileName    string `json:"file_name,omitempty"`

	// Download fields.
	TempPath    string `json:"temp_path,omitempty"`
	TargetPath  string `json:"target_path,omitempty"`
	Downloaded  int64  `json:"downloaded,omitempty"`
	Token       string `json:"token,omitempty"`

	Size int64 `json:"size,omitempty"`
}

// Transfer is a durable upload/download record (data-model.md §3).
type Transfer struct {
	ID            string             `json:"id"`
	Direction     TransferDirection  `json:"direction"`
	Kind          TransferKind       `json:"kind"`
	Name          string             `json:"name"`
	TenantID      string             `json:"tenant_id,omitempty"`
	ParentToken   string             `json:"parent_token,omitempty"`
	ResourceToken string             `json:"resource_token,omitempty"`
	LocalPath     string             `json:"local_path,omitempty"`
	RemotePath    string             `json:"remote_path,omitempty"`
	Size          int64              `json:"size"`
	Transferred   int64              `json:"transferred"`
	Status        TransferStatus     `json:"status"`
	Message       string             `json:"message,omitempty"`
	CreatedAt     int64              `json:"created_at"`
	UpdatedAt     int64              `json:"updated_at"`
	ResumePayload *ResumePayload     `json:"resume_payload,omitempty"`
	TaskID        string             `json:"task_id,omitempty"` // tags transfers created by the sync runner
	ParentTransferID string          `json:"parent_transfer_id,omitempty"` // folder-upload/download child linkage
}

// SnapshotEntry is the last-known-good state of one relative path
// (glossary: Snapshot).
type SnapshotEntry struct {
	Size        int64  `json:"size"`
	Mtime       int64  `json:"mtime"` // unix nanoseconds
	RemoteToken string `json:"remote_token,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
}

// Snapshot is a per-task mapping from relative path to SnapshotEntry.
type Snapshot struct {
	TaskID  string                   `json:"task_id"`
	Entries map[string]SnapshotEntry `json:"entries"`
}

// LogStatus classifies an ApiLogEntry outcome.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogError   LogStatus = "error"
)

// ApiLogEntry is one append-only audit record (data-model.md §3).
type ApiLogEntry struct {
	ID         string    `json:"id"`
	Timestamp  int64     `json:"timestamp"` // unix nanoseconds
	Scope      string    `json:"scope"`     // "admin" or a group id
	Command    string    `json:"command"`
	Status     LogStatus `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	Message    string    `json:"message,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// RuntimeConfig is the config.json document: process-wide settings not
// covered by the bootstrap TOML layer (admin key, worker pool sizes,
// audit log cap).
type RuntimeConfig struct {
	AdminAPIKey          string `json:"admin_api_key"`
	UploadWorkers         int   `json:"upload_workers"`
	DownloadWorkers       int   `json:"download_workers"`
	PerTenantParallelism  int   `json:"per_tenant_parallelism"`
	AuditLogCapMB         int   `json:"audit_log_cap_mb"`
	AuditLogDir           string `json:"audit_log_dir"`
	ServiceRunning        bool  `json:"service_running"`
}
