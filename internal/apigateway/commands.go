package apigateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/disconnec/FeiSync/internal/backend"
	"github.com/disconnec/FeiSync/internal/cronsched"
	"github.com/disconnec/FeiSync/internal/ferr"
	"github.com/disconnec/FeiSync/internal/store"
	"github.com/disconnec/FeiSync/internal/syncrunner"
	"github.com/disconnec/FeiSync/internal/tenant"
	"github.com/disconnec/FeiSync/internal/transfer"
)

// Deps bundles every component a command handler may need. RegisterCommands
// wires one handler per command name named in architecture.md §4.7's
// command table.
type Deps struct {
	Store     *store.Store
	Registry  *tenant.Registry
	Router    *tenant.Router
	Engine    *transfer.Engine
	Runner    *syncrunner.Runner
	Scheduler *cronsched.Scheduler
	Dirty     *syncrunner.DirtyWatcher
	Backends  func(ctx context.Context, tenantID string) (backend.DriveBackend, error)
	Logger    *slog.Logger
}

func taskStore(d Deps) *store.Store { return d.Store }

// RegisterCommands wires every command the gateway dispatches onto g.
func RegisterCommands(g *Gateway, d Deps) {
	g.Register("tenant_add", requireAdmin(d.tenantAdd))
	g.Register("tenant_list", d.tenantList)
	g.Register("tenant_remove", requireAdmin(d.tenantRemove))
	g.Register("tenant_reorder", requireAdmin(d.tenantReorder))

	g.Register("group_add", requireAdmin(d.groupAdd))
	g.Register("group_list", requireAdmin(d.groupList))
	g.Register("group_remove", requireAdmin(d.groupRemove))
	g.Register("group_rotate_key", requireAdmin(d.groupRotateKey))

	g.Register("root_list", d.rootList)
	g.Register("folder_list", d.folderList)

	g.Register("upload_enqueue", d.uploadEnqueue)
	g.Register("download_enqueue", d.downloadEnqueue)
	g.Register("transfer_list", d.transferList)
	g.Register("transfer_get", d.transferGet)
	g.Register("transfer_pause", d.transferPause)
	g.Register("transfer_resume", d.transferResume)
	g.Register("transfer_cancel", d.transferCancel)
	g.Register("transfer_restart", d.transferRestart)

	g.Register("task_add", d.taskAdd)
	g.Register("task_list", d.taskList)
	g.Register("task_remove", d.taskRemove)
	g.Register("task_run", d.taskRun)
	g.Register("task_verify", d.taskVerify)

	g.Register("config_get", requireAdmin(d.configGet))
	g.Register("config_set", requireAdmin(d.configSet))
}

// requireAdmin wraps a Handler so only the admin scope may invoke it.
func requireAdmin(h Handler) Handler {
	return func(ctx context.Context, scope Scope, body json.RawMessage) (any, error) {
		if !scope.IsAdmin {
			return nil, ferr.New(ferr.ErrScopeDenied, "command requires admin scope")
		}

		return h(ctx, scope, body)
	}
}

// scopedTenantIDs resolves the tenant IDs a non-admin scope may act upon.
// Admins may name any tenant (tenantIDs nil means "every tenant").
func scopedTenantIDs(scope Scope, requested []string) ([]string, error) {
	if scope.IsAdmin {
		return requested, nil
	}

	allowed := make(map[string]bool, len(scope.Group.TenantIDs))
	for _, id := range scope.Group.TenantIDs {
		allowed[id] = true
	}

	if len(requested) == 0 {
		return scope.Group.TenantIDs, nil
	}

	for _, id := range requested {
		if !allowed[id] {
			return nil, ferr.New(ferr.ErrScopeDenied, "tenant not in group scope: "+id)
		}
	}

	return requested, nil
}

// decode rejects unknown fields in the command body, the same strict
// stance the teacher takes with its TOML config decoder, so a client
// typo'ing a field name gets an error back instead of a silently
// ignored argument.
func decode[T any](body json.RawMessage) (T, error) {
	var v T
	if len(body) == 0 {
		return v, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&v); err != nil {
		return v, ferr.New(ferr.ErrInvalidArgument, "malformed command body")
	}

	return v, nil
}

// --- tenants ---

func (d Deps) tenantAdd(ctx context.Context, _ Scope, body json.RawMessage) (any, error) {
	t, err := decode[store.Tenant](body)
	if err != nil {
		return nil, err
	}

	return d.Registry.AddTenant(ctx, t)
}

func (d Deps) tenantList(ctx context.Context, _ Scope, _ json.RawMessage) (any, error) {
	return d.Registry.ListTenants(ctx)
}

func (d Deps) tenantRemove(ctx context.Context, _ Scope, body json.RawMessage) (any, error) {
	req, err := decode[struct {
		ID string `json:"id"`
	}](body)
	if err != nil {
		return nil, err
	}

	return nil, d.Registry.RemoveTenant(ctx, req.ID)
}

func (d Deps) tenantReorder(ctx context.Context, _ Scope, body json.RawMessage) (any, error) {
	req, err := decode[struct {
		OrderedIDs []string `json:"ordered_ids"`
	}](body)
	if err != nil {
		return nil, err
	}

	return nil, d.Registry.ReorderTenants(ctx, req.OrderedIDs)
}

// --- groups ---

func (d Deps) groupAdd(ctx context.Context, _ Scope, body json.RawMessage) (any, error) {
	g, err := decode[store.Group](body)
	if err != nil {
		return nil, err
	}

	return d.Registry.AddGroup(ctx, g)
}

func (d Deps) groupList(ctx context.Context, _ Scope, _ json.RawMessage) (any, error) {
	return d.Registry.ListGroups(ctx)
}

func (d Deps) groupRemove(ctx context.Context, _ Scope, body json.RawMessage) (any, error) {
	req, err := decode[struct {
		ID string `json:"id"`
	}](body)
	if err != nil {
		return nil, err
	}

	return nil, d.Registry.RemoveGroup(ctx, req.ID)
}

func (d Deps) groupRotateKey(ctx context.Context, _ Scope, body json.RawMessage) (any, error) {
	req, err := decode[struct {
		ID string `json:"id"`
	}](body)
	if err != nil {
		return nil, err
	}

	key, err := d.Registry.RotateGroupKey(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	return map[string]string{"api_key": key}, nil
}

// --- folder browsing ---

func (d Deps) rootList(ctx context.Context, scope Scope, body json.RawMessage) (any, error) {
	req, err := decode[struct {
		TenantIDs []string `json:"tenant_ids"`
	}](body)
	if err != nil {
		return nil, err
	}

	ids, err := scopedTenantIDs(scope, req.TenantIDs)
	if err != nil {
		return nil, err
	}

	return d.Router.AggregatedRoot(ctx, ids)
}

func (d Deps) folderList(ctx context.Context, scope Scope, body json.RawMessage) (any, error) {
	req, err := decode[struct {
		TenantID string `json:"tenant_id"`
		Token    string `json:"token"`
	}](body)
	if err != nil {
		return nil, err
	}

	if _, err := scopedTenantIDs(scope, []string{req.TenantID}); err != nil {
		return nil, err
	}

	be, err := d.Backends(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	return be.ListFolder(ctx, req.Token)
}

// --- transfers ---

func (d Deps) uploadEnqueue(ctx context.Context, scope Scope, body json.RawMessage) (any, error) {
	req, err := decode[transfer.UploadRequest](body)
	if err != nil {
		return nil, err
	}

	if _, err := scopedTenantIDs(scope, []string{req.TenantID}); err != nil {
		return nil, err
	}

	return d.Engine.EnqueueUpload(ctx, req)
}

func (d Deps) downloadEnqueue(ctx context.Context, scope Scope, body json.RawMessage) (any, error) {
	req, err := decode[transfer.DownloadRequest](body)
	if err != nil {
		return nil, err
	}

	if _, err := scopedTenantIDs(scope, []string{req.TenantID}); err != nil {
		return nil, err
	}

	return d.Engine.EnqueueDownload(ctx, req)
}

func (d Deps) transferList(ctx context.Context, scope Scope, _ json.RawMessage) (any, error) {
	all, err := d.Engine.ListTransfers()
	if err != nil {
		return nil, err
	}

	if scope.IsAdmin {
		return all, nil
	}

	allowed := make(map[string]bool, len(scope.Group.TenantIDs))
	for _, id := range scope.Group.TenantIDs {
		allowed[id] = true
	}

	out := make([]store.Transfer, 0, len(all))

	for _, t := range all {
		if allowed[t.TenantID] {
			out = append(out, t)
		}
	}

	return out, nil
}

func (d Deps) transferGet(ctx context.Context, scope Scope, body json.RawMessage) (any, error) {
	req, err := decode[struct {
		ID string `json:"id"`
	}](body)
	if err != nil {
		return nil, err
	}

	t, err := d.Engine.GetTransfer(req.ID)
	if err != nil {
		return nil, err
	}

	if _, err := scopedTenantIDs(scope, []string{t.TenantID}); err != nil {
		return nil, err
	}

	return t, nil
}

func (d Deps) transferPause(ctx context.Context, scope Scope, body json.RawMessage) (any, error) {
	t, err := d.transferGet(ctx, scope, body)
	if err != nil {
		return nil, err
	}

	return nil, d.Engine.Pause(t.(store.Transfer).ID)
}

func (d Deps) transferResume(ctx context.Context, scope Scope, body json.RawMessage) (any, error) {
	t, err := d.transferGet(ctx, scope, body)
	if err != nil {
		return nil, err
	}

	return d.Engine.Resume(ctx, t.(store.Transfer).ID)
}

func (d Deps) transferCancel(ctx context.Context, scope Scope, body json.RawMessage) (any, error) {
	t, err := d.transferGet(ctx, scope, body)
	if err != nil {
		return nil, err
	}

	return nil, d.Engine.Cancel(ctx, t.(store.Transfer).ID)
}

func (d Deps) transferRestart(ctx context.Context, scope Scope, body json.RawMessage) (any, error) {
	t, err := d.transferGet(ctx, scope, body)
	if err != nil {
		return nil, err
	}

	return d.Engine.Restart(t.(store.Transfer).ID)
}

// --- tasks ---

func (d Deps) taskAdd(ctx context.Context, scope Scope, body json.RawMessage) (any, error) {
	task, err := decode[store.SyncTask](body)
	if err != nil {
		return nil, err
	}

	if _, err := scopedTenantIDs(scope, []string{task.TenantID}); err != nil {
		return nil, err
	}

	task.ID = uuid.NewString()

	if _, err := cronsched.Parse(task.Schedule); err != nil {
		return nil, ferr.New(ferr.ErrInvalidCron, "invalid schedule: "+err.Error())
	}

	if err := taskStore(d).Tasks().Write(func(doc *store.TasksDoc) error {
		doc.Tasks = append(doc.Tasks, task)
		return nil
	}); err != nil {
		return nil, err
	}

	if d.Dirty != nil {
		if werr := d.Dirty.Watch(task.LocalPath); werr != nil {
			d.Logger.Warn("watching task local path", slog.String("task_id", task.ID), slog.Any("error", werr))
		}
	}

	return task, nil
}

func (d Deps) taskList(ctx context.Context, scope Scope, _ json.RawMessage) (any, error) {
	var all []store.SyncTask

	if err := taskStore(d).Tasks().Read(func(doc *store.TasksDoc) {
		all = append(all, doc.Tasks...)
	}); err != nil {
		return nil, err
	}

	if scope.IsAdmin {
		return all, nil
	}

	allowed := make(map[string]bool, len(scope.Group.TenantIDs))
	for _, id := range scope.Group.TenantIDs {
		allowed[id] = true
	}

	out := make([]store.SyncTask, 0, len(all))

	for _, t := range all {
		if allowed[t.TenantID] {
			out = append(out, t)
		}
	}

	return out, nil
}

func (d Deps) taskRemove(ctx context.Context, scope Scope, body json.RawMessage) (any, error) {
	req, err := decode[struct {
		ID string `json:"id"`
	}](body)
	if err != nil {
		return nil, err
	}

	var removedPath string

	err = taskStore(d).Tasks().Write(func(doc *store.TasksDoc) error {
		for i, t := range doc.Tasks {
			if t.ID == req.ID {
				removedPath = t.LocalPath
				doc.Tasks = append(doc.Tasks[:i], doc.Tasks[i+1:]...)
				return nil
			}
		}

		return ferr.New(ferr.ErrNotFound, "task not found: "+req.ID)
	})
	if err != nil {
		return nil, err
	}

	if d.Dirty != nil {
		d.Dirty.Unwatch(removedPath)
	}

	return nil, nil
}

func (d Deps) taskRun(ctx context.Context, scope Scope, body json.RawMessage) (any, error) {
	req, err := decode[struct {
		ID string `json:"id"`
	}](body)
	if err != nil {
		return nil, err
	}

	status, message, err := d.Scheduler.RunNow(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	return map[string]string{"status": string(status), "message": message}, nil
}

// taskVerify reports drift between a task's local tree, its remote folder,
// and the stored snapshot without syncing anything, mirroring taskRun's
// request shape but delegating straight to the runner instead of the
// scheduler (there is no run-already-in-progress guard to honor here: a
// verify never touches the task's locks).
func (d Deps) taskVerify(ctx context.Context, _ Scope, body json.RawMessage) (any, error) {
	req, err := decode[struct {
		ID string `json:"id"`
	}](body)
	if err != nil {
		return nil, err
	}

	return d.Runner.Verify(ctx, req.ID)
}

// --- config ---

func (d Deps) configGet(ctx context.Context, _ Scope, _ json.RawMessage) (any, error) {
	var cfg store.RuntimeConfig

	if err := taskStore(d).Config().Read(func(c *store.RuntimeConfig) { cfg = *c }); err != nil {
		return nil, err
	}

	cfg.AdminAPIKey = "" // never echoed back over the wire

	return cfg, nil
}

func (d Deps) configSet(ctx context.Context, _ Scope, body json.RawMessage) (any, error) {
	patch, err := decode[store.RuntimeConfig](body)
	if err != nil {
		return nil, err
	}

	return nil, taskStore(d).Config().Write(func(c *store.RuntimeConfig) error {
		if patch.UploadWorkers > 0 {
			c.UploadWorkers = patch.UploadWorkers
		}

		if patch.DownloadWorkers > 0 {
			c.DownloadWorkers = patch.DownloadWorkers
		}

		if patch.PerTenantParallelism > 0 {
			c.PerTenantParallelism = patch.PerTenantParallelism
		}

		if patch.AuditLogCapMB > 0 {
			c.AuditLogCapMB = patch.AuditLogCapMB
		}

		return nil
	})
}
