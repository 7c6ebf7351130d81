// Package tenant implements the tenant/group registry and the federation
// router (architecture.md §4.3): CRUD over tenants and groups under the
// store's global lock order, aggregated root listing, and capacity-aware
// write-target selection.
package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/disconnec/FeiSync/internal/ferr"
	"github.com/disconnec/FeiSync/internal/store"
)

// TransferCanceller cancels every non-terminal transfer bound to a tenant,
// satisfied by *transfer.Engine. Registry depends on this narrow interface
// rather than importing internal/transfer directly, since most callers
// (the offline CLI) construct a Registry with no live engine at all.
type TransferCanceller interface {
	CancelAllForTenant(ctx context.Context, tenantID, message string) error
}

// Registry wraps store.Tenants()/store.Groups() with the CRUD and
// cascading-delete semantics architecture.md §4.3 describes. Besides the
// store and a logger it holds no state of its own, so multiple Registries
// over the same data directory observe each other's writes immediately —
// the same "thin wrapper, store is truth" shape as the teacher's
// config.Holder.
type Registry struct {
	store     *store.Store
	logger    *slog.Logger
	transfers TransferCanceller
}

// New creates a Registry over st.
func New(st *store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{store: st, logger: logger}
}

// SetTransferCanceller wires a transfer engine into the registry so
// RemoveTenant's cascade (architecture.md §4.3 step 3) can fail in-flight
// transfers for the removed tenant. Left unset, the cascade skips that step
// — the offline CLI path operates directly on the store with no running
// engine to own those transfers.
func (r *Registry) SetTransferCanceller(c TransferCanceller) {
	r.transfers = c
}

// AddTenant inserts a new tenant, assigning it a fresh ID and placing it
// last in the order. Fails with DuplicateName if display_name collides with
// an existing tenant.
func (r *Registry) AddTenant(ctx context.Context, t store.Tenant) (store.Tenant, error) {
	t.ID = uuid.NewString()

	err := r.store.Tenants().Write(func(doc *store.TenantsDoc) error {
		for _, existing := range doc.Tenants {
			if existing.DisplayName == t.DisplayName {
				return ferr.New(ferr.ErrDuplicateName, "tenant display_name already in use: "+t.DisplayName)
			}
		}

		maxOrder := -1
		for _, existing := range doc.Tenants {
			if existing.Order > maxOrder {
				maxOrder = existing.Order
			}
		}

		t.Order = maxOrder + 1
		doc.Tenants = append(doc.Tenants, t)

		return nil
	})
	if err != nil {
		return store.Tenant{}, err
	}

	r.logger.Info("tenant added", slog.String("tenant_id", t.ID), slog.String("display_name", t.DisplayName))

	return t, nil
}

// ListTenants returns every tenant ordered ascending by Order.
func (r *Registry) ListTenants(ctx context.Context) ([]store.Tenant, error) {
	var out []store.Tenant

	if err := r.store.Tenants().Read(func(doc *store.TenantsDoc) {
		out = append(out, doc.Tenants...)
	}); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })

	return out, nil
}

// GetTenant looks up one tenant by ID.
func (r *Registry) GetTenant(ctx context.Context, id string) (store.Tenant, error) {
	var (
		found store.Tenant
		ok    bool
	)

	if err := r.store.Tenants().Read(func(doc *store.TenantsDoc) {
		for _, t := range doc.Tenants {
			if t.ID == id {
				found, ok = t, true
				return
			}
		}
	}); err != nil {
		return store.Tenant{}, err
	}

	if !ok {
		return store.Tenant{}, ferr.New(ferr.ErrNotFound, "tenant not found: "+id)
	}

	return found, nil
}

// RemoveTenant deletes a tenant and cascades the removal through group
// membership, holding the store's locks in the fixed global order
// (config < tenants < groups < tasks < snapshots < transfers < logs) so a
// concurrent mutation elsewhere in the system can never deadlock against
// this one (architecture.md §5).
func (r *Registry) RemoveTenant(ctx context.Context, id string) error {
	removed := false

	if err := r.store.Tenants().Write(func(doc *store.TenantsDoc) error {
		for i, t := range doc.Tenants {
			if t.ID == id {
				doc.Tenants = append(doc.Tenants[:i], doc.Tenants[i+1:]...)
				removed = true

				break
			}
		}

		if !removed {
			return ferr.New(ferr.ErrNotFound, "tenant not found: "+id)
		}

		return nil
	}); err != nil {
		return err
	}

	if err := r.store.Groups().Write(func(doc *store.GroupsDoc) error {
		for gi := range doc.Groups {
			filtered := doc.Groups[gi].TenantIDs[:0]

			for _, tid := range doc.Groups[gi].TenantIDs {
				if tid != id {
					filtered = append(filtered, tid)
				}
			}

			doc.Groups[gi].TenantIDs = filtered
		}

		return nil
	}); err != nil {
		return fmt.Errorf("scrubbing group membership after tenant removal: %w", err)
	}

	if r.transfers != nil {
		if err := r.transfers.CancelAllForTenant(ctx, id, "tenant removed"); err != nil {
			return fmt.Errorf("cancelling in-flight transfers after tenant removal: %w", err)
		}
	}

	r.logger.Info("tenant removed", slog.String("tenant_id", id))

	return nil
}

// ReorderTenants assigns a new total order over all tenants, given as a
// slice of tenant IDs in the desired ascending order. Every existing
// tenant ID must appear exactly once.
func (r *Registry) ReorderTenants(ctx context.Context, orderedIDs []string) error {
	return r.store.Tenants().Write(func(doc *store.TenantsDoc) error {
		position := make(map[string]int, len(orderedIDs))
		for i, id := range orderedIDs {
			position[id] = i
		}

		if len(position) != len(doc.Tenants) {
			return ferr.New(ferr.ErrInvalidArgument, "reorder list must name every tenant exactly once")
		}

		for i, t := range doc.Tenants {
			pos, ok := position[t.ID]
			if !ok {
				return ferr.New(ferr.ErrInvalidArgument, "unknown tenant id in reorder list: "+t.ID)
			}

			doc.Tenants[i].Order = pos
		}

		return nil
	})
}

// AddGroup creates a new group, assigning it a fresh ID and API key.
func (r *Registry) AddGroup(ctx context.Context, g store.Group) (store.Group, error) {
	g.ID = uuid.NewString()
	if g.APIKey == "" {
		g.APIKey = uuid.NewString()
	}

	err := r.store.Groups().Write(func(doc *store.GroupsDoc) error {
		for _, existing := range doc.Groups {
			if existing.Name == g.Name {
				return ferr.New(ferr.ErrDuplicateName, "group name already in use: "+g.Name)
			}
		}

		doc.Groups = append(doc.Groups, g)

		return nil
	})
	if err != nil {
		return store.Group{}, err
	}

	r.logger.Info("group added", slog.String("group_id", g.ID), slog.String("name", g.Name))

	return g, nil
}

// ListGroups returns every group.
func (r *Registry) ListGroups(ctx context.Context) ([]store.Group, error) {
	var out []store.Group

	err := r.store.Groups().Read(func(doc *store.GroupsDoc) {
		out = append(out, doc.Groups...)
	})

	return out, err
}

// GetGroup looks up one group by ID.
func (r *Registry) GetGroup(ctx context.Context, id string) (store.Group, error) {
	var (
		found store.Group
		ok    bool
	)

	if err := r.store.Groups().Read(func(doc *store.GroupsDoc) {
		for _, g := range doc.Groups {
			if g.ID == id {
				found, ok = g, true
				return
			}
		}
	}); err != nil {
		return store.Group{}, err
	}

	if !ok {
		return store.Group{}, ferr.New(ferr.ErrNotFound, "group not found: "+id)
	}

	return found, nil
}

// GroupByAPIKey resolves an API key to its owning group, used by the
// gateway's auth middleware.
func (r *Registry) GroupByAPIKey(ctx context.Context, key string) (store.Group, error) {
	var (
		found store.Group
		ok    bool
	)

	if err := r.store.Groups().Read(func(doc *store.GroupsDoc) {
		for _, g := range doc.Groups {
			if g.APIKey == key {
				found, ok = g, true
				return
			}
		}
	}); err != nil {
		return store.Group{}, err
	}

	if !ok {
		return store.Group{}, ferr.New(ferr.ErrAuthInvalid, "unknown API key")
	}

	return found, nil
}

// RemoveGroup deletes a group. Tasks referencing the group are left intact
// per spec.md's explicit-ID-reference rule; they simply fail to resolve a
// scope on their next run and surface that as a task error.
func (r *Registry) RemoveGroup(ctx context.Context, id string) error {
	return r.store.Groups().Write(func(doc *store.GroupsDoc) error {
		for i, g := range doc.Groups {
			if g.ID == id {
				doc.Groups = append(doc.Groups[:i], doc.Groups[i+1:]...)
				return nil
			}
		}

		return ferr.New(ferr.ErrNotFound, "group not found: "+id)
	})
}

// RotateGroupKey replaces a group's API key with a freshly generated one
// and returns the new key.
func (r *Registry) RotateGroupKey(ctx context.Context, id string) (string, error) {
	newKey := uuid.NewString()

	err := r.store.Groups().Write(func(doc *store.GroupsDoc) error {
		for i, g := range doc.Groups {
			if g.ID == id {
				doc.Groups[i].APIKey = newKey
				return nil
			}
		}

		return ferr.New(ferr.ErrNotFound, "group not found: "+id)
	})
	if err != nil {
		return "", err
	}

	return newKey, nil
}
