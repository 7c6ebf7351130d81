package tenant

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/disconnec/FeiSync/internal/backend"
	"github.com/disconnec/FeiSync/internal/ferr"
	"github.com/disconnec/FeiSync/internal/store"
)

// writeEpsilon is the minimum free space (quota - used) a tenant must have
// to be considered for write-target selection (architecture.md §4.3).
const writeEpsilon = 1 << 20 // 1 MiB

// BackendFor resolves a live backend.DriveBackend for a tenant, used by the
// router to perform aggregated listings and by the transfer engine to
// perform the actual I/O. Defined as a function type rather than baking a
// backend.Registry dependency into Router, so callers can supply cached or
// test doubles freely.
type BackendFor func(ctx context.Context, tenantID string) (backend.DriveBackend, error)

// Router implements aggregated root listing and write-target selection over
// a Registry's tenants (architecture.md §4.3).
type Router struct {
	registry   *Registry
	backendFor BackendFor
}

// NewRouter creates a Router. backendFor resolves a tenant ID to its live
// DriveBackend, typically backed by a backend.Registry plus cached OAuth
// token state.
func NewRouter(registry *Registry, backendFor BackendFor) *Router {
	return &Router{registry: registry, backendFor: backendFor}
}

// TaggedEntry is one union member of an aggregated listing, labeled with
// the tenant it came from.
type TaggedEntry struct {
	TenantID string
	Entry    backend.Entry
}

// AggregatedRoot lists the root of every active tenant in tenantIDs in
// parallel, bounded to 5 concurrent list_root calls, and returns a
// tenant-labeled union ordered first by the tenants' registry Order and,
// within one tenant's entries, by locale-aware name collation.
func (r *Router) AggregatedRoot(ctx context.Context, tenantIDs []string) ([]TaggedEntry, error) {
	tenants, err := r.activeTenantsByID(ctx, tenantIDs)
	if err != nil {
		return nil, err
	}

	type perTenant struct {
		order   int
		tenant  string
		entries []backend.Entry
	}

	results := make([]perTenant, len(tenants))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(5)

	for i, t := range tenants {
		i, t := i, t

		g.Go(func() error {
			be, err := r.backendFor(gctx, t.ID)
			if err != nil {
				return err
			}

			_, entries, err := be.ListRoot(gctx)
			if err != nil {
				return err
			}

			results[i] = perTenant{order: t.Order, tenant: t.ID, entries: entries}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].order < results[j].order })

	collator := collate.New(language.Und)

	out := make([]TaggedEntry, 0)

	for _, res := range results {
		entries := res.entries

		sort.SliceStable(entries, func(i, j int) bool {
			return collator.CompareString(entries[i].Name, entries[j].Name) < 0
		})

		for _, e := range entries {
			out = append(out, TaggedEntry{TenantID: res.tenant, Entry: e})
		}
	}

	return out, nil
}

// SelectWriteTarget chooses the tenant that should host a new write within
// tenantIDs, per architecture.md §4.3: iterate ascending Order, skip
// inactive or read_only tenants, choose the first with
// quota_bytes - used_bytes > writeEpsilon.
func (r *Router) SelectWriteTarget(ctx context.Context, tenantIDs []string) (tenantID string, err error) {
	tenants, err := r.orderedTenants(ctx, tenantIDs)
	if err != nil {
		return "", err
	}

	sawWritable := false

	for _, t := range tenants {
		if !t.Active || t.Permission != store.PermissionReadWrite {
			continue
		}

		sawWritable = true

		if t.QuotaBytes-t.UsedBytes > writeEpsilon {
			return t.ID, nil
		}
	}

	reason := ferr.PermissionReason
	if sawWritable {
		reason = ferr.CapacityReason
	}

	return "", ferr.NewWithReason(ferr.ErrNoWritableTenant, reason, "no writable tenant available")
}

// orderedTenants resolves tenantIDs (or every registered tenant if nil) to
// their store.Tenant records, sorted ascending by Order.
func (r *Router) orderedTenants(ctx context.Context, tenantIDs []string) ([]store.Tenant, error) {
	all, err := r.registry.ListTenants(ctx)
	if err != nil {
		return nil, err
	}

	if tenantIDs == nil {
		return all, nil
	}

	wanted := make(map[string]bool, len(tenantIDs))
	for _, id := range tenantIDs {
		wanted[id] = true
	}

	out := make([]store.Tenant, 0, len(tenantIDs))

	for _, t := range all {
		if wanted[t.ID] {
			out = append(out, t)
		}
	}

	return out, nil
}

// activeTenantsByID resolves tenantIDs to their active store.Tenant
// records, ordered ascending by Order. Inactive tenants are silently
// excluded from aggregated listings.
func (r *Router) activeTenantsByID(ctx context.Context, tenantIDs []string) ([]store.Tenant, error) {
	ordered, err := r.orderedTenants(ctx, tenantIDs)
	if err != nil {
		return nil, err
	}

	out := make([]store.Tenant, 0, len(ordered))

	for _, t := range ordered {
		if t.Active {
			out = append(out, t)
		}
	}

	return out, nil
}
