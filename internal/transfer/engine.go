// Package transfer implements the chunked upload/download protocol and its
// state machine (architecture.md §4.4). Each transfer runs in its own
// goroutine, which first takes a slot in its direction's semaphore and then
// one in its destination tenant's semaphore, since the spec ties
// concurrency limits to both direction and destination tenant
// (architecture.md §4.4.5) rather than to a single flat worker count. Each
// goroutine records its own outcome on the transfer record.
package transfer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/disconnec/FeiSync/internal/backend"
	"github.com/disconnec/FeiSync/internal/backoff"
	"github.com/disconnec/FeiSync/internal/events"
	"github.com/disconnec/FeiSync/internal/ferr"
	"github.com/disconnec/FeiSync/internal/store"
)

// defaultDownloadBlockSize is used for downloads, where the backend doesn't dictate a
// chunk size the way upload_init does.
const defaultDownloadBlockSize = 4 << 20 // 4 MiB

// Clock abstracts time for testability, mirroring the way the teacher
// threads a clock through components that need deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Engine owns the upload/download worker pools and drives the transfer
// state machine over store.Transfer records.
type Engine struct {
	store      *store.Store
	backendFor func(ctx context.Context, tenantID string) (backend.DriveBackend, error)
	bus        *events.Bus
	logger     *slog.Logger
	clock      Clock

	uploadSem   chan struct{}
	downloadSem chan struct{}

	tenantMu  sync.Mutex
	tenantSem map[string]chan struct{}
	perTenant int

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	speedMu      sync.Mutex
	speedSamples map[string]speedSample

	wg sync.WaitGroup
}

// speedSample is the last point a transfer's rolling speed estimate was
// computed from (architecture.md §4.4.4: Δtransferred / Δwalltime over the
// most recent sample interval, resampled no more often than every 250 ms).
type speedSample struct {
	at          time.Time
	transferred int64
	bytesPerSec float64
}

// Config supplies the engine's tunables, sourced from store.RuntimeConfig.
type Config struct {
	UploadWorkers        int
	DownloadWorkers      int
	PerTenantParallelism int
}

// New creates an Engine. backendFor resolves a tenant ID to a live
// backend.DriveBackend, typically shared with the tenant router.
func New(st *store.Store, backendFor func(ctx context.Context, tenantID string) (backend.DriveBackend, error), bus *events.Bus, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.UploadWorkers < 1 {
		cfg.UploadWorkers = 1
	}

	if cfg.DownloadWorkers < 1 {
		cfg.DownloadWorkers = 1
	}

	if cfg.PerTenantParallelism < 1 {
		cfg.PerTenantParallelism = 1
	}

	return &Engine{
		store:       st,
		backendFor:  backendFor,
		bus:         bus,
		logger:      logger,
		clock:       realClock{},
		uploadSem:   make(chan struct{}, cfg.UploadWorkers),
		downloadSem: make(chan struct{}, cfg.DownloadWorkers),
		tenantSem:    make(map[string]chan struct{}),
		perTenant:    cfg.PerTenantParallelism,
		cancels:      make(map[string]context.CancelFunc),
		speedSamples: make(map[string]speedSample),
	}
}

// speedSampleInterval is the minimum spacing between rolling speed
// recomputations for a single transfer (architecture.md §4.4.4).
const speedSampleInterval = 250 * time.Millisecond

// sampleSpeed updates and returns a transfer's rolling bytes/sec estimate.
// Samples closer together than speedSampleInterval reuse the previous
// estimate rather than dividing by a near-zero Δwalltime.
func (e *Engine) sampleSpeed(id string, transferred int64, terminal bool) float64 {
	now := e.clock.Now()

	e.speedMu.Lock()
	defer e.speedMu.Unlock()

	if terminal {
		bps := e.speedSamples[id].bytesPerSec
		delete(e.speedSamples, id)

		return bps
	}

	prev, ok := e.speedSamples[id]
	if !ok {
		e.speedSamples[id] = speedSample{at: now, transferred: transferred}
		return 0
	}

	elapsed := now.Sub(prev.at)
	if elapsed < speedSampleInterval {
		return prev.bytesPerSec
	}

	bps := float64(transferred-prev.transferred) / elapsed.Seconds()
	e.speedSamples[id] = speedSample{at: now, transferred: transferred, bytesPerSec: bps}

	return bps
}

// SetClock overrides the engine's clock, for deterministic tests.
func (e *Engine) SetClock(c Clock) { e.clock = c }

func (e *Engine) tenantSemaphore(tenantID string) chan struct{} {
	e.tenantMu.Lock()
	defer e.tenantMu.Unlock()

	sem, ok := e.tenantSem[tenantID]
	if !ok {
		sem = make(chan struct{}, e.perTenant)
		e.tenantSem[tenantID] = sem
	}

	return sem
}

// Reconcile demotes any transfer left in running or pending state (e.g.
// after a process restart) to paused, per architecture.md §5's startup
// contract: resume is always an explicit user action, never automatic.
func (e *Engine) Reconcile(ctx context.Context) error {
	now := e.clock.Now().Unix()

	return e.store.Transfers().Write(func(doc *store.TransfersDoc) error {
		for i := range doc.Transfers {
			t := &doc.Transfers[i]
			if t.Status == store.TransferRunning || t.Status == store.TransferPending {
				t.Status = store.TransferPaused
				t.UpdatedAt = now
				e.logger.Info("transfer demoted to paused on startup", slog.String("transfer_id", t.ID))
			}
		}

		return nil
	})
}

// updateTransfer applies fn to the transfer identified by id under the
// store's write lock, persists it, and publishes the resulting record.
func (e *Engine) updateTransfer(id string, fn func(*store.Transfer)) (store.Transfer, error) {
	var updated store.Transfer

	err := e.store.Transfers().Write(func(doc *store.TransfersDoc) error {
		for i := range doc.Transfers {
			if doc.Transfers[i].ID == id {
				fn(&doc.Transfers[i])
				doc.Transfers[i].UpdatedAt = e.clock.Now().Unix()
				updated = doc.Transfers[i]

				return nil
			}
		}

		return ferr.New(ferr.ErrNotFound, "transfer not found: "+id)
	})
	if err != nil {
		return store.Transfer{}, err
	}

	e.publish(updated)

	return updated, nil
}

func (e *Engine) publish(t store.Transfer) {
	kind := events.KindTransferProgress
	terminal := false

	switch t.Status {
	case store.TransferSuccess:
		kind = events.KindTransferDone
		terminal = true
	case store.TransferFailed:
		kind = events.KindTransferFailed
		terminal = true
	}

	bytesPerSec := e.sampleSpeed(t.ID, t.Transferred, terminal)

	e.bus.Publish(events.Event{
		Kind: kind,
		Key:  t.ID,
		Payload: map[string]any{
			"id": t.ID, "status": t.Status, "transferred": t.Transferred,
			"size": t.Size, "message": t.Message, "bytes_per_sec": bytesPerSec,
		},
	})
}

func (e *Engine) insertTransfer(t store.Transfer) (store.Transfer, error) {
	t.ID = uuid.NewString()
	now := e.clock.Now().Unix()
	t.CreatedAt, t.UpdatedAt = now, now

	if err := e.store.Transfers().Write(func(doc *store.TransfersDoc) error {
		doc.Transfers = append(doc.Transfers, t)
		return nil
	}); err != nil {
		return store.Transfer{}, err
	}

	e.publish(t)

	return t, nil
}

// GetTransfer returns one transfer record by ID.
func (e *Engine) GetTransfer(id string) (store.Transfer, error) {
	var (
		found store.Transfer
		ok    bool
	)

	if err := e.store.Transfers().Read(func(doc *store.TransfersDoc) {
		for _, t := range doc.Transfers {
			if t.ID == id {
				found, ok = t, true
				return
			}
		}
	}); err != nil {
		return store.Transfer{}, err
	}

	if !ok {
		return store.Transfer{}, ferr.New(ferr.ErrNotFound, "transfer not found: "+id)
	}

	return found, nil
}

// ListTransfers returns every transfer record.
func (e *Engine) ListTransfers() ([]store.Transfer, error) {
	var out []store.Transfer

	err := e.store.Transfers().Read(func(doc *store.TransfersDoc) {
		out = append(out, doc.Transfers...)
	})

	return out, err
}

// Pause requests a transfer stop after its current block, per
// architecture.md §4.4.1 step 4. A transfer with a goroutine in this
// process is cancelled; the goroutine observes the cancellation at the next
// block boundary (or while still waiting for a worker slot) and transitions
// to paused itself. A transfer with no goroutine here (e.g. resumed in a
// prior run) is marked paused directly if it is running or pending.
func (e *Engine) Pause(id string) error {
	e.cancelMu.Lock()
	cancel, running := e.cancels[id]
	e.cancelMu.Unlock()

	if running {
		cancel()
		return nil
	}

	_, err := e.updateTransfer(id, func(t *store.Transfer) {
		if t.Status == store.TransferRunning || t.Status == store.TransferPending {
			t.Status = store.TransferPaused
		}
	})

	return err
}

// Cancel attempts a best-effort upload_abort/download cleanup and marks the
// transfer failed with message "cancelled" (architecture.md §4.4.1 step 5).
func (e *Engine) Cancel(ctx context.Context, id string) error {
	return e.cancelWithMessage(ctx, id, "cancelled")
}

func (e *Engine) cancelWithMessage(ctx context.Context, id, message string) error {
	e.cancelMu.Lock()
	cancel, running := e.cancels[id]
	e.cancelMu.Unlock()

	if running {
		cancel()
	}

	t, err := e.GetTransfer(id)
	if err != nil {
		return err
	}

	if t.Direction == store.TransferUpload && t.ResumePayload != nil && t.ResumePayload.UploadID != "" {
		if be, berr := e.backendFor(ctx, t.TenantID); berr == nil {
			_ = be.UploadAbort(ctx, t.ResumePayload.UploadID)
		}
	}

	_, err = e.updateTransfer(id, func(t *store.Transfer) {
		t.Status = store.TransferFailed
		t.Message = message
		t.ResumePayload = nil
	})

	return err
}

// CancelAllForTenant cancels every non-terminal transfer bound to tenantID,
// used by the tenant-removal cascade (architecture.md §4.3 step 3). It
// never returns a not-found error for transfers that race to a terminal
// state between the listing and the cancel.
func (e *Engine) CancelAllForTenant(ctx context.Context, tenantID, message string) error {
	transfers, err := e.ListTransfers()
	if err != nil {
		return err
	}

	for _, t := range transfers {
		if t.TenantID != tenantID {
			continue
		}

		if t.Status == store.TransferSuccess || t.Status == store.TransferFailed {
			continue
		}

		if err := e.cancelWithMessage(ctx, t.ID, message); err != nil && !ferr.Is(err, ferr.ErrNotFound) {
			return err
		}
	}

	return nil
}

// Resume re-enqueues a paused transfer, continuing from its persisted
// resume_payload (architecture.md §4.4.1 step 4: resume restarts from the
// last persisted next_seq / downloaded offset, never from scratch). Unlike
// Restart, Resume keeps the transfer's ID and resume_payload intact.
func (e *Engine) Resume(ctx context.Context, id string) (store.Transfer, error) {
	t, err := e.GetTransfer(id)
	if err != nil {
		return store.Transfer{}, err
	}

	if t.Status != store.TransferPaused {
		return store.Transfer{}, ferr.New(ferr.ErrInvalidArgument, "only paused transfers may be resumed")
	}

	e.wg.Add(1)

	switch t.Kind {
	case store.TransferKindFileUp:
		go func() {
			defer e.wg.Done()
			e.runUpload(ctx, id)
		}()
	case store.TransferKindFileDown:
		go func() {
			defer e.wg.Done()
			e.runDownload(ctx, id)
		}()
	default:
		e.wg.Done()
		return store.Transfer{}, ferr.Newf(ferr.ErrInvalidArgument, "cannot resume transfer kind %s", t.Kind)
	}

	return t, nil
}

// Restart reconstructs a new pending transfer with the same logical
// parameters as a failed one, per architecture.md §4.4.3's restart-from-
// failed rule: a fresh ID, clean state, no inherited resume_payload.
func (e *Engine) Restart(id string) (store.Transfer, error) {
	t, err := e.GetTransfer(id)
	if err != nil {
		return store.Transfer{}, err
	}

	if t.Status != store.TransferFailed {
		return store.Transfer{}, ferr.New(ferr.ErrInvalidArgument, "only failed transfers may be restarted")
	}

	fresh := store.Transfer{
		Direction: t.Direction, Kind: t.Kind, Name: t.Name, TenantID: t.TenantID,
		ParentToken: t.ParentToken, LocalPath: t.LocalPath, RemotePath: t.RemotePath,
		Size: t.Size, Status: store.TransferPending, TaskID: t.TaskID,
	}

	return e.insertTransfer(fresh)
}

func (e *Engine) register(id string, cancel context.CancelFunc) {
	e.cancelMu.Lock()
	e.cancels[id] = cancel
	e.cancelMu.Unlock()
}

func (e *Engine) unregister(id string) {
	e.cancelMu.Lock()
	delete(e.cancels, id)
	e.cancelMu.Unlock()
}

// runRetry executes op, retrying transient failures per the shared
// backoff.BlockRetry policy (architecture.md §4.4.1). A definitive
// rejection (anything not classified UpstreamTransient/RateLimited/Timeout)
// aborts immediately.
func (e *Engine) runRetry(ctx context.Context, policy backoff.Policy, op func() error) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if !isRetryable(lastErr) {
			return lastErr
		}

		if attempt == policy.MaxRetries {
			break
		}

		if err := policy.Sleep(ctx, attempt); err != nil {
			return ferr.New(ferr.ErrCancelled, "retry backoff interrupted")
		}
	}

	return lastErr
}

func isRetryable(err error) bool {
	return ferr.Is(err, ferr.ErrUpstreamTransient) ||
		ferr.Is(err, ferr.ErrUpstreamRateLimited) ||
		ferr.Is(err, ferr.ErrTimeout)
}

// Wait blocks until every goroutine spawned by the engine has exited.
// Used by graceful shutdown.
func (e *Engine) Wait() { e.wg.Wait() }
