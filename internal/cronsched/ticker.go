package cronsched

import (
	"context"
	"log/slog"
	"time"

	"github.com/disconnec/FeiSync/internal/ferr"
	"github.com/disconnec/FeiSync/internal/store"
)

// Dispatcher runs one sync task to completion and reports its outcome.
// Satisfied by *syncrunner.Runner; defined here so cronsched doesn't import
// syncrunner (the runner uses the transfer engine, which the scheduler has
// no need to know about directly).
type Dispatcher interface {
	RunTask(ctx context.Context, taskID string) (status store.TaskStatus, message string, err error)
}

// tickInterval is the scheduler's baseline wake cadence (architecture.md
// §4.5): a single ticker wakes every 30s or at the next due task, whichever
// is sooner.
const tickInterval = 30 * time.Second

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// DirtyChecker reports and clears a pending local-filesystem-change flag for
// a task's local path. Satisfied by *syncrunner.DirtyWatcher; defined here,
// not imported, for the same reason as Dispatcher — the scheduler only
// needs the narrow capability, not the whole sync-runner package.
type DirtyChecker interface {
	IsDirty(localPath string) bool
}

// Scheduler drives the single-ticker tick loop over the store's tasks.
type Scheduler struct {
	store      *store.Store
	dispatcher Dispatcher
	logger     *slog.Logger
	clock      Clock
	dirty      DirtyChecker
}

// New creates a Scheduler.
func New(st *store.Store, dispatcher Dispatcher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{store: st, dispatcher: dispatcher, logger: logger, clock: realClock{}}
}

// SetClock overrides the scheduler's clock, for deterministic tests.
func (s *Scheduler) SetClock(c Clock) { s.clock = c }

// SetDirtyWatcher attaches a DirtyChecker so the tick loop dispatches a task
// as soon as its local tree changes, instead of waiting for its next cron
// boundary. Optional: a nil dirty checker (the zero value) makes the
// scheduler fall back to cron-only dispatch.
func (s *Scheduler) SetDirtyWatcher(d DirtyChecker) { s.dirty = d }

// RecomputeAll sets next_run_at for every enabled task from the current
// time, per architecture.md §5's startup contract (avoids a thundering herd
// of tasks whose schedules lapsed while the process was down).
func (s *Scheduler) RecomputeAll(ctx context.Context) error {
	now := s.clock.Now()

	return s.store.Tasks().Write(func(doc *store.TasksDoc) error {
		for i := range doc.Tasks {
			task := &doc.Tasks[i]
			if !task.Enabled {
				continue
			}

			s.recomputeNextRun(task, now)
		}

		return nil
	})
}

func (s *Scheduler) recomputeNextRun(task *store.SyncTask, now time.Time) {
	sched, err := Parse(task.Schedule)
	if err != nil {
		s.logger.Warn("task has invalid schedule, leaving unscheduled",
			slog.String("task_id", task.ID), slog.String("schedule", task.Schedule), slog.Any("error", err))

		task.NextRunAt = 0

		return
	}

	next, ok := sched.Next(now)
	if !ok {
		task.NextRunAt = 0
		return
	}

	task.NextRunAt = next.Unix()
}

// Run drives the tick loop until ctx is canceled. On each wake it scans
// enabled tasks whose next_run_at has passed and last_status != running,
// dispatching each asynchronously.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		sleep := s.untilNextWake(ctx)

		timer := time.NewTimer(sleep)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

// untilNextWake returns the duration until the sooner of the baseline
// tickInterval and the earliest enabled task's next_run_at.
func (s *Scheduler) untilNextWake(ctx context.Context) time.Duration {
	now := s.clock.Now()
	soonest := now.Add(tickInterval)

	_ = s.store.Tasks().Read(func(doc *store.TasksDoc) {
		for _, task := range doc.Tasks {
			if !task.Enabled || task.NextRunAt == 0 {
				continue
			}

			due := time.Unix(task.NextRunAt, 0)
			if due.Before(soonest) {
				soonest = due
			}
		}
	})

	d := soonest.Sub(now)
	if d < 0 {
		d = 0
	}

	return d
}

// tick scans due tasks and dispatches each to the runner, one goroutine per
// task so a slow sync run never delays the others' dispatch.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.Now()

	var due []string

	err := s.store.Tasks().Write(func(doc *store.TasksDoc) error {
		for i := range doc.Tasks {
			task := &doc.Tasks[i]

			if !task.Enabled || task.LastStatus == store.TaskRunning {
				continue
			}

			scheduleDue := task.NextRunAt != 0 && task.NextRunAt <= now.Unix()
			dirty := s.dirty != nil && s.dirty.IsDirty(task.LocalPath)

			if !scheduleDue && !dirty {
				continue
			}

			task.LastStatus = store.TaskRunning
			task.LastRunAt = now.Unix()
			due = append(due, task.ID)
		}

		return nil
	})
	if err != nil {
		s.logger.Error("tick: failed to scan due tasks", slog.Any("error", err))
		return
	}

	for _, id := range due {
		go s.dispatch(ctx, id)
	}
}

// RunNow triggers taskID immediately, outside its schedule, and blocks until
// it completes. Used by the gateway's task_run command. A task already
// running is rejected rather than run concurrently with itself.
func (s *Scheduler) RunNow(ctx context.Context, taskID string) (store.TaskStatus, string, error) {
	running := false

	err := s.store.Tasks().Write(func(doc *store.TasksDoc) error {
		for i := range doc.Tasks {
			if doc.Tasks[i].ID != taskID {
				continue
			}

			if doc.Tasks[i].LastStatus == store.TaskRunning {
				running = true
				return nil
			}

			doc.Tasks[i].LastStatus = store.TaskRunning
			doc.Tasks[i].LastRunAt = s.clock.Now().Unix()

			return nil
		}

		return nil
	})
	if err != nil {
		return "", "", err
	}

	if running {
		return store.TaskRunning, "", ferr.New(ferr.ErrConflict, "task already running")
	}

	status, message, runErr := s.dispatcher.RunTask(ctx, taskID)
	if runErr != nil {
		status = store.TaskFailed
		message = runErr.Error()
	}

	now := s.clock.Now()

	werr := s.store.Tasks().Write(func(doc *store.TasksDoc) error {
		for i := range doc.Tasks {
			if doc.Tasks[i].ID != taskID {
				continue
			}

			task := &doc.Tasks[i]
			task.LastStatus = status
			task.LastMessage = message

			if status == store.TaskFailed {
				task.ConsecutiveFailures++
			} else {
				task.ConsecutiveFailures = 0
			}

			if task.Enabled {
				s.recomputeNextRun(task, now)
			}

			return nil
		}

		return nil
	})
	if werr != nil {
		s.logger.Error("RunNow: failed to record task outcome", slog.String("task_id", taskID), slog.Any("error", werr))
	}

	return status, message, runErr
}

// dispatch runs one task via the Dispatcher and records its outcome,
// recomputing next_run_at against the current time rather than the old
// next_run_at, preventing a thundering herd after a long pause
// (architecture.md §4.5's tick-loop paragraph).
func (s *Scheduler) dispatch(ctx context.Context, taskID string) {
	status, message, err := s.dispatcher.RunTask(ctx, taskID)
	if err != nil {
		status = store.TaskFailed
		message = err.Error()
	}

	now := s.clock.Now()

	werr := s.store.Tasks().Write(func(doc *store.TasksDoc) error {
		for i := range doc.Tasks {
			if doc.Tasks[i].ID != taskID {
				continue
			}

			task := &doc.Tasks[i]
			task.LastStatus = status
			task.LastMessage = message

			if status == store.TaskFailed {
				task.ConsecutiveFailures++
			} else {
				task.ConsecutiveFailures = 0
			}

			if task.Enabled {
				s.recomputeNextRun(task, now)
			}

			return nil
		}

		return nil
	})
	if werr != nil {
		s.logger.Error("dispatch: failed to record task outcome", slog.String("task_id", taskID), slog.Any("error", werr))
	}
}
