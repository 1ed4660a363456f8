package schedule

import (
	"context"
	"time"

	"github.com/macrokit/macrokit/errors"
	"github.com/macrokit/macrokit/internal/extcall"
)

// TaskDefinition is the external scheduler's view of one schedule, keyed by
// the correlation id stored in external_task_id.
type TaskDefinition struct {
	TaskID      string
	Name        string
	RecordingID string
	NextRunAt   *time.Time
	Enabled     bool
}

// TaskScheduler is the OS task-scheduler boundary. GetTask returns a
// not-found failure for unknown task ids; all calls are fallible
// network-like I/O.
type TaskScheduler interface {
	CreateTask(ctx context.Context, def TaskDefinition) error
	UpdateTask(ctx context.Context, def TaskDefinition) error
	DeleteTask(ctx context.Context, taskID string) error
	GetTask(ctx context.Context, taskID string) (*TaskDefinition, error)
}

// TaskStatus describes one schedule's standing in the external scheduler.
type TaskStatus string

const (
	TaskStatusUnregistered TaskStatus = "unregistered"
	TaskStatusInSync       TaskStatus = "in_sync"
	TaskStatusDivergent    TaskStatus = "divergent"
	TaskStatusMissing      TaskStatus = "missing"
)

// ConflictPolicy selects how reconciliation treats external divergence.
type ConflictPolicy string

const (
	// ConflictPolicyLocalWins overwrites divergent external definitions.
	ConflictPolicyLocalWins ConflictPolicy = "local_wins"
	// ConflictPolicyReportOnly reports divergence without writing.
	ConflictPolicyReportOnly ConflictPolicy = "report_only"
)

// SyncReport summarizes one reconciliation sweep. Warnings carry
// registrations that vanished out-of-band and were re-created; Divergent
// lists definitions left untouched under the report-only policy.
type SyncReport struct {
	Created      []string
	Updated      []string
	Reregistered []string
	Divergent    []string
	Unchanged    []string
}

// Mutations reports how many external writes the sweep performed.
func (r *SyncReport) Mutations() int {
	return len(r.Created) + len(r.Updated) + len(r.Reregistered)
}

// Reconciler pushes local schedule definitions into the external OS
// scheduler. The local store is the source of truth; external edits are
// overwritten or reported per the conflict policy, never merged.
type Reconciler struct {
	store  *Store
	tasks  TaskScheduler
	caller *extcall.Caller
	policy ConflictPolicy
}

// NewReconciler creates a reconciler. ratePerSecond <= 0 disables rate
// limiting; an empty policy defaults to local-wins.
func NewReconciler(store *Store, tasks TaskScheduler, policy ConflictPolicy,
	ratePerSecond float64, maxRetries int, backoff time.Duration) *Reconciler {
	if policy == "" {
		policy = ConflictPolicyLocalWins
	}
	return &Reconciler{
		store:  store,
		tasks:  tasks,
		caller: extcall.New(ratePerSecond, maxRetries, backoff),
		policy: policy,
	}
}

func (r *Reconciler) definition(sched *Schedule) TaskDefinition {
	return TaskDefinition{
		TaskID:      sched.ExternalTaskID,
		Name:        sched.Name,
		RecordingID: sched.RecordingID,
		NextRunAt:   sched.NextExecutionAt,
		Enabled:     sched.Enabled,
	}
}

func sameDefinition(local TaskDefinition, remote *TaskDefinition) bool {
	if local.Name != remote.Name || local.RecordingID != remote.RecordingID ||
		local.Enabled != remote.Enabled {
		return false
	}
	switch {
	case local.NextRunAt == nil && remote.NextRunAt == nil:
		return true
	case local.NextRunAt == nil || remote.NextRunAt == nil:
		return false
	}
	return local.NextRunAt.UTC().Equal(remote.NextRunAt.UTC())
}

// RegisterWindowsTask creates the external registration for one schedule and
// stores the correlation id. Registering an already-registered schedule is a
// conflict.
func (r *Reconciler) RegisterWindowsTask(ctx context.Context, scheduleID string) (string, error) {
	sched, err := r.store.GetByID(ctx, scheduleID)
	if err != nil {
		return "", err
	}
	if sched.ExternalTaskID != "" {
		return "", errors.NewConflictf("schedule %s already registered as %s",
			scheduleID, sched.ExternalTaskID)
	}

	def := r.definition(sched)
	def.TaskID = "macrokit-" + sched.ID
	if err := r.caller.Do(ctx, func(ctx context.Context) error {
		return r.tasks.CreateTask(ctx, def)
	}); err != nil {
		return "", err
	}

	sched.ExternalTaskID = def.TaskID
	if err := r.store.Update(ctx, sched); err != nil {
		return "", err
	}
	return def.TaskID, nil
}

// UnregisterWindowsTask deletes the external registration and clears the
// correlation id. A schedule with no registration is left untouched.
func (r *Reconciler) UnregisterWindowsTask(ctx context.Context, scheduleID string) error {
	sched, err := r.store.GetByID(ctx, scheduleID)
	if err != nil {
		return err
	}
	if sched.ExternalTaskID == "" {
		return nil
	}

	taskID := sched.ExternalTaskID
	if err := r.caller.Do(ctx, func(ctx context.Context) error {
		err := r.tasks.DeleteTask(ctx, taskID)
		if errors.IsNotFound(err) {
			// Already gone externally; clearing locally is still correct.
			return nil
		}
		return err
	}); err != nil {
		return err
	}

	sched.ExternalTaskID = ""
	return r.store.Update(ctx, sched)
}

// GetWindowsTaskStatus compares one schedule against its external
// registration without mutating either side.
func (r *Reconciler) GetWindowsTaskStatus(ctx context.Context, scheduleID string) (TaskStatus, error) {
	sched, err := r.store.GetByID(ctx, scheduleID)
	if err != nil {
		return "", err
	}
	if sched.ExternalTaskID == "" {
		return TaskStatusUnregistered, nil
	}

	var remote *TaskDefinition
	err = r.caller.Do(ctx, func(ctx context.Context) error {
		var err error
		remote, err = r.tasks.GetTask(ctx, sched.ExternalTaskID)
		return err
	})
	if errors.IsNotFound(err) {
		return TaskStatusMissing, nil
	}
	if err != nil {
		return "", err
	}

	if sameDefinition(r.definition(sched), remote) {
		return TaskStatusInSync, nil
	}
	return TaskStatusDivergent, nil
}

// SyncWithWindowsTaskScheduler reconciles every enabled Active schedule
// against the external scheduler: unregistered schedules are registered;
// registrations that vanished out-of-band are re-created and surfaced as
// warnings; divergent definitions are overwritten under local-wins or
// reported under report-only. Running twice with no intervening change
// performs no external mutations on the second sweep.
func (r *Reconciler) SyncWithWindowsTaskScheduler(ctx context.Context) (*SyncReport, error) {
	scheds, err := r.store.GetActiveSchedules(ctx)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{}
	for _, sched := range scheds {
		if err := ctx.Err(); err != nil {
			return report, errors.Wrapf(errors.ErrExternalSync, "sync cancelled: %v", err)
		}

		if sched.ExternalTaskID == "" {
			if _, err := r.RegisterWindowsTask(ctx, sched.ID); err != nil {
				return report, err
			}
			report.Created = append(report.Created, sched.ID)
			continue
		}

		var remote *TaskDefinition
		err := r.caller.Do(ctx, func(ctx context.Context) error {
			var err error
			remote, err = r.tasks.GetTask(ctx, sched.ExternalTaskID)
			return err
		})
		switch {
		case errors.IsNotFound(err):
			// Previously registered, now gone: a warning, not an error.
			def := r.definition(sched)
			if err := r.caller.Do(ctx, func(ctx context.Context) error {
				return r.tasks.CreateTask(ctx, def)
			}); err != nil {
				return report, err
			}
			if r.store.log != nil {
				r.store.log.Warnw("External task vanished, re-registered",
					"schedule", sched.ID, "task", sched.ExternalTaskID)
			}
			report.Reregistered = append(report.Reregistered, sched.ID)
			continue
		case err != nil:
			return report, err
		}

		local := r.definition(sched)
		if sameDefinition(local, remote) {
			report.Unchanged = append(report.Unchanged, sched.ID)
			continue
		}

		if r.policy == ConflictPolicyReportOnly {
			report.Divergent = append(report.Divergent, sched.ID)
			continue
		}

		if err := r.caller.Do(ctx, func(ctx context.Context) error {
			return r.tasks.UpdateTask(ctx, local)
		}); err != nil {
			return report, err
		}
		report.Updated = append(report.Updated, sched.ID)
	}

	if r.store.log != nil {
		r.store.log.Infow("External scheduler sync complete",
			"created", len(report.Created), "updated", len(report.Updated),
			"reregistered", len(report.Reregistered),
			"divergent", len(report.Divergent), "unchanged", len(report.Unchanged))
	}
	return report, nil
}
