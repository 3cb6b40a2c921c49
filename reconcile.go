package taskwire

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
)

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	// API is the task CRUD collaborator. Required.
	API TaskAPI
	// Now supplies the current time for overdue computation. Default: time.Now.
	Now func() time.Time
	// Logger receives dropped-intent and rollback events. Default: slog.Default().
	Logger *slog.Logger
}

// Reconciler owns the locally cached task collection and its derived
// statistics. Mutations are applied either optimistically (before
// confirmation) or definitively (after confirmation); optimistic changes are
// rolled back by reloading the authoritative collection, never by diffing.
type Reconciler struct {
	api TaskAPI
	now func() time.Time
	log *slog.Logger

	mu      sync.Mutex
	tasks   []Task
	stats   Stats
	errText string
}

// NewReconciler creates a reconciler with an empty cached collection.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		api: opts.API,
		now: now,
		log: log,
	}
}

// Load replaces the cached collection with the authoritative one.
func (r *Reconciler) Load(ctx context.Context) error {
	tasks, err := r.api.List(ctx)
	if err != nil {
		r.recordError(err)
		return err
	}

	r.mu.Lock()
	// Copied so optimistic flips never write through to a slice the API
	// implementation still holds.
	r.tasks = append([]Task(nil), tasks...)
	r.recomputeLocked()
	r.mu.Unlock()
	return nil
}

// Toggle optimistically flips the active/completed status of the task with
// the given id, then issues the confirming update. On failure, or when the
// confirmed task contradicts the optimistic guess, the optimistic value is
// discarded by a full authoritative reload and a recoverable error is
// recorded.
func (r *Reconciler) Toggle(ctx context.Context, id int64) error {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		err := ErrTaskNotFound(id)
		r.recordError(err)
		return err
	}
	next := r.tasks[i].Status.Toggle()
	r.tasks[i].Status = next
	r.recomputeLocked()
	r.mu.Unlock()

	confirmed, err := r.api.Update(ctx, id, TaskPatch{Status: &next})
	if err != nil {
		r.rollback(ctx, err)
		return err
	}
	if confirmed.Status != next {
		err := NewError(KindRequest, "server disagreed with optimistic toggle")
		r.rollback(ctx, err)
		return err
	}

	r.mu.Lock()
	if j := r.indexLocked(id); j >= 0 {
		r.tasks[j] = confirmed
	}
	r.recomputeLocked()
	r.mu.Unlock()
	return nil
}

// Create issues the creation directly; there is no optimistic phase because
// the identity is server-assigned. The confirmed task is inserted at the head
// of the cached collection.
func (r *Reconciler) Create(ctx context.Context, draft TaskDraft) (Task, error) {
	created, err := r.api.Create(ctx, draft)
	if err != nil {
		r.recordError(err)
		return Task{}, err
	}

	r.mu.Lock()
	r.insertLocked(created)
	r.recomputeLocked()
	r.mu.Unlock()
	return created, nil
}

// Update issues the update directly and replaces the cached entry with the
// confirmed task.
func (r *Reconciler) Update(ctx context.Context, id int64, patch TaskPatch) (Task, error) {
	confirmed, err := r.api.Update(ctx, id, patch)
	if err != nil {
		r.rollback(ctx, err)
		return Task{}, err
	}

	r.mu.Lock()
	if i := r.indexLocked(id); i >= 0 {
		r.tasks[i] = confirmed
	} else {
		r.insertLocked(confirmed)
	}
	r.recomputeLocked()
	r.mu.Unlock()
	return confirmed, nil
}

// Delete issues the deletion directly and removes the cached entry on
// confirmation.
func (r *Reconciler) Delete(ctx context.Context, id int64) error {
	if err := r.api.Delete(ctx, id); err != nil {
		r.rollback(ctx, err)
		return err
	}

	r.mu.Lock()
	r.removeLocked(id)
	r.recomputeLocked()
	r.mu.Unlock()
	return nil
}

// ApplyMutation applies one agent-issued intent to the cached collection.
// It is the bridge invoked by the conversation coordinator, in the order the
// agent listed the intents.
func (r *Reconciler) ApplyMutation(intent MutationIntent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch intent.Type {
	case MutationCreate:
		var t Task
		if err := json.Unmarshal(intent.Data, &t); err != nil {
			r.log.Warn("dropping malformed create intent", "error", err)
			return
		}
		if r.indexLocked(t.ID) >= 0 {
			return // already known, e.g. echoed back after a direct create
		}
		r.insertLocked(t)

	case MutationUpdate:
		var t Task
		if err := json.Unmarshal(intent.Data, &t); err != nil {
			r.log.Warn("dropping malformed update intent", "error", err)
			return
		}
		id := intent.ID
		if id == 0 {
			id = t.ID
		}
		i := r.indexLocked(id)
		if i < 0 {
			return // deleted concurrently; nothing to update
		}
		// Last writer wins: an intent older than the cached entry (for
		// example raced by an optimistic toggle already confirmed) is
		// ignored.
		if r.tasks[i].UpdatedAt.After(t.UpdatedAt) {
			return
		}
		r.tasks[i] = t

	case MutationDelete:
		r.removeLocked(intent.ID)

	case MutationList, MutationFilter:
		r.tasks = append([]Task(nil), intent.Tasks...)

	default:
		r.log.Warn("dropping intent with unknown type", "type", intent.Type)
		return
	}

	r.recomputeLocked()
}

// Tasks returns a snapshot of the cached collection.
func (r *Reconciler) Tasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}

// Stats returns the derived statistics for the cached collection.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// LastError returns the current recoverable error, or "".
func (r *Reconciler) LastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errText
}

// ClearError dismisses the current error.
func (r *Reconciler) ClearError() {
	r.mu.Lock()
	r.errText = ""
	r.mu.Unlock()
}

// rollback records err and replaces any pending optimistic state with a
// freshly fetched authoritative snapshot. If the reload itself fails the
// cached collection is left as-is; the error stays visible either way.
func (r *Reconciler) rollback(ctx context.Context, cause error) {
	r.recordError(cause)

	tasks, err := r.api.List(ctx)
	if err != nil {
		r.log.Warn("rollback reload failed", "error", err)
		return
	}

	r.mu.Lock()
	r.tasks = append([]Task(nil), tasks...)
	r.recomputeLocked()
	r.mu.Unlock()
}

func (r *Reconciler) recordError(err error) {
	r.mu.Lock()
	r.errText = err.Error()
	r.mu.Unlock()
}

// recomputeLocked rederives statistics from the cached collection. It is a
// pure function of the collection, so every mutation path (optimistic,
// confirmed, agent-driven) yields consistent numbers. Caller holds r.mu.
func (r *Reconciler) recomputeLocked() {
	r.stats = ComputeStats(r.tasks, r.now())
}

func (r *Reconciler) indexLocked(id int64) int {
	for i := range r.tasks {
		if r.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) insertLocked(t Task) {
	r.tasks = append([]Task{t}, r.tasks...)
}

func (r *Reconciler) removeLocked(id int64) {
	if i := r.indexLocked(id); i >= 0 {
		r.tasks = append(r.tasks[:i], r.tasks[i+1:]...)
	}
}
