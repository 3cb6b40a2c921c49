package taskwire

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAPI is a scripted TaskAPI. Unset functions fail the test when called.
type stubAPI struct {
	t      *testing.T
	list   func(ctx context.Context) ([]Task, error)
	create func(ctx context.Context, draft TaskDraft) (Task, error)
	update func(ctx context.Context, id int64, patch TaskPatch) (Task, error)
	del    func(ctx context.Context, id int64) error
	stats  func(ctx context.Context) (Stats, error)
}

func (s *stubAPI) List(ctx context.Context) ([]Task, error) {
	if s.list == nil {
		s.t.Fatal("unexpected List call")
	}
	return s.list(ctx)
}

func (s *stubAPI) Create(ctx context.Context, draft TaskDraft) (Task, error) {
	if s.create == nil {
		s.t.Fatal("unexpected Create call")
	}
	return s.create(ctx, draft)
}

func (s *stubAPI) Update(ctx context.Context, id int64, patch TaskPatch) (Task, error) {
	if s.update == nil {
		s.t.Fatal("unexpected Update call")
	}
	return s.update(ctx, id, patch)
}

func (s *stubAPI) Delete(ctx context.Context, id int64) error {
	if s.del == nil {
		s.t.Fatal("unexpected Delete call")
	}
	return s.del(ctx, id)
}

func (s *stubAPI) Stats(ctx context.Context) (Stats, error) {
	if s.stats == nil {
		s.t.Fatal("unexpected Stats call")
	}
	return s.stats(ctx)
}

func fixedNow() time.Time {
	return time.Date(2024, time.March, 15, 12, 30, 0, 0, time.UTC)
}

func newTestReconciler(t *testing.T, api TaskAPI) *Reconciler {
	t.Helper()
	return NewReconciler(ReconcilerOptions{API: api, Now: fixedNow, Logger: testLogger()})
}

// confirmingAPI confirms every update by echoing the patch back and serves
// the current slice for reloads.
func confirmingAPI(t *testing.T, tasks []Task) *stubAPI {
	byID := make(map[int64]Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}
	return &stubAPI{
		t: t,
		list: func(context.Context) ([]Task, error) {
			out := make([]Task, 0, len(tasks))
			for _, task := range tasks {
				out = append(out, byID[task.ID])
			}
			return out, nil
		},
		update: func(_ context.Context, id int64, patch TaskPatch) (Task, error) {
			task, ok := byID[id]
			if !ok {
				return Task{}, ErrTaskNotFound(id)
			}
			if patch.Status != nil {
				task.Status = *patch.Status
			}
			if patch.Title != nil {
				task.Title = *patch.Title
			}
			task.UpdatedAt = fixedNow()
			byID[id] = task
			return task, nil
		},
	}
}

func someTasks() []Task {
	due := Date{Year: 2024, Month: time.March, Day: 10} // before fixedNow
	return []Task{
		{ID: 1, Title: "write report", Status: TaskStatusActive, Priority: PriorityHigh, DueDate: &due},
		{ID: 2, Title: "buy milk", Status: TaskStatusActive, Priority: PriorityLow},
		{ID: 3, Title: "file taxes", Status: TaskStatusCompleted, Priority: PriorityMedium},
	}
}

func TestLoadPopulatesCacheAndStats(t *testing.T) {
	r := newTestReconciler(t, confirmingAPI(t, someTasks()))
	require.NoError(t, r.Load(context.Background()))

	st := r.Stats()
	assert.Equal(t, Stats{Total: 3, Active: 2, Completed: 1, Overdue: 1}, st)
	assert.Equal(t, st.Total, st.Active+st.Completed)
	assert.LessOrEqual(t, st.Overdue, st.Active)
}

func TestToggleParity(t *testing.T) {
	r := newTestReconciler(t, confirmingAPI(t, someTasks()))
	require.NoError(t, r.Load(context.Background()))

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Toggle(context.Background(), 2))
	}

	// Initial active, odd number of successful toggles: completed.
	tasks := r.Tasks()
	for _, task := range tasks {
		if task.ID == 2 {
			assert.Equal(t, TaskStatusCompleted, task.Status)
		}
	}

	st := r.Stats()
	assert.Equal(t, st.Total, st.Active+st.Completed)
}

func TestToggleRejectionRollsBack(t *testing.T) {
	authoritative := someTasks()
	calls := 0
	api := &stubAPI{
		t:    t,
		list: func(context.Context) ([]Task, error) { return authoritative, nil },
		update: func(context.Context, int64, TaskPatch) (Task, error) {
			calls++
			return Task{}, NewError(KindRequest, "rejected")
		},
	}
	r := newTestReconciler(t, api)
	require.NoError(t, r.Load(context.Background()))

	err := r.Toggle(context.Background(), 1)
	require.Error(t, err)
	require.Equal(t, 1, calls)

	// The optimistic flip was discarded by the authoritative reload.
	for _, task := range r.Tasks() {
		if task.ID == 1 {
			assert.Equal(t, TaskStatusActive, task.Status)
		}
	}
	assert.NotEmpty(t, r.LastError())

	st := r.Stats()
	assert.Equal(t, Stats{Total: 3, Active: 2, Completed: 1, Overdue: 1}, st)
}

func TestToggleContradictionRollsBack(t *testing.T) {
	authoritative := someTasks()
	api := &stubAPI{
		t:    t,
		list: func(context.Context) ([]Task, error) { return authoritative, nil },
		update: func(_ context.Context, id int64, _ TaskPatch) (Task, error) {
			// Server answers with the opposite of what was asked.
			return authoritative[0], nil
		},
	}
	r := newTestReconciler(t, api)
	require.NoError(t, r.Load(context.Background()))

	err := r.Toggle(context.Background(), 1)
	require.Error(t, err)
	assert.NotEmpty(t, r.LastError())
	for _, task := range r.Tasks() {
		if task.ID == 1 {
			assert.Equal(t, TaskStatusActive, task.Status)
		}
	}
}

func TestToggleUnknownID(t *testing.T) {
	r := newTestReconciler(t, confirmingAPI(t, someTasks()))
	require.NoError(t, r.Load(context.Background()))

	err := r.Toggle(context.Background(), 99)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestCreateInsertsAtHead(t *testing.T) {
	created := Task{ID: 10, Title: "new", Status: TaskStatusActive, Priority: PriorityMedium, UpdatedAt: fixedNow()}
	api := confirmingAPI(t, someTasks())
	api.create = func(_ context.Context, draft TaskDraft) (Task, error) {
		assert.Equal(t, "new", draft.Title)
		return created, nil
	}
	r := newTestReconciler(t, api)
	require.NoError(t, r.Load(context.Background()))

	got, err := r.Create(context.Background(), TaskDraft{Title: "new", Priority: PriorityMedium})
	require.NoError(t, err)
	assert.Equal(t, created, got)

	tasks := r.Tasks()
	require.Len(t, tasks, 4)
	assert.Equal(t, int64(10), tasks[0].ID)
	assert.Equal(t, 3, r.Stats().Active)
}

func TestDeleteRemovesEntry(t *testing.T) {
	api := confirmingAPI(t, someTasks())
	api.del = func(_ context.Context, id int64) error {
		assert.Equal(t, int64(2), id)
		return nil
	}
	r := newTestReconciler(t, api)
	require.NoError(t, r.Load(context.Background()))

	require.NoError(t, r.Delete(context.Background(), 2))
	assert.Len(t, r.Tasks(), 2)
	assert.Equal(t, Stats{Total: 2, Active: 1, Completed: 1, Overdue: 1}, r.Stats())
}

func TestDeleteFailureReloads(t *testing.T) {
	authoritative := someTasks()
	api := &stubAPI{
		t:    t,
		list: func(context.Context) ([]Task, error) { return authoritative, nil },
		del:  func(context.Context, int64) error { return ErrTaskNotFound(2) },
	}
	r := newTestReconciler(t, api)
	require.NoError(t, r.Load(context.Background()))

	err := r.Delete(context.Background(), 2)
	require.Error(t, err)
	assert.NotEmpty(t, r.LastError())
	assert.Len(t, r.Tasks(), 3, "authoritative snapshot restored")
}

func TestApplyMutationCreate(t *testing.T) {
	r := newTestReconciler(t, confirmingAPI(t, someTasks()))
	require.NoError(t, r.Load(context.Background()))

	tomorrow := DateOf(fixedNow()).AddDays(1)
	created := Task{ID: 42, Title: "buy milk", Status: TaskStatusActive, Priority: PriorityHigh, DueDate: &tomorrow}
	before := r.Stats()

	r.ApplyMutation(MutationIntent{Type: MutationCreate, Data: mustJSON(t, created)})

	tasks := r.Tasks()
	require.Len(t, tasks, 4)
	assert.Equal(t, int64(42), tasks[0].ID)
	assert.Equal(t, "buy milk", tasks[0].Title)
	assert.Equal(t, PriorityHigh, tasks[0].Priority)
	assert.Equal(t, before.Active+1, r.Stats().Active)
}

func TestApplyMutationUpdateLastWriterWins(t *testing.T) {
	r := newTestReconciler(t, confirmingAPI(t, someTasks()))
	require.NoError(t, r.Load(context.Background()))

	// Fresher than the cached entry: applied.
	fresh := Task{ID: 2, Title: "buy oat milk", Status: TaskStatusActive, Priority: PriorityLow, UpdatedAt: fixedNow()}
	r.ApplyMutation(MutationIntent{Type: MutationUpdate, ID: 2, Data: mustJSON(t, fresh)})
	for _, task := range r.Tasks() {
		if task.ID == 2 {
			assert.Equal(t, "buy oat milk", task.Title)
		}
	}

	// Older than the cached entry: ignored.
	stale := Task{ID: 2, Title: "buy cow milk", Status: TaskStatusActive, Priority: PriorityLow, UpdatedAt: fixedNow().Add(-time.Hour)}
	r.ApplyMutation(MutationIntent{Type: MutationUpdate, ID: 2, Data: mustJSON(t, stale)})
	for _, task := range r.Tasks() {
		if task.ID == 2 {
			assert.Equal(t, "buy oat milk", task.Title)
		}
	}
}

func TestApplyMutationUpdateAbsentIsIgnored(t *testing.T) {
	r := newTestReconciler(t, confirmingAPI(t, someTasks()))
	require.NoError(t, r.Load(context.Background()))

	ghost := Task{ID: 77, Title: "ghost", Status: TaskStatusActive, UpdatedAt: fixedNow()}
	r.ApplyMutation(MutationIntent{Type: MutationUpdate, ID: 77, Data: mustJSON(t, ghost)})

	assert.Len(t, r.Tasks(), 3)
}

func TestApplyMutationDelete(t *testing.T) {
	r := newTestReconciler(t, confirmingAPI(t, someTasks()))
	require.NoError(t, r.Load(context.Background()))

	r.ApplyMutation(MutationIntent{Type: MutationDelete, ID: 3})
	assert.Len(t, r.Tasks(), 2)

	// Deleting an id that is already gone is a no-op.
	r.ApplyMutation(MutationIntent{Type: MutationDelete, ID: 3})
	assert.Len(t, r.Tasks(), 2)
}

func TestApplyMutationListReplacesCollection(t *testing.T) {
	r := newTestReconciler(t, confirmingAPI(t, someTasks()))
	require.NoError(t, r.Load(context.Background()))

	replacement := []Task{
		{ID: 9, Title: "only one", Status: TaskStatusActive, Priority: PriorityMedium},
	}
	r.ApplyMutation(MutationIntent{Type: MutationFilter, Tasks: replacement, Criteria: "active"})

	tasks := r.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(9), tasks[0].ID)
	assert.Equal(t, Stats{Total: 1, Active: 1, Completed: 0, Overdue: 0}, r.Stats())
}

func TestApplyMutationMalformedIsDropped(t *testing.T) {
	r := newTestReconciler(t, confirmingAPI(t, someTasks()))
	require.NoError(t, r.Load(context.Background()))

	r.ApplyMutation(MutationIntent{Type: MutationCreate, Data: []byte(`"not a task"`)})
	assert.Len(t, r.Tasks(), 3)
}

func TestStatsInvariants(t *testing.T) {
	r := newTestReconciler(t, confirmingAPI(t, someTasks()))
	require.NoError(t, r.Load(context.Background()))

	mutations := []MutationIntent{
		{Type: MutationDelete, ID: 1},
		{Type: MutationCreate, Data: mustJSON(t, Task{ID: 20, Title: "a", Status: TaskStatusActive})},
		{Type: MutationCreate, Data: mustJSON(t, Task{ID: 21, Title: "b", Status: TaskStatusCompleted})},
		{Type: MutationDelete, ID: 2},
	}
	for _, m := range mutations {
		r.ApplyMutation(m)
		st := r.Stats()
		assert.Equal(t, st.Total, st.Active+st.Completed)
		assert.LessOrEqual(t, st.Overdue, st.Active)
	}
}
