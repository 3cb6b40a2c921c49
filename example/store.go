package main

import (
	"sync"
	"time"

	"github.com/aravindsiva13/taskwire"
)

// store is the demo agent's in-memory task collection. Newest tasks come
// first, matching the ordering clients render.
type store struct {
	mu     sync.Mutex
	nextID int64
	tasks  []taskwire.Task
}

func newStore() *store {
	return &store{nextID: 1}
}

func (s *store) list() []taskwire.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]taskwire.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

func (s *store) filter(status taskwire.TaskStatus) []taskwire.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []taskwire.Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

func (s *store) get(id int64) (taskwire.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return taskwire.Task{}, false
}

func (s *store) create(draft taskwire.TaskDraft) taskwire.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	priority := draft.Priority
	if priority == "" {
		priority = taskwire.PriorityMedium
	}
	t := taskwire.Task{
		ID:          s.nextID,
		Title:       draft.Title,
		Description: draft.Description,
		Status:      taskwire.TaskStatusActive,
		Priority:    priority,
		DueDate:     draft.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.nextID++
	s.tasks = append([]taskwire.Task{t}, s.tasks...)
	return t
}

func (s *store) update(id int64, patch taskwire.TaskPatch) (taskwire.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID != id {
			continue
		}
		t := &s.tasks[i]
		if patch.Title != nil {
			t.Title = *patch.Title
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.Status != nil {
			t.Status = *patch.Status
		}
		if patch.Priority != nil {
			t.Priority = *patch.Priority
		}
		if patch.DueDate != nil {
			t.DueDate = patch.DueDate
		}
		t.UpdatedAt = time.Now().UTC()
		return *t, true
	}
	return taskwire.Task{}, false
}

func (s *store) remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return true
		}
	}
	return false
}

func (s *store) stats() taskwire.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return taskwire.ComputeStats(s.tasks, time.Now())
}
