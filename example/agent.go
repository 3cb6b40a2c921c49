package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/oklog/ulid/v2"

	"github.com/aravindsiva13/taskwire"
)

// agent turns chat messages into task mutations against the store. It is a
// deterministic command parser standing in for a real language model, which
// keeps the demo reproducible.
type agent struct {
	store *store
}

const helpText = `I can manage your tasks. Try:
  create task: Buy groceries due tomorrow, high priority
  complete task 3
  delete task 3
  list tasks
  show active tasks`

// respond interprets one user message and returns the reply payload. Every
// change it makes to the store is echoed as a mutation intent so clients can
// update their local view without refetching.
func (a *agent) respond(text string) taskwire.ChatPayload {
	reply := taskwire.ChatPayload{MessageID: ulid.Make().String()}
	lower := strings.ToLower(strings.TrimSpace(text))

	switch {
	case strings.HasPrefix(lower, "create task:"), strings.HasPrefix(lower, "add task:"):
		_, rest, _ := strings.Cut(text, ":")
		draft := parseDraft(rest)
		if draft.Title == "" {
			reply.Response = "I need a title, e.g. \"create task: Buy groceries\"."
			return reply
		}
		t := a.store.create(draft)
		data, _ := json.Marshal(t)
		reply.Response = fmt.Sprintf("Created task #%d: %s", t.ID, t.Title)
		reply.Actions = []taskwire.MutationIntent{{Type: taskwire.MutationCreate, ID: t.ID, Data: data}}

	case strings.HasPrefix(lower, "complete task"), strings.HasPrefix(lower, "finish task"):
		id, ok := trailingID(lower)
		if !ok {
			reply.Response = "Which task? Say \"complete task 3\"."
			return reply
		}
		status := taskwire.TaskStatusCompleted
		t, found := a.store.update(id, taskwire.TaskPatch{Status: &status})
		if !found {
			reply.Response = fmt.Sprintf("I couldn't find task #%d.", id)
			return reply
		}
		data, _ := json.Marshal(t)
		reply.Response = fmt.Sprintf("Marked task #%d as completed.", id)
		reply.Actions = []taskwire.MutationIntent{{Type: taskwire.MutationUpdate, ID: id, Data: data}}

	case strings.HasPrefix(lower, "delete task"), strings.HasPrefix(lower, "remove task"):
		id, ok := trailingID(lower)
		if !ok {
			reply.Response = "Which task? Say \"delete task 3\"."
			return reply
		}
		if !a.store.remove(id) {
			reply.Response = fmt.Sprintf("I couldn't find task #%d.", id)
			return reply
		}
		reply.Response = fmt.Sprintf("Deleted task #%d.", id)
		reply.Actions = []taskwire.MutationIntent{{Type: taskwire.MutationDelete, ID: id}}

	case strings.HasPrefix(lower, "list tasks"), strings.HasPrefix(lower, "show tasks"):
		tasks := a.store.list()
		reply.Response = summarize(tasks, "You have no tasks yet.")
		reply.Actions = []taskwire.MutationIntent{{Type: taskwire.MutationList, Tasks: tasks}}

	case strings.HasPrefix(lower, "show active"), strings.HasPrefix(lower, "show completed"):
		status := taskwire.TaskStatusActive
		if strings.Contains(lower, "completed") {
			status = taskwire.TaskStatusCompleted
		}
		tasks := a.store.filter(status)
		reply.Response = summarize(tasks, fmt.Sprintf("No %s tasks.", status))
		reply.Actions = []taskwire.MutationIntent{{
			Type:     taskwire.MutationFilter,
			Tasks:    tasks,
			Criteria: string(status),
		}}

	default:
		reply.Response = helpText
	}
	return reply
}

// parseDraft picks a due date and priority out of free text like
// "Buy groceries due tomorrow, high priority".
func parseDraft(text string) taskwire.TaskDraft {
	draft := taskwire.TaskDraft{}
	title := strings.TrimSpace(text)

	lower := strings.ToLower(title)
	for _, p := range []taskwire.TaskPriority{taskwire.PriorityHigh, taskwire.PriorityMedium, taskwire.PriorityLow} {
		marker := string(p) + " priority"
		if idx := strings.Index(lower, marker); idx >= 0 {
			draft.Priority = p
			title = strings.TrimRight(strings.TrimSpace(title[:idx]), ",")
			lower = strings.ToLower(title)
			break
		}
	}

	today := taskwire.DateOf(time.Now())
	for marker, due := range map[string]taskwire.Date{
		"due today":    today,
		"due tomorrow": today.AddDays(1),
	} {
		if idx := strings.Index(lower, marker); idx >= 0 {
			d := due
			draft.DueDate = &d
			title = strings.TrimRight(strings.TrimSpace(title[:idx]+title[idx+len(marker):]), ",")
			break
		}
	}
	if idx := strings.LastIndex(lower, "due "); draft.DueDate == nil && idx >= 0 {
		if d, err := taskwire.ParseDate(strings.TrimSpace(title[idx+4:])); err == nil {
			draft.DueDate = &d
			title = strings.TrimRight(strings.TrimSpace(title[:idx]), ",")
		}
	}

	draft.Title = strings.TrimSpace(title)
	return draft
}

func trailingID(lower string) (int64, bool) {
	fields := strings.Fields(lower)
	if len(fields) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(fields[len(fields)-1], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func summarize(tasks []taskwire.Task, empty string) string {
	if len(tasks) == 0 {
		return empty
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Here are %d task(s):", len(tasks))
	for _, t := range tasks {
		b.WriteString("\n")
		mark := " "
		if t.Status == taskwire.TaskStatusCompleted {
			mark = "x"
		}
		fmt.Fprintf(&b, "  [%s] #%d %s (%s)", mark, t.ID, t.Title, t.Priority)
		if t.DueDate != nil {
			fmt.Fprintf(&b, " due %s", t.DueDate)
		}
	}
	return b.String()
}
