package types

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the on-disk timestamp format: UTC, second precision, trailing Z.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Timestamp is a UTC instant in TimestampLayout form. It is kept as text so
// files round-trip byte-for-byte.
type Timestamp string

// NewTimestamp formats t in UTC with second precision.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp(t.UTC().Format(TimestampLayout))
}

// Time parses the timestamp.
func (ts Timestamp) Time() (time.Time, error) {
	return time.Parse(TimestampLayout, string(ts))
}

func stamp(now time.Time) *Timestamp {
	ts := NewTimestamp(now)
	return &ts
}

// Project is the top-level container of tasks. It owns task ID allocation
// and the aggregate counters.
type Project struct {
	Name           string        `json:"name" yaml:"name"`
	Created        Timestamp     `json:"created" yaml:"created"`
	Status         ProjectStatus `json:"status" yaml:"status"`
	Description    string        `json:"description" yaml:"description"`
	NextTaskID     int           `json:"next_task_id" yaml:"next_task_id"`
	TotalTasks     int           `json:"total_tasks" yaml:"total_tasks"`
	CompletedTasks int           `json:"completed_tasks" yaml:"completed_tasks"`
}

// NewProject returns an active project with counters at their defaults.
func NewProject(name, description string, now time.Time) *Project {
	return &Project{
		Name:        name,
		Created:     NewTimestamp(now),
		Status:      ProjectActive,
		Description: description,
		NextTaskID:  1,
	}
}

// ApplyDefaults fills fields that a decoded document may have omitted.
func (p *Project) ApplyDefaults() {
	if p.Status == "" {
		p.Status = ProjectActive
	}
	if p.NextTaskID == 0 {
		p.NextTaskID = 1
	}
}

// Validate reports whether required fields are present.
func (p *Project) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// NextTaskIDString allocates the next task ID: it returns the current counter
// as a zero-padded three digit string and advances both next_task_id and
// total_tasks. The caller must persist the project for the allocation to stick.
func (p *Project) NextTaskIDString() string {
	id := fmt.Sprintf("%03d", p.NextTaskID)
	p.NextTaskID++
	p.TotalTasks++
	return id
}

// MarkTaskCompleted records one DONE transition. The counter is never
// decremented, so it can exceed the number of tasks currently DONE.
func (p *Project) MarkTaskCompleted() {
	p.CompletedTasks++
}

// CompletionPercentage is completed_tasks over total_tasks, as a percentage.
func (p *Project) CompletionPercentage() float64 {
	if p.TotalTasks == 0 {
		return 0
	}
	return float64(p.CompletedTasks) / float64(p.TotalTasks) * 100
}

// Task is a unit of work within a project.
type Task struct {
	ID               string     `json:"id" yaml:"id"`
	Title            string     `json:"title" yaml:"title"`
	Status           TaskStatus `json:"status" yaml:"status"`
	Created          Timestamp  `json:"created" yaml:"created"`
	Started          *Timestamp `json:"started" yaml:"started"`
	Completed        *Timestamp `json:"completed" yaml:"completed"`
	Project          string     `json:"project" yaml:"project"`
	Description      string     `json:"description" yaml:"description"`
	Notes            string     `json:"notes" yaml:"notes"`
	CurrentIteration int        `json:"current_iteration" yaml:"current_iteration"`
	TotalIterations  int        `json:"total_iterations" yaml:"total_iterations"`
}

// NewTask returns a TODO task.
func NewTask(id, title, project, description, notes string, now time.Time) *Task {
	return &Task{
		ID:          id,
		Title:       title,
		Status:      TaskTodo,
		Created:     NewTimestamp(now),
		Project:     project,
		Description: description,
		Notes:       notes,
	}
}

// ApplyDefaults fills fields that a decoded document may have omitted.
func (t *Task) ApplyDefaults() {
	if t.Status == "" {
		t.Status = TaskTodo
	}
}

// Validate reports whether required fields are present.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Project == "" {
		return fmt.Errorf("project is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// StartWork moves a TODO task to IN_PROGRESS and stamps Started. For any
// other status it does nothing. It reports whether the transition happened.
func (t *Task) StartWork(now time.Time) bool {
	if t.Status != TaskTodo {
		return false
	}
	t.Status = TaskInProgress
	t.Started = stamp(now)
	return true
}

// CompleteWork moves an IN_PROGRESS task to DONE and stamps Completed. For any
// other status it does nothing. It reports whether the transition happened.
func (t *Task) CompleteWork(now time.Time) bool {
	if t.Status != TaskInProgress {
		return false
	}
	t.Status = TaskDone
	t.Completed = stamp(now)
	return true
}

// Iteration is one work session on a task.
type Iteration struct {
	TaskID       string          `json:"task_id" yaml:"task_id"`
	Iteration    int             `json:"iteration" yaml:"iteration"`
	Started      Timestamp       `json:"started" yaml:"started"`
	Completed    *Timestamp      `json:"completed" yaml:"completed"`
	Status       IterationStatus `json:"status" yaml:"status"`
	Notes        string          `json:"notes" yaml:"notes"`
	Summary      string          `json:"summary" yaml:"summary"`
	UserFeedback string          `json:"user_feedback" yaml:"user_feedback"`
	NextSteps    string          `json:"next_steps" yaml:"next_steps"`
}

// NewIteration returns an in-progress iteration started at now.
func NewIteration(taskID string, number int, now time.Time) *Iteration {
	return &Iteration{
		TaskID:    taskID,
		Iteration: number,
		Started:   NewTimestamp(now),
		Status:    IterationInProgress,
	}
}

// ApplyDefaults fills fields that a decoded document may have omitted.
func (it *Iteration) ApplyDefaults() {
	if it.Status == "" {
		it.Status = IterationInProgress
	}
}

// Validate reports whether required fields are present.
func (it *Iteration) Validate() error {
	if it.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if it.Iteration < 1 {
		return fmt.Errorf("iteration must be positive (got %d)", it.Iteration)
	}
	return nil
}

// AddNote appends note on a new line, or sets it if there are no notes yet.
func (it *Iteration) AddNote(note string) {
	if it.Notes != "" {
		it.Notes += "\n" + note
		return
	}
	it.Notes = note
}

// Complete marks the iteration completed regardless of its current status.
func (it *Iteration) Complete(now time.Time) {
	it.Status = IterationCompleted
	it.Completed = stamp(now)
}

// Slug lowercases text, collapses every run of characters outside [a-z0-9]
// into one hyphen, and trims hyphens from both ends.
func Slug(text string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}
