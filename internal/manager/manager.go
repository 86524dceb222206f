// Package manager is the taskflow state machine. It is the only component
// that performs operations spanning more than one entity, and the only one
// that decides which errors callers see.
//
// Every mutation is a read-modify-write of whole files through storage.
// Nothing is locked: two callers racing on the same task or project get
// last-write-wins with no detection of the lost update.
package manager

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/mschirtzinger/taskflow/internal/storage"
	"github.com/mschirtzinger/taskflow/internal/types"
)

// Config holds manager configuration.
type Config struct {
	BaseDir string           // Root of the project tree
	Logger  *log.Logger      // Passed to storage for malformed-file warnings
	Clock   func() time.Time // Source of timestamps; time.Now if nil
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		BaseDir: "projects",
		Logger:  log.New(os.Stderr, "[storage] ", log.LstdFlags),
		Clock:   time.Now,
	}
}

// Manager coordinates projects, tasks and iterations on top of a Store.
type Manager struct {
	store *storage.Store
	clock func() time.Time
}

// New opens (creating if needed) the project tree at cfg.BaseDir.
func New(cfg Config) (*Manager, error) {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	store, err := storage.New(cfg.BaseDir, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return &Manager{store: store, clock: cfg.Clock}, nil
}

// Store exposes the underlying store for read-only collaborators such as the
// index and the watcher.
func (m *Manager) Store() *storage.Store {
	return m.store
}

// BaseDir returns the root of the project tree.
func (m *Manager) BaseDir() string {
	return m.store.BaseDir()
}

// validName rejects names that would escape their directory.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// ===== Projects =====

// CreateProject creates the project directory and project.json.
func (m *Manager) CreateProject(name, description string) (*types.Project, error) {
	if !validName(name) {
		return nil, invalidf("Invalid project name '%s'", name)
	}
	if m.store.ProjectExists(name) {
		return nil, invalidf("Project '%s' already exists", name)
	}
	if _, err := m.store.CreateProjectDir(name); err != nil {
		return nil, err
	}
	p := types.NewProject(name, description, m.clock())
	if err := m.store.SaveProject(p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetProject loads a project.
func (m *Manager) GetProject(name string) (*types.Project, error) {
	if !validName(name) {
		return nil, projectNotFound(name)
	}
	p, err := m.store.LoadProject(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, projectNotFound(name)
		}
		return nil, err
	}
	return p, nil
}

// ListProjects returns the sorted names of all visible projects.
func (m *Manager) ListProjects() ([]string, error) {
	return m.store.ListProjects()
}

// SetProjectStatus parses status and persists it on the project.
func (m *Manager) SetProjectStatus(name, status string) (*types.Project, error) {
	p, err := m.GetProject(name)
	if err != nil {
		return nil, err
	}
	st, err := types.ParseProjectStatus(status)
	if err != nil {
		return nil, invalidErr(err)
	}
	p.Status = st
	if err := m.store.SaveProject(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ProjectStatus returns statistics computed from the live task files.
func (m *Manager) ProjectStatus(name string) (*storage.ProjectStats, error) {
	if _, err := m.GetProject(name); err != nil {
		return nil, err
	}
	stats, err := m.store.Stats(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, projectNotFound(name)
		}
		return nil, err
	}
	return stats, nil
}

// ===== Tasks =====

// CreateTask allocates the next id from the project, persists the project
// counters, then writes the new TODO task. A blank title is rejected
// before an id is allocated.
func (m *Manager) CreateTask(project, title, description, notes string) (*types.Task, error) {
	p, err := m.GetProject(project)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		return nil, invalidf("Task title must not be empty")
	}

	id := p.NextTaskIDString()
	if err := m.store.SaveProject(p); err != nil {
		return nil, err
	}

	task := types.NewTask(id, title, project, description, notes, m.clock())
	if err := m.store.SaveTask(task); err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask loads a task. A missing project is reported before a missing task.
func (m *Manager) GetTask(project, id string) (*types.Task, error) {
	if !validName(project) || !m.store.ProjectExists(project) {
		return nil, projectNotFound(project)
	}
	if !validName(id) {
		return nil, taskNotFound(project, id)
	}
	task, err := m.store.LoadTask(project, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, taskNotFound(project, id)
		}
		return nil, err
	}
	return task, nil
}

// ListTasks returns the sorted task ids of a project.
func (m *Manager) ListTasks(project string) ([]string, error) {
	if !validName(project) || !m.store.ProjectExists(project) {
		return nil, projectNotFound(project)
	}
	return m.store.ListTasks(project)
}

// SetTaskStatus applies a status change:
//
//   - IN_PROGRESS on a task that was never started runs StartWork.
//   - DONE on a task that was never completed runs CompleteWork and, if the
//     task actually moved to DONE, bumps the project's completed counter.
//   - anything else is a plain assignment with no side effects.
//
// The task is looked up before the status is parsed, and nothing is written
// if parsing fails.
func (m *Manager) SetTaskStatus(project, id, status string) (*types.Task, error) {
	task, err := m.GetTask(project, id)
	if err != nil {
		return nil, err
	}
	st, err := types.ParseTaskStatus(status)
	if err != nil {
		return nil, invalidErr(err)
	}

	now := m.clock()
	switch {
	case st == types.TaskInProgress && task.Started == nil:
		task.StartWork(now)
	case st == types.TaskDone && task.Completed == nil:
		if task.CompleteWork(now) {
			if err := m.markCompleted(project); err != nil {
				return nil, err
			}
		}
	default:
		task.Status = st
	}

	if err := m.store.SaveTask(task); err != nil {
		return nil, err
	}
	return task, nil
}

func (m *Manager) markCompleted(project string) error {
	p, err := m.GetProject(project)
	if err != nil {
		return err
	}
	p.MarkTaskCompleted()
	return m.store.SaveProject(p)
}

// StartTask starts a TODO task and opens a new iteration numbered one past
// the current maximum. The task is saved before the iteration.
func (m *Manager) StartTask(project, id string) (*types.Iteration, error) {
	task, err := m.GetTask(project, id)
	if err != nil {
		return nil, err
	}

	now := m.clock()
	task.StartWork(now)

	n, err := m.store.NextIterationNumber(project, id)
	if err != nil {
		return nil, err
	}
	it := types.NewIteration(id, n, now)

	task.CurrentIteration = n
	task.TotalIterations = max(task.TotalIterations, n)
	if err := m.store.SaveTask(task); err != nil {
		return nil, err
	}
	if err := m.store.SaveIteration(it, project); err != nil {
		return nil, err
	}
	return it, nil
}

// CompleteTask completes the current iteration if it is not already
// completed, then completes the task. The project counter is bumped only
// when the task actually transitions to DONE, so completing twice counts once.
// A task that is not IN_PROGRESS (TODO or ARCHIVED) keeps its status and
// the counter is left alone; callers check the returned status.
func (m *Manager) CompleteTask(project, id string) (*types.Task, error) {
	task, err := m.GetTask(project, id)
	if err != nil {
		return nil, err
	}

	now := m.clock()
	cur, err := m.store.CurrentIteration(project, id)
	switch {
	case err == nil:
		if cur.Status != types.IterationCompleted {
			cur.Complete(now)
			if err := m.store.SaveIteration(cur, project); err != nil {
				return nil, err
			}
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	if task.Status != types.TaskDone && task.CompleteWork(now) {
		if err := m.store.SaveTask(task); err != nil {
			return nil, err
		}
		if err := m.markCompleted(project); err != nil {
			return nil, err
		}
	}
	return task, nil
}

// TaskUpdate carries optional field edits. Nil fields are left alone and a
// blank title is ignored.
type TaskUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

// UpdateTask edits task fields in place. The task file keeps its original
// name even when the title changes.
func (m *Manager) UpdateTask(project, id string, upd TaskUpdate) (*types.Task, error) {
	task, err := m.GetTask(project, id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil && strings.TrimSpace(*upd.Title) != "" {
		task.Title = *upd.Title
	}
	if upd.Description != nil {
		task.Description = *upd.Description
	}
	if upd.Notes != nil {
		task.Notes = *upd.Notes
	}
	if err := m.store.SaveTask(task); err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask removes the task file and all of its iteration files. Project
// counters are left untouched, so the id is never reused.
func (m *Manager) DeleteTask(project, id string) error {
	if _, err := m.GetTask(project, id); err != nil {
		return err
	}
	if err := m.store.DeleteTask(project, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return taskNotFound(project, id)
		}
		return err
	}
	return nil
}

// ContinueTask reopens a DONE task and starts a new iteration on it. A
// non-empty reason is recorded as the first note of that iteration.
//
// Reopening does not clear the task's completed timestamp or decrement the
// project's completed counter, so completing the task again counts a second
// time and completed_tasks can exceed the number of tasks currently DONE.
func (m *Manager) ContinueTask(project, id, reason string) (*types.Iteration, error) {
	task, err := m.GetTask(project, id)
	if err != nil {
		return nil, err
	}
	if task.Status == types.TaskDone {
		if _, err := m.SetTaskStatus(project, id, string(types.TaskInProgress)); err != nil {
			return nil, err
		}
	}
	it, err := m.StartTask(project, id)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return m.AddIterationNote(project, id, "Continuation reason: "+reason)
	}
	return it, nil
}

// CloneTask creates a new task from an existing one. An empty title becomes
// "<source title> (copy)" and empty notes are copied from the source.
func (m *Manager) CloneTask(project, sourceID, title, notes string) (*types.Task, error) {
	src, err := m.GetTask(project, sourceID)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = src.Title + " (copy)"
	}
	if notes == "" {
		notes = src.Notes
	}
	return m.CreateTask(project, title, src.Description, notes)
}

// ===== Iterations =====

// GetIteration loads iteration n of a task.
func (m *Manager) GetIteration(project, id string, n int) (*types.Iteration, error) {
	if !validName(project) || !m.store.ProjectExists(project) {
		return nil, projectNotFound(project)
	}
	if !validName(id) {
		return nil, iterationNotFound(project, id, n)
	}
	it, err := m.store.LoadIteration(project, id, n)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, iterationNotFound(project, id, n)
		}
		return nil, err
	}
	return it, nil
}

// ListIterations returns the iteration numbers of an existing task.
func (m *Manager) ListIterations(project, id string) ([]int, error) {
	if _, err := m.GetTask(project, id); err != nil {
		return nil, err
	}
	return m.store.ListIterations(project, id)
}

// currentIteration loads the highest-numbered iteration of a task.
func (m *Manager) currentIteration(project, id string) (*types.Iteration, error) {
	if !validName(project) || !validName(id) {
		return nil, noActiveIteration(id)
	}
	it, err := m.store.CurrentIteration(project, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, noActiveIteration(id)
		}
		return nil, err
	}
	return it, nil
}

// updateCurrent applies fn to the current iteration and saves it.
func (m *Manager) updateCurrent(project, id string, fn func(*types.Iteration)) (*types.Iteration, error) {
	it, err := m.currentIteration(project, id)
	if err != nil {
		return nil, err
	}
	fn(it)
	if err := m.store.SaveIteration(it, project); err != nil {
		return nil, err
	}
	return it, nil
}

// AddIterationNote appends a note to the current iteration.
func (m *Manager) AddIterationNote(project, id, note string) (*types.Iteration, error) {
	return m.updateCurrent(project, id, func(it *types.Iteration) { it.AddNote(note) })
}

// SetIterationSummary replaces the current iteration's summary.
func (m *Manager) SetIterationSummary(project, id, summary string) (*types.Iteration, error) {
	return m.updateCurrent(project, id, func(it *types.Iteration) { it.Summary = summary })
}

// AddUserFeedback replaces the current iteration's user feedback.
func (m *Manager) AddUserFeedback(project, id, feedback string) (*types.Iteration, error) {
	return m.updateCurrent(project, id, func(it *types.Iteration) { it.UserFeedback = feedback })
}

// SetNextSteps replaces the current iteration's next steps.
func (m *Manager) SetNextSteps(project, id, nextSteps string) (*types.Iteration, error) {
	return m.updateCurrent(project, id, func(it *types.Iteration) { it.NextSteps = nextSteps })
}

// CompleteIteration marks the current iteration completed, whatever its status.
func (m *Manager) CompleteIteration(project, id string) (*types.Iteration, error) {
	now := m.clock()
	return m.updateCurrent(project, id, func(it *types.Iteration) { it.Complete(now) })
}

// ===== Details & maintenance =====

// TaskDetails is a task snapshot together with its iterations.
type TaskDetails struct {
	Task             *types.Task      `json:"task"`
	IterationCount   int              `json:"iteration_count"`
	Iterations       []int            `json:"iterations"`
	CurrentIteration *types.Iteration `json:"current_iteration"`
}

// GetTaskDetails returns the task, its iteration numbers and the current
// iteration (nil if none exists).
func (m *Manager) GetTaskDetails(project, id string) (*TaskDetails, error) {
	task, err := m.GetTask(project, id)
	if err != nil {
		return nil, err
	}
	numbers, err := m.store.ListIterations(project, id)
	if err != nil {
		return nil, err
	}
	details := &TaskDetails{Task: task, IterationCount: len(numbers), Iterations: numbers}
	if cur, err := m.store.CurrentIteration(project, id); err == nil {
		details.CurrentIteration = cur
	}
	return details, nil
}

// Cleanup removes project directories that hold no files. It returns the
// names of the removed directories.
func (m *Manager) Cleanup() ([]string, error) {
	return m.store.CleanupEmptyDirs()
}
