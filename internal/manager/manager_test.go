package manager

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/taskflow/internal/types"
)

// fakeClock advances one second per call.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m, err := New(Config{
		BaseDir: t.TempDir(),
		Logger:  log.New(io.Discard, "", 0),
		Clock:   clock.Now,
	})
	require.NoError(t, err)
	return m
}

func newDemo(t *testing.T) *Manager {
	t.Helper()
	m := newTestManager(t)
	_, err := m.CreateProject("demo", "demo project")
	require.NoError(t, err)
	return m
}

// snapshot returns the contents of every file under dir keyed by relative path.
func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		files[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestCreateProject(t *testing.T) {
	m := newTestManager(t)

	p, err := m.CreateProject("demo", "desc")
	require.NoError(t, err)
	assert.Equal(t, types.ProjectActive, p.Status)
	assert.Equal(t, 1, p.NextTaskID)
	assert.Equal(t, 0, p.TotalTasks)
	assert.DirExists(t, filepath.Join(m.BaseDir(), "demo", "tasks"))

	_, err = m.CreateProject("demo", "again")
	require.ErrorIs(t, err, ErrInvalid)
	assert.EqualError(t, err, "Project 'demo' already exists")
}

func TestCreateProject_RejectsBadNames(t *testing.T) {
	m := newTestManager(t)
	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "../escape"} {
		_, err := m.CreateProject(name, "")
		assert.ErrorIs(t, err, ErrInvalid, "name %q", name)
	}
}

func TestSetProjectStatus(t *testing.T) {
	m := newDemo(t)

	p, err := m.SetProjectStatus("demo", "archived")
	require.NoError(t, err)
	assert.Equal(t, types.ProjectArchived, p.Status)

	loaded, err := m.GetProject("demo")
	require.NoError(t, err)
	assert.Equal(t, types.ProjectArchived, loaded.Status)

	_, err = m.SetProjectStatus("demo", "frozen")
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "'active', 'completed', 'archived'")

	_, err = m.SetProjectStatus("ghost", "active")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestCreateTask_IDMonotonicity(t *testing.T) {
	m := newDemo(t)

	var ids []string
	for i := 0; i < 12; i++ {
		task, err := m.CreateTask("demo", "task", "", "")
		require.NoError(t, err)
		ids = append(ids, task.ID)
		if i == 4 {
			require.NoError(t, m.DeleteTask("demo", task.ID))
		}
	}

	assert.Equal(t, "001", ids[0])
	assert.Equal(t, "005", ids[4])
	assert.Equal(t, "006", ids[5], "deleted ids are not reused")
	assert.Equal(t, "012", ids[11])

	p, err := m.GetProject("demo")
	require.NoError(t, err)
	assert.Equal(t, 13, p.NextTaskID)
	assert.Equal(t, 12, p.TotalTasks, "total counts allocations, not live tasks")

	live, err := m.ListTasks("demo")
	require.NoError(t, err)
	assert.Len(t, live, 11)
}

func TestCreateTask_ProjectNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateTask("ghost", "t", "", "")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestCreateTask_BlankTitle(t *testing.T) {
	m := newDemo(t)

	for _, title := range []string{"", "   "} {
		_, err := m.CreateTask("demo", title, "", "")
		var merr *Error
		require.True(t, errors.As(err, &merr), "title %q", title)
		assert.Equal(t, KindInvalid, merr.Kind)
	}

	p, err := m.GetProject("demo")
	require.NoError(t, err)
	assert.Equal(t, 1, p.NextTaskID, "no id allocated")
	assert.Equal(t, 0, p.TotalTasks)
}

func TestGetTask_ProjectCheckedFirst(t *testing.T) {
	m := newTestManager(t)

	_, err := m.GetTask("never-created", "001")
	require.ErrorIs(t, err, ErrProjectNotFound)
	assert.NotErrorIs(t, err, ErrTaskNotFound)

	m = newDemo(t)
	_, err = m.GetTask("demo", "999")
	require.ErrorIs(t, err, ErrTaskNotFound)
	assert.EqualError(t, err, "Task '999' not found in project 'demo'")
}

func TestErrorsAs_CatchesAllKinds(t *testing.T) {
	m := newDemo(t)
	_, err := m.GetTask("demo", "404")

	var merr *Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, KindTaskNotFound, merr.Kind)
	assert.Equal(t, "TASK_NOT_FOUND", merr.Code())
	assert.Equal(t, 404, merr.Kind.HTTPStatus())
	assert.Equal(t, 400, KindInvalid.HTTPStatus())
}

func TestSetTaskStatus_InProgressTwiceStampsOnce(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)

	first, err := m.SetTaskStatus("demo", "001", "IN_PROGRESS")
	require.NoError(t, err)
	require.NotNil(t, first.Started)

	second, err := m.SetTaskStatus("demo", "001", "IN_PROGRESS")
	require.NoError(t, err)
	assert.Equal(t, types.TaskInProgress, second.Status)
	assert.Equal(t, *first.Started, *second.Started)
}

func TestSetTaskStatus_DoneCountsOnce(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)
	_, err = m.SetTaskStatus("demo", "001", "IN_PROGRESS")
	require.NoError(t, err)

	task, err := m.SetTaskStatus("demo", "001", "DONE")
	require.NoError(t, err)
	assert.Equal(t, types.TaskDone, task.Status)
	require.NotNil(t, task.Completed)

	_, err = m.SetTaskStatus("demo", "001", "DONE")
	require.NoError(t, err)

	p, err := m.GetProject("demo")
	require.NoError(t, err)
	assert.Equal(t, 1, p.CompletedTasks)
}

func TestSetTaskStatus_DoneOnTodoIsGuarded(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)

	task, err := m.SetTaskStatus("demo", "001", "DONE")
	require.NoError(t, err)
	assert.Equal(t, types.TaskTodo, task.Status)
	assert.Nil(t, task.Completed)

	p, err := m.GetProject("demo")
	require.NoError(t, err)
	assert.Equal(t, 0, p.CompletedTasks)
}

func TestSetTaskStatus_DirectAssignment(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)

	task, err := m.SetTaskStatus("demo", "001", "ARCHIVED")
	require.NoError(t, err)
	assert.Equal(t, types.TaskArchived, task.Status)
	assert.Nil(t, task.Started)

	task, err = m.SetTaskStatus("demo", "001", "TODO")
	require.NoError(t, err)
	assert.Equal(t, types.TaskTodo, task.Status)
}

func TestSetTaskStatus_BogusLeavesFilesAlone(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)
	before := snapshot(t, m.BaseDir())

	_, err = m.SetTaskStatus("demo", "001", "BOGUS")
	require.ErrorIs(t, err, ErrInvalid)
	for _, v := range []string{"TODO", "IN_PROGRESS", "DONE", "ARCHIVED"} {
		assert.Contains(t, err.Error(), v)
	}

	var invalid *types.InvalidStatusError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "BOGUS", invalid.Value)

	assert.Equal(t, before, snapshot(t, m.BaseDir()))
}

func TestSetTaskStatus_TaskNotFound(t *testing.T) {
	m := newDemo(t)
	_, err := m.SetTaskStatus("demo", "001", "DONE")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestStartTask_Iterations(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		it, err := m.StartTask("demo", "001")
		require.NoError(t, err)
		assert.Equal(t, want, it.Iteration)
		assert.Equal(t, types.IterationInProgress, it.Status)
	}

	task, err := m.GetTask("demo", "001")
	require.NoError(t, err)
	assert.Equal(t, types.TaskInProgress, task.Status)
	assert.Equal(t, 3, task.CurrentIteration)
	assert.Equal(t, 3, task.TotalIterations)

	details, err := m.GetTaskDetails("demo", "001")
	require.NoError(t, err)
	assert.Equal(t, 3, details.IterationCount)
	assert.Equal(t, []int{1, 2, 3}, details.Iterations)
	require.NotNil(t, details.CurrentIteration)
	assert.Equal(t, 3, details.CurrentIteration.Iteration)
}

func TestStartTask_DoesNotRestartDoneTask(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)
	_, err = m.StartTask("demo", "001")
	require.NoError(t, err)
	_, err = m.CompleteTask("demo", "001")
	require.NoError(t, err)

	it, err := m.StartTask("demo", "001")
	require.NoError(t, err)
	assert.Equal(t, 2, it.Iteration)

	task, err := m.GetTask("demo", "001")
	require.NoError(t, err)
	assert.Equal(t, types.TaskDone, task.Status)
}

func TestTaskDetails_NoIterations(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)

	details, err := m.GetTaskDetails("demo", "001")
	require.NoError(t, err)
	assert.Equal(t, 0, details.IterationCount)
	assert.Empty(t, details.Iterations)
	assert.Nil(t, details.CurrentIteration)
}

func TestIterationOps_RequireIteration(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)

	ops := map[string]func() error{
		"note":     func() error { _, err := m.AddIterationNote("demo", "001", "x"); return err },
		"summary":  func() error { _, err := m.SetIterationSummary("demo", "001", "x"); return err },
		"feedback": func() error { _, err := m.AddUserFeedback("demo", "001", "x"); return err },
		"next":     func() error { _, err := m.SetNextSteps("demo", "001", "x"); return err },
		"complete": func() error { _, err := m.CompleteIteration("demo", "001"); return err },
	}
	for name, op := range ops {
		err := op()
		require.ErrorIs(t, err, ErrIterationNotFound, name)
		assert.EqualError(t, err, "No active iteration found for task '001'", name)
	}
}

func TestIterationSetters(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)
	_, err = m.StartTask("demo", "001")
	require.NoError(t, err)

	_, err = m.SetIterationSummary("demo", "001", "first summary")
	require.NoError(t, err)
	_, err = m.SetIterationSummary("demo", "001", "second summary")
	require.NoError(t, err)
	_, err = m.AddUserFeedback("demo", "001", "looks good")
	require.NoError(t, err)
	_, err = m.SetNextSteps("demo", "001", "ship it")
	require.NoError(t, err)

	it, err := m.GetIteration("demo", "001", 1)
	require.NoError(t, err)
	assert.Equal(t, "second summary", it.Summary)
	assert.Equal(t, "looks good", it.UserFeedback)
	assert.Equal(t, "ship it", it.NextSteps)

	it, err = m.CompleteIteration("demo", "001")
	require.NoError(t, err)
	assert.Equal(t, types.IterationCompleted, it.Status)
	assert.NotNil(t, it.Completed)

	_, err = m.GetIteration("demo", "001", 2)
	require.ErrorIs(t, err, ErrIterationNotFound)
	_, err = m.GetIteration("ghost", "001", 1)
	require.ErrorIs(t, err, ErrProjectNotFound)
}

func TestScenario_FullLifecycle(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateProject("demo", "")
	require.NoError(t, err)

	task, err := m.CreateTask("demo", "Write docs", "", "")
	require.NoError(t, err)
	assert.Equal(t, "001", task.ID)
	assert.Equal(t, types.TaskTodo, task.Status)

	it, err := m.StartTask("demo", "001")
	require.NoError(t, err)
	assert.Equal(t, 1, it.Iteration)

	task, err = m.GetTask("demo", "001")
	require.NoError(t, err)
	assert.Equal(t, types.TaskInProgress, task.Status)
	assert.NotNil(t, task.Started)

	_, err = m.AddIterationNote("demo", "001", "x")
	require.NoError(t, err)
	it, err = m.AddIterationNote("demo", "001", "y")
	require.NoError(t, err)
	assert.Equal(t, "x\ny", it.Notes)

	_, err = m.CompleteTask("demo", "001")
	require.NoError(t, err)

	task, err = m.GetTask("demo", "001")
	require.NoError(t, err)
	assert.Equal(t, types.TaskDone, task.Status)
	assert.NotNil(t, task.Completed)

	it, err = m.GetIteration("demo", "001", 1)
	require.NoError(t, err)
	assert.Equal(t, types.IterationCompleted, it.Status)
	assert.Equal(t, "x\ny", it.Notes)

	p, err := m.GetProject("demo")
	require.NoError(t, err)
	assert.Equal(t, 1, p.CompletedTasks)
}

func TestCompleteTask_Twice(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)
	_, err = m.StartTask("demo", "001")
	require.NoError(t, err)

	first, err := m.CompleteTask("demo", "001")
	require.NoError(t, err)
	second, err := m.CompleteTask("demo", "001")
	require.NoError(t, err)
	assert.Equal(t, *first.Completed, *second.Completed)

	p, err := m.GetProject("demo")
	require.NoError(t, err)
	assert.Equal(t, 1, p.CompletedTasks)
}

func TestCompleteTask_TodoIsLeftAlone(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)

	task, err := m.CompleteTask("demo", "001")
	require.NoError(t, err)
	assert.Equal(t, types.TaskTodo, task.Status)
	assert.Nil(t, task.Completed)

	p, err := m.GetProject("demo")
	require.NoError(t, err)
	assert.Equal(t, 0, p.CompletedTasks)
}

func TestRenamedProjectDir(t *testing.T) {
	m := newDemo(t)
	first, err := m.CreateTask("demo", "Work", "", "")
	require.NoError(t, err)
	require.NoError(t, os.Rename(filepath.Join(m.BaseDir(), "demo"), filepath.Join(m.BaseDir(), "renamed")))

	second, err := m.CreateTask("renamed", "Second", "", "")
	require.NoError(t, err)
	third, err := m.CreateTask("renamed", "Third", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002", "003"}, []string{first.ID, second.ID, third.ID})

	names, err := m.ListProjects()
	require.NoError(t, err)
	assert.Equal(t, []string{"renamed"}, names)

	ids, err := m.ListTasks("renamed")
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002", "003"}, ids)

	_, err = m.StartTask("renamed", "001")
	require.NoError(t, err)
	task, err := m.GetTask("renamed", "001")
	require.NoError(t, err)
	assert.Equal(t, types.TaskInProgress, task.Status)
	assert.Equal(t, "renamed", task.Project)
	assert.NoDirExists(t, filepath.Join(m.BaseDir(), "demo"))
}

func TestCompleteTask_AlreadyCompletedIterationUntouched(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)
	_, err = m.StartTask("demo", "001")
	require.NoError(t, err)
	done, err := m.CompleteIteration("demo", "001")
	require.NoError(t, err)

	_, err = m.CompleteTask("demo", "001")
	require.NoError(t, err)

	it, err := m.GetIteration("demo", "001", 1)
	require.NoError(t, err)
	assert.Equal(t, *done.Completed, *it.Completed)
}

func TestUpdateTask_KeepsFilename(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "Old title", "", "")
	require.NoError(t, err)

	title, desc, blank := "New title", "new desc", "   "
	task, err := m.UpdateTask("demo", "001", TaskUpdate{Title: &title, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "New title", task.Title)
	assert.Equal(t, "new desc", task.Description)

	task, err = m.UpdateTask("demo", "001", TaskUpdate{Title: &blank})
	require.NoError(t, err)
	assert.Equal(t, "New title", task.Title)

	name, err := m.Store().TaskFile("demo", "001")
	require.NoError(t, err)
	assert.Equal(t, "001-old-title.yaml", name)
}

func TestDeleteTask(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)
	_, err = m.StartTask("demo", "001")
	require.NoError(t, err)

	require.NoError(t, m.DeleteTask("demo", "001"))
	_, err = m.GetTask("demo", "001")
	require.ErrorIs(t, err, ErrTaskNotFound)
	iters, err := m.Store().ListIterations("demo", "001")
	require.NoError(t, err)
	assert.Empty(t, iters)

	assert.ErrorIs(t, m.DeleteTask("demo", "001"), ErrTaskNotFound)
	assert.ErrorIs(t, m.DeleteTask("ghost", "001"), ErrProjectNotFound)
}

func TestContinueTask_ReopensAndCountsAgain(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)
	_, err = m.StartTask("demo", "001")
	require.NoError(t, err)
	done, err := m.CompleteTask("demo", "001")
	require.NoError(t, err)

	it, err := m.ContinueTask("demo", "001", "found a regression")
	require.NoError(t, err)
	assert.Equal(t, 2, it.Iteration)
	assert.Equal(t, "Continuation reason: found a regression", it.Notes)

	task, err := m.GetTask("demo", "001")
	require.NoError(t, err)
	assert.Equal(t, types.TaskInProgress, task.Status)
	require.NotNil(t, task.Completed, "completed timestamp survives reopening")
	assert.Equal(t, *done.Completed, *task.Completed)

	// Completed is already set, so SetTaskStatus(DONE) is a plain assignment,
	// but CompleteTask goes through CompleteWork and counts a second time.
	_, err = m.CompleteTask("demo", "001")
	require.NoError(t, err)
	p, err := m.GetProject("demo")
	require.NoError(t, err)
	assert.Equal(t, 2, p.CompletedTasks)

	stats, err := m.ProjectStatus("demo")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CompletedTasks, "live count sees one DONE task")
}

func TestContinueTask_NoReason(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)

	it, err := m.ContinueTask("demo", "001", "")
	require.NoError(t, err)
	assert.Equal(t, 1, it.Iteration)
	assert.Empty(t, it.Notes)
}

func TestCloneTask(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateTask("demo", "Base", "shared description", "base notes")
	require.NoError(t, err)

	clone, err := m.CloneTask("demo", "001", "", "")
	require.NoError(t, err)
	assert.Equal(t, "002", clone.ID)
	assert.Equal(t, "Base (copy)", clone.Title)
	assert.Equal(t, "shared description", clone.Description)
	assert.Equal(t, "base notes", clone.Notes)

	named, err := m.CloneTask("demo", "001", "Variant", "other notes")
	require.NoError(t, err)
	assert.Equal(t, "Variant", named.Title)
	assert.Equal(t, "other notes", named.Notes)

	_, err = m.CloneTask("demo", "404", "", "")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestListIterations_RequiresTask(t *testing.T) {
	m := newDemo(t)
	_, err := m.ListIterations("demo", "001")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestProjectStatus(t *testing.T) {
	m := newDemo(t)
	for i := 0; i < 4; i++ {
		_, err := m.CreateTask("demo", "t", "", "")
		require.NoError(t, err)
	}
	_, err := m.StartTask("demo", "001")
	require.NoError(t, err)
	_, err = m.CompleteTask("demo", "001")
	require.NoError(t, err)

	stats, err := m.ProjectStatus("demo")
	require.NoError(t, err)
	assert.True(t, stats.Exists)
	assert.Equal(t, 4, stats.TotalTasks)
	assert.Equal(t, 1, stats.CompletedTasks)
	assert.Equal(t, 3, stats.PendingTasks)
	assert.InDelta(t, 25.0, stats.CompletionPercentage, 0.001)

	_, err = m.ProjectStatus("ghost")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestListProjectsAndCleanup(t *testing.T) {
	m := newDemo(t)
	_, err := m.CreateProject("alpha", "")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(m.BaseDir(), "leftover", "tasks"), 0755))

	names, err := m.ListProjects()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "demo"}, names)

	removed, err := m.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, []string{"leftover"}, removed)
	assert.NoDirExists(t, filepath.Join(m.BaseDir(), "leftover"))
}

func TestTimestampsUseClock(t *testing.T) {
	m := newDemo(t)
	task, err := m.CreateTask("demo", "t", "", "")
	require.NoError(t, err)

	created, err := task.Created.Time()
	require.NoError(t, err)
	assert.Equal(t, 2024, created.Year())
	assert.Equal(t, time.UTC, created.Location())
}
