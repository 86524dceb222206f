package rpc

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/mschirtzinger/taskflow/internal/manager"
	"github.com/mschirtzinger/taskflow/internal/types"
)

type handlerFunc func(m *manager.Manager, c *call) (any, error)

// call is the per-request state a method handler sees.
type call struct {
	params json.RawMessage
	notes  []Notification
}

func (c *call) bind(v any) error {
	return bind(c.params, v)
}

func (c *call) taskUpdated(project, taskID string) {
	c.notes = append(c.notes, Notification{
		JSONRPC: version,
		Method:  MethodTaskUpdated,
		Params:  TaskRef{Project: project, TaskID: taskID},
	})
}

func (c *call) projectUpdated(project string) {
	c.notes = append(c.notes, Notification{
		JSONRPC: version,
		Method:  MethodProjectUpdated,
		Params:  ProjectRef{Project: project},
	})
}

// Parameter shapes shared by several methods.
type projectParams struct {
	Project string `json:"project"`
}

type taskParams struct {
	Project string `json:"project"`
	TaskID  string `json:"task_id"`
}

func (p taskParams) check() error {
	if p.Project == "" || p.TaskID == "" {
		return invalidParams("Missing 'project' or 'task_id'")
	}
	return nil
}

type okResult struct {
	OK bool `json:"ok"`
}

func (s *Server) methodTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		"mcp.getProjects":       getProjects,
		"mcp.createProject":     createProject,
		"mcp.setBaseDir":        s.setBaseDir,
		"mcp.projectStatus":     projectStatus,
		"mcp.setProjectStatus":  setProjectStatus,
		"mcp.listTasks":         listTasks,
		"mcp.getTask":           getTask,
		"mcp.createTask":        createTask,
		"mcp.updateTask":        updateTask,
		"mcp.deleteTask":        deleteTask,
		"mcp.completeTask":      completeTask,
		"mcp.startIteration":    startIteration,
		"mcp.completeIteration": completeIteration,
		"mcp.addNote":           iterationText("note", (*manager.Manager).AddIterationNote),
		"mcp.setSummary":        iterationText("summary", (*manager.Manager).SetIterationSummary),
		"mcp.addFeedback":       iterationText("feedback", (*manager.Manager).AddUserFeedback),
		"mcp.setNextSteps":      iterationText("next_steps", (*manager.Manager).SetNextSteps),
	}
}

// ===== Projects =====

func getProjects(m *manager.Manager, c *call) (any, error) {
	return m.ListProjects()
}

func createProject(m *manager.Manager, c *call) (any, error) {
	var p struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.bind(&p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, invalidParams("Missing 'name'")
	}
	project, err := m.CreateProject(p.Name, p.Description)
	if err != nil {
		return nil, err
	}
	c.projectUpdated(project.Name)
	return project, nil
}

func (s *Server) setBaseDir(_ *manager.Manager, c *call) (any, error) {
	var p struct {
		Path string `json:"path"`
	}
	if err := c.bind(&p); err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, invalidParams("Missing 'path'")
	}
	if _, err := s.managers.SetBaseDir(p.Path); err != nil {
		return nil, err
	}
	s.logger.Printf("Base directory set to %s", p.Path)
	c.projectUpdated("*")
	return map[string]string{"base_dir": p.Path}, nil
}

func projectStatus(m *manager.Manager, c *call) (any, error) {
	var p projectParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}
	if p.Project == "" {
		return nil, invalidParams("Missing 'project'")
	}
	return m.ProjectStatus(p.Project)
}

func setProjectStatus(m *manager.Manager, c *call) (any, error) {
	var p struct {
		Project string `json:"project"`
		Status  string `json:"status"`
	}
	if err := c.bind(&p); err != nil {
		return nil, err
	}
	if p.Project == "" || p.Status == "" {
		return nil, invalidParams("Missing 'project' or 'status'")
	}
	project, err := m.SetProjectStatus(p.Project, p.Status)
	if err != nil {
		return nil, err
	}
	c.projectUpdated(project.Name)
	return project, nil
}

// ===== Tasks =====

func listTasks(m *manager.Manager, c *call) (any, error) {
	var p struct {
		Project string `json:"project"`
		Filters struct {
			Status string `json:"status"`
		} `json:"filters"`
	}
	if err := c.bind(&p); err != nil {
		return nil, err
	}
	if p.Project == "" {
		return nil, invalidParams("Missing 'project'")
	}
	ids, err := m.ListTasks(p.Project)
	if err != nil {
		return nil, err
	}
	tasks := []*types.Task{}
	for _, id := range ids {
		task, err := m.GetTask(p.Project, id)
		if err != nil {
			if errors.Is(err, manager.ErrTaskNotFound) {
				continue
			}
			return nil, err
		}
		if p.Filters.Status != "" && string(task.Status) != p.Filters.Status {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func getTask(m *manager.Manager, c *call) (any, error) {
	var p taskParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	return m.GetTaskDetails(p.Project, p.TaskID)
}

func createTask(m *manager.Manager, c *call) (any, error) {
	var p struct {
		Project     string `json:"project"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Notes       string `json:"notes"`
	}
	if err := c.bind(&p); err != nil {
		return nil, err
	}
	if p.Project == "" || p.Title == "" {
		return nil, invalidParams("Missing 'project' or 'title'")
	}
	task, err := m.CreateTask(p.Project, p.Title, p.Description, p.Notes)
	if err != nil {
		return nil, err
	}
	c.taskUpdated(p.Project, task.ID)
	return task, nil
}

// updateTask applies a status change first, then field edits, and returns
// the task details.
func updateTask(m *manager.Manager, c *call) (any, error) {
	var p struct {
		taskParams
		Fields struct {
			Status *string `json:"status"`
			manager.TaskUpdate
		} `json:"fields"`
	}
	if err := c.bind(&p); err != nil {
		return nil, err
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	if p.Fields.Status != nil {
		if _, err := m.SetTaskStatus(p.Project, p.TaskID, *p.Fields.Status); err != nil {
			return nil, err
		}
	}
	upd := p.Fields.TaskUpdate
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		upd.Title = &title
	}
	if upd.Title != nil || upd.Description != nil || upd.Notes != nil {
		if _, err := m.UpdateTask(p.Project, p.TaskID, upd); err != nil {
			return nil, err
		}
	}
	details, err := m.GetTaskDetails(p.Project, p.TaskID)
	if err != nil {
		return nil, err
	}
	c.taskUpdated(p.Project, p.TaskID)
	return details, nil
}

func deleteTask(m *manager.Manager, c *call) (any, error) {
	var p taskParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	if err := m.DeleteTask(p.Project, p.TaskID); err != nil {
		return nil, err
	}
	c.taskUpdated(p.Project, p.TaskID)
	return okResult{OK: true}, nil
}

func completeTask(m *manager.Manager, c *call) (any, error) {
	var p taskParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	task, err := m.CompleteTask(p.Project, p.TaskID)
	if err != nil {
		return nil, err
	}
	c.taskUpdated(p.Project, p.TaskID)
	return task, nil
}

// ===== Iterations =====

func startIteration(m *manager.Manager, c *call) (any, error) {
	var p taskParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	it, err := m.StartTask(p.Project, p.TaskID)
	if err != nil {
		return nil, err
	}
	c.taskUpdated(p.Project, p.TaskID)
	return it, nil
}

func completeIteration(m *manager.Manager, c *call) (any, error) {
	var p taskParams
	if err := c.bind(&p); err != nil {
		return nil, err
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	if _, err := m.CompleteIteration(p.Project, p.TaskID); err != nil {
		return nil, err
	}
	c.taskUpdated(p.Project, p.TaskID)
	return okResult{OK: true}, nil
}

// iterationText builds a handler for the methods that write one text field
// of the current iteration. key names the required parameter.
func iterationText(key string, apply func(*manager.Manager, string, string, string) (*types.Iteration, error)) handlerFunc {
	return func(m *manager.Manager, c *call) (any, error) {
		var p taskParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		var fields map[string]json.RawMessage
		if err := c.bind(&fields); err != nil {
			return nil, err
		}
		var text string
		if raw, found := fields[key]; found {
			if err := json.Unmarshal(raw, &text); err != nil {
				return nil, invalidParams("'%s' must be a string", key)
			}
		}
		if p.Project == "" || p.TaskID == "" || text == "" {
			return nil, invalidParams("Missing 'project', 'task_id' or '%s'", key)
		}
		if _, err := apply(m, p.Project, p.TaskID, text); err != nil {
			return nil, err
		}
		c.taskUpdated(p.Project, p.TaskID)
		return okResult{OK: true}, nil
	}
}
