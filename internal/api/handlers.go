package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mschirtzinger/taskflow/internal/manager"
	"github.com/mschirtzinger/taskflow/internal/types"
)

// Error codes for failures that do not come from the manager.
const (
	codeBadRequest = "BAD_REQUEST"
	codeInternal   = "INTERNAL"
)

// respondError writes {"error": msg, "code": CODE}. Manager errors map to
// 404 or 400 by kind; anything else is a 500.
func (s *Server) respondError(c *gin.Context, err error) {
	var mErr *manager.Error
	if errors.As(err, &mErr) {
		c.JSON(mErr.Kind.HTTPStatus(), gin.H{"error": mErr.Message, "code": mErr.Code()})
		return
	}
	s.logger.Printf("Internal error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": codeInternal})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": codeBadRequest})
}

// bindJSON decodes the body into v, answering 400 on failure.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ===== Config =====

func (s *Server) handleGetBaseDir(c *gin.Context) {
	dir := s.managers.Current().BaseDir()
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	c.JSON(http.StatusOK, gin.H{"base_dir": dir})
}

func (s *Server) handleSetBaseDir(c *gin.Context) {
	var req struct {
		Path string `json:"path" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	dir, err := expandPath(req.Path)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if _, err := s.managers.SetBaseDir(dir); err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Printf("Base directory set to %s", dir)
	s.publisher.ProjectUpdated("*")
	c.JSON(http.StatusOK, gin.H{"base_dir": dir})
}

// expandPath resolves a leading ~ and makes the path absolute.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}

// ===== Projects =====

func (s *Server) handleListProjects(c *gin.Context) {
	names, err := s.managers.Current().ListProjects()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, names)
}

func (s *Server) handleCreateProject(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}
	if !bindJSON(c, &req) {
		return
	}
	project, err := s.managers.Current().CreateProject(req.Name, req.Description)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.publisher.ProjectUpdated(project.Name)
	c.JSON(http.StatusCreated, project)
}

func (s *Server) handleGetProject(c *gin.Context) {
	project, err := s.managers.Current().GetProject(c.Param("project"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *Server) handleSetProjectStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	project, err := s.managers.Current().SetProjectStatus(c.Param("project"), req.Status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.publisher.ProjectUpdated(project.Name)
	c.JSON(http.StatusOK, project)
}

func (s *Server) handleProjectStatus(c *gin.Context) {
	stats, err := s.managers.Current().ProjectStatus(c.Param("project"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ===== Tasks =====

// handleListTasks returns every readable task of the project, optionally
// filtered by ?status=.
func (s *Server) handleListTasks(c *gin.Context) {
	m := s.managers.Current()
	project := c.Param("project")

	var status types.TaskStatus
	if q := c.Query("status"); q != "" {
		parsed, err := types.ParseTaskStatus(q)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		status = parsed
	}

	ids, err := m.ListTasks(project)
	if err != nil {
		s.respondError(c, err)
		return
	}
	tasks := []*types.Task{}
	for _, id := range ids {
		task, err := m.GetTask(project, id)
		if err != nil {
			if errors.Is(err, manager.ErrTaskNotFound) {
				continue
			}
			s.respondError(c, err)
			return
		}
		if status != "" && task.Status != status {
			continue
		}
		tasks = append(tasks, task)
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req struct {
		Title       string `json:"title" binding:"required"`
		Description string `json:"description"`
		Notes       string `json:"notes"`
	}
	if !bindJSON(c, &req) {
		return
	}
	project := c.Param("project")
	task, err := s.managers.Current().CreateTask(project, req.Title, req.Description, req.Notes)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.publisher.TaskUpdated(project, task.ID)
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleGetTask(c *gin.Context) {
	details, err := s.managers.Current().GetTaskDetails(c.Param("project"), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// handleUpdateTask applies a status change first, then field edits. The
// response is the task details after both.
func (s *Server) handleUpdateTask(c *gin.Context) {
	var req struct {
		Status *string `json:"status"`
		manager.TaskUpdate
	}
	if !bindJSON(c, &req) {
		return
	}
	m := s.managers.Current()
	project, id := c.Param("project"), c.Param("id")

	if req.Status != nil {
		if _, err := m.SetTaskStatus(project, id, *req.Status); err != nil {
			s.respondError(c, err)
			return
		}
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		req.Title = &title
	}
	if req.Title != nil || req.Description != nil || req.Notes != nil {
		if _, err := m.UpdateTask(project, id, req.TaskUpdate); err != nil {
			s.respondError(c, err)
			return
		}
	}

	details, err := m.GetTaskDetails(project, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.publisher.TaskUpdated(project, id)
	c.JSON(http.StatusOK, details)
}

func (s *Server) handleCompleteTask(c *gin.Context) {
	project, id := c.Param("project"), c.Param("id")
	task, err := s.managers.Current().CompleteTask(project, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.publisher.TaskUpdated(project, id)
	c.JSON(http.StatusOK, task)
}

// ===== Iterations =====

func (s *Server) handleListIterations(c *gin.Context) {
	numbers, err := s.managers.Current().ListIterations(c.Param("project"), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, numbers)
}

func (s *Server) handleGetIteration(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil || n < 1 {
		badRequest(c, "Iteration number must be a positive integer")
		return
	}
	it, err := s.managers.Current().GetIteration(c.Param("project"), c.Param("id"), n)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (s *Server) handleStartIteration(c *gin.Context) {
	project, id := c.Param("project"), c.Param("id")
	it, err := s.managers.Current().StartTask(project, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.publisher.TaskUpdated(project, id)
	c.JSON(http.StatusOK, it)
}

func (s *Server) handleCompleteIteration(c *gin.Context) {
	project, id := c.Param("project"), c.Param("id")
	it, err := s.managers.Current().CompleteIteration(project, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.publisher.TaskUpdated(project, id)
	c.JSON(http.StatusOK, it)
}

type iterationSetter func(m *manager.Manager, project, id, text string) (*types.Iteration, error)

// iterationText writes one text field of the current iteration. The note
// must be non-empty; the other fields may be set to "".
func (s *Server) iterationText(c *gin.Context, key string, allowEmpty bool, set iterationSetter) {
	var req map[string]*string
	if !bindJSON(c, &req) {
		return
	}
	text := req[key]
	if text == nil || (!allowEmpty && *text == "") {
		badRequest(c, "Missing '"+key+"'")
		return
	}
	project, id := c.Param("project"), c.Param("id")
	it, err := set(s.managers.Current(), project, id, *text)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.publisher.TaskUpdated(project, id)
	c.JSON(http.StatusOK, it)
}

func (s *Server) handleAddNote(c *gin.Context) {
	s.iterationText(c, "note", false, (*manager.Manager).AddIterationNote)
}

func (s *Server) handleSetSummary(c *gin.Context) {
	s.iterationText(c, "summary", true, (*manager.Manager).SetIterationSummary)
}

func (s *Server) handleAddFeedback(c *gin.Context) {
	s.iterationText(c, "feedback", false, (*manager.Manager).AddUserFeedback)
}

func (s *Server) handleSetNextSteps(c *gin.Context) {
	s.iterationText(c, "next_steps", true, (*manager.Manager).SetNextSteps)
}
