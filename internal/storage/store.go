// Package storage maps taskflow entities to files under a base directory.
//
// Layout:
//
//	{base}/{project}/project.json          project metadata (JSON)
//	{base}/{project}/tasks/{id}-{slug}.yaml task
//	{base}/{project}/tasks/{id}.iterNNN.yaml iteration NNN of task {id}
//
// The slug is derived from the title when the task file is first written and
// is never updated afterwards. Tasks are always located by scanning for the
// "{id}-" prefix and checking the parsed id, never by rebuilding the name.
//
// Storage enforces no business rules. Malformed or unreadable files are
// reported as ErrNotFound and a warning is logged.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/taskflow/internal/types"
)

// ErrNotFound is returned when an entity has no readable file.
var ErrNotFound = errors.New("not found")

// Names of the fixed entries inside a project directory.
const (
	ProjectFileName = projectFile
	TasksDirName    = tasksDir
)

const (
	projectFile   = "project.json"
	tasksDir      = "tasks"
	yamlExt       = ".yaml"
	iterMarker    = ".iter"
	tmpFileMarker = ".tmp."
)

// Store reads and writes entity files under a base directory.
// It does no locking: concurrent writers to the same file get last-write-wins.
type Store struct {
	baseDir string
	logger  *log.Logger
}

// New creates the base directory if needed and returns a Store rooted there.
// A nil logger logs to stderr.
func New(baseDir string, logger *log.Logger) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[storage] ", log.LstdFlags)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory %s: %w", baseDir, err)
	}
	return &Store{baseDir: baseDir, logger: logger}, nil
}

// BaseDir returns the directory the store is rooted at.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// ProjectDir returns the directory of the named project.
func (s *Store) ProjectDir(project string) string {
	return filepath.Join(s.baseDir, project)
}

// TasksDir returns the directory holding the project's task and iteration files.
func (s *Store) TasksDir(project string) string {
	return filepath.Join(s.baseDir, project, tasksDir)
}

// IterationFilename returns the file name of iteration n of a task.
func IterationFilename(taskID string, n int) string {
	return fmt.Sprintf("%s%s%03d%s", taskID, iterMarker, n, yamlExt)
}

// TaskFilename returns the file name a new task file gets: {id}-{slug}.yaml.
func TaskFilename(task *types.Task) string {
	return task.ID + "-" + types.Slug(task.Title) + yamlExt
}

// ===== Projects =====

// CreateProjectDir creates {base}/{project}/tasks. Existing directories are left alone.
func (s *Store) CreateProjectDir(project string) (string, error) {
	dir := s.ProjectDir(project)
	if err := os.MkdirAll(filepath.Join(dir, tasksDir), 0755); err != nil {
		return "", fmt.Errorf("failed to create project directory %s: %w", dir, err)
	}
	return dir, nil
}

// SaveProject writes project.json with two-space indentation.
func (s *Store) SaveProject(p *types.Project) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid project: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project %s: %w", p.Name, err)
	}
	dir := s.ProjectDir(p.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create project directory %s: %w", dir, err)
	}
	return atomicWrite(filepath.Join(dir, projectFile), data)
}

// LoadProject reads project.json. A missing or malformed file is ErrNotFound.
// The directory is the project's key: Name is set to project whatever the
// document says, so a renamed or copied project directory keeps writing to
// itself.
func (s *Store) LoadProject(project string) (*types.Project, error) {
	path := filepath.Join(s.ProjectDir(project), projectFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Printf("Warning: cannot read %s: %v", path, err)
		}
		return nil, fmt.Errorf("project %s: %w", project, ErrNotFound)
	}

	var p types.Project
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Printf("Warning: skipping malformed project file %s: %v", path, err)
		return nil, fmt.Errorf("project %s: %w", project, ErrNotFound)
	}
	if err := p.Validate(); err != nil {
		s.logger.Printf("Warning: skipping invalid project file %s: %v", path, err)
		return nil, fmt.Errorf("project %s: %w", project, ErrNotFound)
	}
	p.ApplyDefaults()
	p.Name = project
	return &p, nil
}

// ProjectExists reports whether {base}/{project}/project.json is a regular file.
func (s *Store) ProjectExists(project string) bool {
	info, err := os.Stat(filepath.Join(s.ProjectDir(project), projectFile))
	return err == nil && info.Mode().IsRegular()
}

// ListProjects returns the sorted names of directories that contain project.json.
func (s *Store) ListProjects() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read base directory: %w", err)
	}

	projects := []string{}
	for _, entry := range entries {
		if entry.IsDir() && s.ProjectExists(entry.Name()) {
			projects = append(projects, entry.Name())
		}
	}
	sort.Strings(projects)
	return projects, nil
}

// ===== Tasks =====

// SaveTask writes a task file. If a file for the task's id already exists it
// is overwritten in place, whatever its slug says; otherwise a new
// {id}-{slug(title)}.yaml is created.
func (s *Store) SaveTask(task *types.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid task: %w", err)
	}
	data, err := marshalYAML(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}

	dir := s.TasksDir(task.Project)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create tasks directory: %w", err)
	}

	name := TaskFilename(task)
	if _, existing, err := s.findTask(task.Project, task.ID); err == nil {
		name = existing
	}
	return atomicWrite(filepath.Join(dir, name), data)
}

// LoadTask returns the first task file with the "{id}-" prefix whose parsed
// id equals id exactly. Unparseable candidates are skipped. Project is set
// to the directory the task was read from.
func (s *Store) LoadTask(project, id string) (*types.Task, error) {
	task, _, err := s.findTask(project, id)
	return task, err
}

// TaskFile returns the file name currently holding the task.
func (s *Store) TaskFile(project, id string) (string, error) {
	_, name, err := s.findTask(project, id)
	return name, err
}

func (s *Store) findTask(project, id string) (*types.Task, string, error) {
	for _, name := range s.taskCandidates(project, id) {
		path := filepath.Join(s.TasksDir(project), name)
		var task types.Task
		if err := readYAML(path, &task); err != nil {
			s.logger.Printf("Warning: skipping unreadable task file %s: %v", path, err)
			continue
		}
		if task.ID != id {
			continue
		}
		if err := task.Validate(); err != nil {
			s.logger.Printf("Warning: skipping invalid task file %s: %v", path, err)
			continue
		}
		task.ApplyDefaults()
		task.Project = project
		return &task, name, nil
	}
	return nil, "", fmt.Errorf("task %s in project %s: %w", id, project, ErrNotFound)
}

// taskCandidates lists {id}-*.yaml names in directory order.
func (s *Store) taskCandidates(project, id string) []string {
	entries, err := os.ReadDir(s.TasksDir(project))
	if err != nil {
		return nil
	}
	prefix := id + "-"
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, yamlExt) {
			continue
		}
		names = append(names, name)
	}
	return names
}

// ListTasks returns the sorted, de-duplicated ids of every *-*.yaml file in
// the project's tasks directory whose stem is not an iteration file. The id is
// the text before the first hyphen.
func (s *Store) ListTasks(project string) ([]string, error) {
	entries, err := os.ReadDir(s.TasksDir(project))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read tasks directory: %w", err)
	}

	seen := make(map[string]bool)
	ids := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, iter, ok := ParseFilename(entry.Name())
		if !ok || iter || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteTask removes every {id}-*.yaml and {id}.iter*.yaml file of a task.
// It returns ErrNotFound if there was no task file to remove.
func (s *Store) DeleteTask(project, id string) error {
	dir := s.TasksDir(project)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("task %s in project %s: %w", id, project, ErrNotFound)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, yamlExt) {
			continue
		}
		isTask := strings.HasPrefix(name, id+"-")
		isIter := strings.HasPrefix(name, id+iterMarker)
		if !isTask && !isIter {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
		if isTask {
			removed++
		}
	}
	if removed == 0 {
		return fmt.Errorf("task %s in project %s: %w", id, project, ErrNotFound)
	}
	return nil
}

// ===== Iterations =====

// SaveIteration writes {id}.iterNNN.yaml in the project's tasks directory.
func (s *Store) SaveIteration(it *types.Iteration, project string) error {
	if err := it.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid iteration: %w", err)
	}
	data, err := marshalYAML(it)
	if err != nil {
		return fmt.Errorf("failed to marshal iteration %s/%d: %w", it.TaskID, it.Iteration, err)
	}
	dir := s.TasksDir(project)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create tasks directory: %w", err)
	}
	return atomicWrite(filepath.Join(dir, IterationFilename(it.TaskID, it.Iteration)), data)
}

// LoadIteration reads iteration n of a task. A missing or malformed file is ErrNotFound.
func (s *Store) LoadIteration(project, taskID string, n int) (*types.Iteration, error) {
	path := filepath.Join(s.TasksDir(project), IterationFilename(taskID, n))
	var it types.Iteration
	if err := readYAML(path, &it); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Printf("Warning: skipping unreadable iteration file %s: %v", path, err)
		}
		return nil, fmt.Errorf("iteration %d of task %s: %w", n, taskID, ErrNotFound)
	}
	if err := it.Validate(); err != nil {
		s.logger.Printf("Warning: skipping invalid iteration file %s: %v", path, err)
		return nil, fmt.Errorf("iteration %d of task %s: %w", n, taskID, ErrNotFound)
	}
	it.ApplyDefaults()
	return &it, nil
}

// ListIterations returns the iteration numbers found for a task, ascending.
// Files whose numeric suffix does not parse are skipped.
func (s *Store) ListIterations(project, taskID string) ([]int, error) {
	entries, err := os.ReadDir(s.TasksDir(project))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []int{}, nil
		}
		return nil, fmt.Errorf("failed to read tasks directory: %w", err)
	}

	prefix := taskID + iterMarker
	numbers := []int{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, yamlExt) {
			continue
		}
		suffix := strings.TrimSuffix(strings.TrimPrefix(name, prefix), yamlExt)
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers, nil
}

// NextIterationNumber is one past the highest existing iteration number, or 1.
func (s *Store) NextIterationNumber(project, taskID string) (int, error) {
	numbers, err := s.ListIterations(project, taskID)
	if err != nil {
		return 0, err
	}
	if len(numbers) == 0 {
		return 1, nil
	}
	return numbers[len(numbers)-1] + 1, nil
}

// CurrentIteration loads the iteration with the highest number. It is
// recomputed from the directory listing on every call.
func (s *Store) CurrentIteration(project, taskID string) (*types.Iteration, error) {
	numbers, err := s.ListIterations(project, taskID)
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return nil, fmt.Errorf("no iterations for task %s: %w", taskID, ErrNotFound)
	}
	return s.LoadIteration(project, taskID, numbers[len(numbers)-1])
}

// ===== Utilities =====

// ProjectStats is computed from the live task files, unlike the counters
// stored in project.json.
type ProjectStats struct {
	Exists               bool    `json:"exists"`
	TotalTasks           int     `json:"total_tasks"`
	CompletedTasks       int     `json:"completed_tasks"`
	PendingTasks         int     `json:"pending_tasks"`
	CompletionPercentage float64 `json:"completion_percentage"`
}

// Stats counts the project's task files and how many of them are DONE.
func (s *Store) Stats(project string) (*ProjectStats, error) {
	if _, err := s.LoadProject(project); err != nil {
		return nil, err
	}
	ids, err := s.ListTasks(project)
	if err != nil {
		return nil, err
	}

	stats := &ProjectStats{Exists: true, TotalTasks: len(ids)}
	for _, id := range ids {
		task, err := s.LoadTask(project, id)
		if err == nil && task.Status == types.TaskDone {
			stats.CompletedTasks++
		}
	}
	stats.PendingTasks = stats.TotalTasks - stats.CompletedTasks
	if stats.TotalTasks > 0 {
		stats.CompletionPercentage = float64(stats.CompletedTasks) / float64(stats.TotalTasks) * 100
	}
	return stats, nil
}

// CleanupEmptyDirs removes every top-level directory under the base that
// contains no regular files at any depth, deepest first. Directories that
// cannot be removed are left in place. It returns the removed project names.
func (s *Store) CleanupEmptyDirs() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read base directory: %w", err)
	}

	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		root := filepath.Join(s.baseDir, entry.Name())
		dirs, hasFiles, err := walkDirs(root)
		if err != nil {
			s.logger.Printf("Warning: cannot inspect %s: %v", root, err)
			continue
		}
		if hasFiles {
			continue
		}

		ok := true
		for i := len(dirs) - 1; i >= 0; i-- {
			if err := os.Remove(dirs[i]); err != nil {
				s.logger.Printf("Warning: cannot remove %s: %v", dirs[i], err)
				ok = false
				break
			}
		}
		if ok {
			removed = append(removed, entry.Name())
		}
	}
	return removed, nil
}

// walkDirs returns root and its subdirectories in walk order (parents first)
// and whether any non-directory entry exists below root.
func walkDirs(root string) ([]string, bool, error) {
	var dirs []string
	hasFiles := false
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		hasFiles = true
		return filepath.SkipAll
	})
	return dirs, hasFiles, err
}

func marshalYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("empty document")
	}
	return yaml.Unmarshal(data, v)
}

// atomicWrite writes data to a sibling temp file and renames it over path.
func atomicWrite(path string, data []byte) error {
	tmp := path + tmpFileMarker + uuid.NewString()

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ParseFilename classifies a file name found in a tasks directory. It
// returns the task id and whether the file is an iteration file. ok is false
// for anything that is neither a task nor an iteration file.
func ParseFilename(name string) (id string, iteration bool, ok bool) {
	if IsTempFile(name) || !strings.HasSuffix(name, yamlExt) {
		return "", false, false
	}
	stem := strings.TrimSuffix(name, yamlExt)
	if before, n, found := strings.Cut(stem, iterMarker); found {
		if _, err := strconv.Atoi(n); err != nil || before == "" {
			return "", false, false
		}
		return before, true, true
	}
	id, _, found := strings.Cut(stem, "-")
	if !found || id == "" {
		return "", false, false
	}
	return id, false, true
}

// IsTempFile reports whether name is an in-flight write from atomicWrite.
func IsTempFile(name string) bool {
	return strings.Contains(name, tmpFileMarker)
}
