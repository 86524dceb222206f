// Package types defines the taskflow entity model: projects, tasks, and the
// iterations recorded against a task, together with their status values.
//
// Nothing in this package performs I/O. Transition methods take the current
// time as an argument so callers control the clock.
package types

import (
	"fmt"
	"strings"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "TODO"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskDone       TaskStatus = "DONE"
	TaskArchived   TaskStatus = "ARCHIVED"
)

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
)

// IterationStatus is the state of a single work iteration.
type IterationStatus string

const (
	IterationInProgress IterationStatus = "in_progress"
	IterationCompleted  IterationStatus = "completed"
	IterationPaused     IterationStatus = "paused"
)

// TaskStatuses lists the legal task statuses in declaration order.
var TaskStatuses = []TaskStatus{TaskTodo, TaskInProgress, TaskDone, TaskArchived}

// ProjectStatuses lists the legal project statuses in declaration order.
var ProjectStatuses = []ProjectStatus{ProjectActive, ProjectCompleted, ProjectArchived}

// IterationStatuses lists the legal iteration statuses in declaration order.
var IterationStatuses = []IterationStatus{IterationInProgress, IterationCompleted, IterationPaused}

// InvalidStatusError is returned when a string is not a member of a status set.
// It carries the attempted value and the legal values so callers can report both.
type InvalidStatusError struct {
	Kind  string   // "task", "project" or "iteration"
	Value string   // the rejected input
	Valid []string // legal values, in declaration order
}

func (e *InvalidStatusError) Error() string {
	quoted := make([]string, len(e.Valid))
	for i, v := range e.Valid {
		quoted[i] = "'" + v + "'"
	}
	return fmt.Sprintf("Invalid status '%s'. Valid options: [%s]", e.Value, strings.Join(quoted, ", "))
}

// ParseTaskStatus converts s into a TaskStatus. Matching is exact.
func ParseTaskStatus(s string) (TaskStatus, error) {
	for _, st := range TaskStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", &InvalidStatusError{Kind: "task", Value: s, Valid: stringsOf(TaskStatuses)}
}

// ParseProjectStatus converts s into a ProjectStatus. Matching is exact.
func ParseProjectStatus(s string) (ProjectStatus, error) {
	for _, st := range ProjectStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", &InvalidStatusError{Kind: "project", Value: s, Valid: stringsOf(ProjectStatuses)}
}

// ParseIterationStatus converts s into an IterationStatus. Matching is exact.
func ParseIterationStatus(s string) (IterationStatus, error) {
	for _, st := range IterationStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", &InvalidStatusError{Kind: "iteration", Value: s, Valid: stringsOf(IterationStatuses)}
}

func stringsOf[S ~string](values []S) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// The text (un)marshalers make both encoding/json and yaml.v3 reject
// out-of-set values on decode instead of silently accepting them.

func (s TaskStatus) MarshalText() ([]byte, error) { return []byte(s), nil }

func (s *TaskStatus) UnmarshalText(b []byte) error {
	v, err := ParseTaskStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s ProjectStatus) MarshalText() ([]byte, error) { return []byte(s), nil }

func (s *ProjectStatus) UnmarshalText(b []byte) error {
	v, err := ParseProjectStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s IterationStatus) MarshalText() ([]byte, error) { return []byte(s), nil }

func (s *IterationStatus) UnmarshalText(b []byte) error {
	v, err := ParseIterationStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
