package manager

import (
	"fmt"
	"net/http"
)

// Kind classifies a business error.
type Kind int

const (
	// KindInvalid covers bad status values, duplicate project names and
	// other rule violations.
	KindInvalid Kind = iota
	KindProjectNotFound
	KindTaskNotFound
	KindIterationNotFound
)

// Code returns the stable string code transports put on the wire.
func (k Kind) Code() string {
	switch k {
	case KindProjectNotFound:
		return "PROJECT_NOT_FOUND"
	case KindTaskNotFound:
		return "TASK_NOT_FOUND"
	case KindIterationNotFound:
		return "ITERATION_NOT_FOUND"
	default:
		return "INVALID"
	}
}

// HTTPStatus maps the kind to a response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindProjectNotFound, KindTaskNotFound, KindIterationNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

// IsNotFound reports whether the kind is one of the lookup failures.
func (k Kind) IsNotFound() bool {
	return k != KindInvalid
}

// Error is the single error type returned for business failures. Use
// errors.As to catch all of them, or errors.Is against one of the sentinels
// below to catch a single kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Code is shorthand for e.Kind.Code().
func (e *Error) Code() string {
	return e.Kind.Code()
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalid           = &Error{Kind: KindInvalid, Message: "invalid request"}
	ErrProjectNotFound   = &Error{Kind: KindProjectNotFound, Message: "project not found"}
	ErrTaskNotFound      = &Error{Kind: KindTaskNotFound, Message: "task not found"}
	ErrIterationNotFound = &Error{Kind: KindIterationNotFound, Message: "iteration not found"}
)

func invalidf(format string, args ...any) *Error {
	return &Error{Kind: KindInvalid, Message: fmt.Sprintf(format, args...)}
}

func invalidErr(err error) *Error {
	return &Error{Kind: KindInvalid, Message: err.Error(), Cause: err}
}

func projectNotFound(name string) *Error {
	return &Error{Kind: KindProjectNotFound, Message: fmt.Sprintf("Project '%s' not found", name)}
}

func taskNotFound(project, id string) *Error {
	return &Error{Kind: KindTaskNotFound, Message: fmt.Sprintf("Task '%s' not found in project '%s'", id, project)}
}

func iterationNotFound(project, id string, n int) *Error {
	return &Error{
		Kind:    KindIterationNotFound,
		Message: fmt.Sprintf("Iteration %d not found for task '%s' in project '%s'", n, id, project),
	}
}

func noActiveIteration(id string) *Error {
	return &Error{Kind: KindIterationNotFound, Message: fmt.Sprintf("No active iteration found for task '%s'", id)}
}
