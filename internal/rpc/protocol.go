package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mschirtzinger/taskflow/internal/manager"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeBusiness       = -32000
	CodeInternal       = -32001
)

// Notification methods sent to every connected client.
const (
	MethodTaskUpdated    = "mcp.taskUpdated"
	MethodProjectUpdated = "mcp.projectUpdated"
)

const version = "2.0"

// Request is an inbound JSON-RPC call.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers one Request. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a server-initiated message without an id.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Error is the error member of a Response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// TaskRef identifies a task in notifications.
type TaskRef struct {
	Project string `json:"project"`
	TaskID  string `json:"task_id"`
}

// ProjectRef identifies a project in notifications. Project is "*" when
// every project may have changed.
type ProjectRef struct {
	Project string `json:"project"`
}

func invalidParams(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// toError maps an error from a method to its wire form. Business errors
// keep their message; anything else is reported as an internal error with
// the detail in data.
func toError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var mErr *manager.Error
	if errors.As(err, &mErr) {
		return &Error{Code: CodeBusiness, Message: mErr.Message, Data: map[string]string{"code": mErr.Code()}}
	}
	return &Error{Code: CodeInternal, Message: "Internal error", Data: err.Error()}
}

// bind decodes params into v. Absent or null params leave v untouched.
func bind(params json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return invalidParams("Invalid params: %v", err)
	}
	return nil
}
