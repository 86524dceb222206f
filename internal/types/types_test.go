package types

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

var t0 = time.Date(2024, 3, 1, 9, 30, 15, 999, time.UTC)

func TestParseTaskStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    TaskStatus
		wantErr bool
	}{
		{"TODO", TaskTodo, false},
		{"IN_PROGRESS", TaskInProgress, false},
		{"DONE", TaskDone, false},
		{"ARCHIVED", TaskArchived, false},
		{"done", "", true},
		{"BOGUS", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTaskStatus(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTaskStatus(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTaskStatus(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestInvalidStatusError_ListsValidValues(t *testing.T) {
	_, err := ParseTaskStatus("BOGUS")

	var invalid *InvalidStatusError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *InvalidStatusError, got %T", err)
	}
	if invalid.Value != "BOGUS" {
		t.Errorf("Value = %q, want BOGUS", invalid.Value)
	}
	for _, v := range []string{"TODO", "IN_PROGRESS", "DONE", "ARCHIVED"} {
		if !strings.Contains(err.Error(), v) {
			t.Errorf("error %q does not mention %s", err.Error(), v)
		}
	}
}

func TestParseProjectAndIterationStatus(t *testing.T) {
	if _, err := ParseProjectStatus("archived"); err != nil {
		t.Errorf("archived: %v", err)
	}
	if _, err := ParseProjectStatus("ACTIVE"); err == nil {
		t.Error("expected error for ACTIVE")
	}
	if _, err := ParseIterationStatus("paused"); err != nil {
		t.Errorf("paused: %v", err)
	}
	if _, err := ParseIterationStatus("done"); err == nil {
		t.Error("expected error for done")
	}
}

func TestNewTimestamp(t *testing.T) {
	local := time.FixedZone("X", 2*3600)
	got := NewTimestamp(time.Date(2024, 3, 1, 11, 30, 15, 500, local))
	if got != "2024-03-01T09:30:15Z" {
		t.Errorf("NewTimestamp = %q", got)
	}
	parsed, err := got.Time()
	if err != nil {
		t.Fatalf("Time() failed: %v", err)
	}
	if !parsed.Equal(time.Date(2024, 3, 1, 9, 30, 15, 0, time.UTC)) {
		t.Errorf("Time() = %v", parsed)
	}
}

func TestProject_NextTaskIDString(t *testing.T) {
	p := NewProject("demo", "", t0)

	for i, want := range []string{"001", "002", "003"} {
		if got := p.NextTaskIDString(); got != want {
			t.Errorf("allocation %d = %q, want %q", i, got, want)
		}
	}
	if p.NextTaskID != 4 {
		t.Errorf("NextTaskID = %d, want 4", p.NextTaskID)
	}
	if p.TotalTasks != 3 {
		t.Errorf("TotalTasks = %d, want 3", p.TotalTasks)
	}
}

func TestProject_CompletionPercentage(t *testing.T) {
	p := NewProject("demo", "", t0)
	if p.CompletionPercentage() != 0 {
		t.Errorf("empty project = %v, want 0", p.CompletionPercentage())
	}
	p.TotalTasks = 4
	p.MarkTaskCompleted()
	if p.CompletionPercentage() != 25 {
		t.Errorf("got %v, want 25", p.CompletionPercentage())
	}
}

func TestTask_StartWork(t *testing.T) {
	task := NewTask("001", "Title", "demo", "", "", t0)

	if !task.StartWork(t0) {
		t.Fatal("StartWork on TODO should transition")
	}
	if task.Status != TaskInProgress {
		t.Errorf("Status = %s", task.Status)
	}
	if task.Started == nil || *task.Started != "2024-03-01T09:30:15Z" {
		t.Errorf("Started = %v", task.Started)
	}

	first := *task.Started
	if task.StartWork(t0.Add(time.Hour)) {
		t.Error("second StartWork should be a no-op")
	}
	if *task.Started != first {
		t.Errorf("Started changed to %s", *task.Started)
	}
}

func TestTask_CompleteWork(t *testing.T) {
	task := NewTask("001", "Title", "demo", "", "", t0)

	if task.CompleteWork(t0) {
		t.Fatal("CompleteWork on TODO should be a no-op")
	}
	if task.Status != TaskTodo || task.Completed != nil {
		t.Fatalf("TODO task mutated: %+v", task)
	}

	task.StartWork(t0)
	if !task.CompleteWork(t0) {
		t.Fatal("CompleteWork on IN_PROGRESS should transition")
	}
	if task.Status != TaskDone || task.Completed == nil {
		t.Errorf("got status %s completed %v", task.Status, task.Completed)
	}
}

func TestIteration_AddNote(t *testing.T) {
	it := NewIteration("001", 1, t0)
	it.AddNote("x")
	it.AddNote("y")
	if it.Notes != "x\ny" {
		t.Errorf("Notes = %q, want %q", it.Notes, "x\ny")
	}
}

func TestIteration_CompleteIsUnguarded(t *testing.T) {
	it := NewIteration("001", 1, t0)
	it.Status = IterationPaused
	it.Complete(t0)
	if it.Status != IterationCompleted || it.Completed == nil {
		t.Errorf("got %+v", it)
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Fix Login Bug":          "fix-login-bug",
		"  --Hello,   World!-- ": "hello-world",
		"v2.0 release":           "v2-0-release",
		"Café au lait":           "caf-au-lait",
		"!!!":                    "",
		"already-slugged":        "already-slugged",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRoundTrip_JSON(t *testing.T) {
	started := NewTimestamp(t0)
	entities := []any{
		NewProject("demo", "desc", t0),
		&Task{ID: "007", Title: "T", Status: TaskArchived, Created: NewTimestamp(t0), Started: &started, Project: "demo", CurrentIteration: 2, TotalIterations: 3},
		&Iteration{TaskID: "007", Iteration: 2, Started: started, Status: IterationPaused, Notes: "a\nb", NextSteps: "ship"},
	}

	for _, in := range entities {
		data, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("marshal %T: %v", in, err)
		}
		out := reflect.New(reflect.TypeOf(in).Elem()).Interface()
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("unmarshal %T: %v", in, err)
		}
		if !reflect.DeepEqual(in, out) {
			t.Errorf("%T round trip mismatch:\n in  %+v\n out %+v", in, in, out)
		}
	}
}

func TestRoundTrip_YAML(t *testing.T) {
	task := NewTask("001", "Write docs", "demo", "d", "n", t0)
	data, err := yaml.Marshal(task)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `id: "001"`) {
		t.Errorf("id should stay a quoted string:\n%s", data)
	}
	if !strings.Contains(string(data), "started: null") {
		t.Errorf("unset started should serialize as null:\n%s", data)
	}

	var out Task
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(*task, out) {
		t.Errorf("round trip mismatch:\n in  %+v\n out %+v", *task, out)
	}
}

func TestDecode_RejectsUnknownStatus(t *testing.T) {
	var task Task
	err := yaml.Unmarshal([]byte("id: \"001\"\nproject: demo\nstatus: BOGUS\n"), &task)
	if err == nil {
		t.Fatal("expected decode error for unknown status")
	}

	var p Project
	if err := json.Unmarshal([]byte(`{"name":"x","status":"frozen"}`), &p); err == nil {
		t.Fatal("expected decode error for unknown project status")
	}
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name string
		task Task
		ok   bool
	}{
		{"complete", Task{ID: "001", Project: "demo", Title: "t"}, true},
		{"no id", Task{Project: "demo", Title: "t"}, false},
		{"no project", Task{ID: "001", Title: "t"}, false},
		{"no title", Task{ID: "001", Project: "demo"}, false},
		{"blank title", Task{ID: "001", Project: "demo", Title: "  "}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	var p Project
	if err := json.Unmarshal([]byte(`{"name":"x"}`), &p); err != nil {
		t.Fatal(err)
	}
	p.ApplyDefaults()
	if p.Status != ProjectActive || p.NextTaskID != 1 {
		t.Errorf("defaults not applied: %+v", p)
	}

	var task Task
	task.ApplyDefaults()
	if task.Status != TaskTodo {
		t.Errorf("task default status = %s", task.Status)
	}

	var it Iteration
	it.ApplyDefaults()
	if it.Status != IterationInProgress {
		t.Errorf("iteration default status = %s", it.Status)
	}
}
