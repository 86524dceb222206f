package watch

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	base := filepath.FromSlash("/data/projects")
	tests := []struct {
		path string
		want Change
		ok   bool
	}{
		{"/data/projects/demo", Change{Project: "demo", Kind: KindProject}, true},
		{"/data/projects/demo/project.json", Change{Project: "demo", Kind: KindProject}, true},
		{"/data/projects/demo/tasks/001-fix-login.yaml", Change{Project: "demo", TaskID: "001", Kind: KindTask}, true},
		{"/data/projects/demo/tasks/001.iter003.yaml", Change{Project: "demo", TaskID: "001", Kind: KindIteration}, true},
		{"/data/projects/demo/tasks/001-fix.yaml.tmp.ab12", Change{}, false},
		{"/data/projects/demo/project.json.tmp.ab12", Change{}, false},
		{"/data/projects/demo/tasks", Change{}, false},
		{"/data/projects/demo/notes.md", Change{}, false},
		{"/data/projects/.taskflow-index.db", Change{}, false},
		{"/data/projects/.templates/chore.toml", Change{}, false},
		{"/data/projects", Change{}, false},
		{"/elsewhere/demo/project.json", Change{}, false},
	}
	for _, tt := range tests {
		got, ok := Classify(base, filepath.FromSlash(tt.path))
		if ok != tt.ok || got != tt.want {
			t.Errorf("Classify(%q) = (%+v, %v), want (%+v, %v)", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDue_Debounces(t *testing.T) {
	w := &Watcher{
		config:  &Config{Debounce: 100 * time.Millisecond},
		pending: make(map[Change]time.Time),
	}
	now := time.Now()
	w.pending[Change{Project: "b", Kind: KindProject}] = now.Add(-time.Second)
	w.pending[Change{Project: "a", TaskID: "002", Kind: KindTask}] = now.Add(-time.Second)
	w.pending[Change{Project: "a", TaskID: "001", Kind: KindIteration}] = now.Add(-time.Second)
	w.pending[Change{Project: "a", TaskID: "001", Kind: KindTask}] = now.Add(-time.Second)
	w.pending[Change{Project: "c", Kind: KindProject}] = now

	got := w.due(now)
	want := []Change{
		{Project: "a", TaskID: "001", Kind: KindTask},
		{Project: "a", TaskID: "001", Kind: KindIteration},
		{Project: "a", TaskID: "002", Kind: KindTask},
		{Project: "b", Kind: KindProject},
	}
	if len(got) != len(want) {
		t.Fatalf("due() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("due()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if len(w.pending) != 1 {
		t.Errorf("recent change should stay pending, have %d", len(w.pending))
	}
}

func TestNew_RequiresBaseDir(t *testing.T) {
	if _, err := New(&Config{}); err == nil {
		t.Error("expected error without base directory")
	}
}

func startWatcher(t *testing.T, base string) <-chan Change {
	t.Helper()
	w, err := New(&Config{
		BaseDir:  base,
		Debounce: 20 * time.Millisecond,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan Change, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, func(c Change) { changes <- c })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Wait until the initial tree is registered.
	deadline := time.Now().Add(2 * time.Second)
	for len(w.Watched()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return changes
}

func waitFor(t *testing.T, changes <-chan Change, want Change) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case c := <-changes:
			if c == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %+v", want)
		}
	}
}

func TestRun_ExistingProject(t *testing.T) {
	base := t.TempDir()
	tasks := filepath.Join(base, "demo", "tasks")
	if err := os.MkdirAll(tasks, 0755); err != nil {
		t.Fatal(err)
	}

	changes := startWatcher(t, base)

	if err := os.WriteFile(filepath.Join(tasks, "001-first.yaml"), []byte("id: \"001\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changes, Change{Project: "demo", TaskID: "001", Kind: KindTask})

	if err := os.WriteFile(filepath.Join(tasks, "001.iter001.yaml"), []byte("iteration_number: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changes, Change{Project: "demo", TaskID: "001", Kind: KindIteration})

	if err := os.WriteFile(filepath.Join(base, "demo", "project.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changes, Change{Project: "demo", Kind: KindProject})

	if err := os.Remove(filepath.Join(tasks, "001-first.yaml")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changes, Change{Project: "demo", TaskID: "001", Kind: KindTask})
}

func TestRun_NewProjectDirectory(t *testing.T) {
	base := t.TempDir()
	changes := startWatcher(t, base)

	if err := os.MkdirAll(filepath.Join(base, "later", "tasks"), 0755); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changes, Change{Project: "later", Kind: KindProject})

	// Give the watcher a moment to register the nested directories, then
	// write into them.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(base, "later", "tasks", "004-new.yaml"), []byte("id: \"004\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changes, Change{Project: "later", TaskID: "004", Kind: KindTask})
}
