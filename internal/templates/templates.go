// Package templates provides task templates with {name} placeholders.
//
// Four templates are built in. Users can add or override templates by
// dropping <name>.toml files (keys: title, description, notes) into the
// templates directory.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed builtin/*.toml
var builtinFS embed.FS

// ErrUnknown is returned for a template name that is not defined.
var ErrUnknown = errors.New("unknown template")

const ext = ".toml"

// Template is the text a new task is created from.
type Template struct {
	Name        string `toml:"-"`
	Title       string `toml:"title"`
	Description string `toml:"description"`
	Notes       string `toml:"notes"`
	Source      string `toml:"-"` // "builtin" or the file it was loaded from
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Placeholders returns the distinct {name} variables the template uses, in
// order of first appearance.
func (t *Template) Placeholders() []string {
	seen := make(map[string]bool)
	var names []string
	for _, field := range []string{t.Title, t.Description, t.Notes} {
		for _, m := range placeholderRe.FindAllStringSubmatch(field, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				names = append(names, m[1])
			}
		}
	}
	return names
}

// Apply returns a copy with every {name} for which vars has a value
// replaced. Placeholders without a value are left as they are.
func (t *Template) Apply(vars map[string]string) *Template {
	out := *t
	for name, value := range vars {
		placeholder := "{" + name + "}"
		out.Title = strings.ReplaceAll(out.Title, placeholder, value)
		out.Description = strings.ReplaceAll(out.Description, placeholder, value)
		out.Notes = strings.ReplaceAll(out.Notes, placeholder, value)
	}
	return &out
}

// Set is the collection of available templates.
type Set struct {
	dir       string
	logger    *log.Logger
	templates map[string]*Template
}

// Load reads the built-in templates and then every *.toml file in dir.
// A missing dir is not an error. Files that fail to parse are skipped with
// a warning.
func Load(dir string, logger *log.Logger) (*Set, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[templates] ", log.LstdFlags)
	}
	s := &Set{dir: dir, logger: logger, templates: make(map[string]*Template)}

	entries, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		return nil, fmt.Errorf("failed to read built-in templates: %w", err)
	}
	for _, entry := range entries {
		data, err := fs.ReadFile(builtinFS, "builtin/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read built-in template %s: %w", entry.Name(), err)
		}
		var t Template
		if _, err := toml.Decode(string(data), &t); err != nil {
			return nil, fmt.Errorf("failed to parse built-in template %s: %w", entry.Name(), err)
		}
		t.Name = strings.TrimSuffix(entry.Name(), ext)
		t.Source = "builtin"
		s.templates[t.Name] = &t
	}

	if dir == "" {
		return s, nil
	}
	userEntries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read templates directory: %w", err)
	}
	for _, entry := range userEntries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		var t Template
		if _, err := toml.DecodeFile(path, &t); err != nil {
			logger.Printf("Warning: skipping invalid template %s: %v", path, err)
			continue
		}
		t.Name = strings.TrimSuffix(entry.Name(), ext)
		t.Source = path
		s.templates[t.Name] = &t
	}
	return s, nil
}

// Names returns the sorted template names.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named template.
func (s *Set) Get(name string) (*Template, error) {
	t, ok := s.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w '%s' (available: %s)", ErrUnknown, name, strings.Join(s.Names(), ", "))
	}
	return t, nil
}

// Apply fills the named template with vars.
func (s *Set) Apply(name string, vars map[string]string) (*Template, error) {
	t, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	return t.Apply(vars), nil
}

// Save writes t as <dir>/<name>.toml, creating dir on demand, and adds it
// to the set.
func (s *Set) Save(name string, t Template) error {
	if s.dir == "" {
		return fmt.Errorf("no templates directory configured")
	}
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid template name %q", name)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create templates directory: %w", err)
	}

	path := filepath.Join(s.dir, name+ext)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create template %s: %w", path, err)
	}
	if err := toml.NewEncoder(f).Encode(t); err != nil {
		f.Close()
		return fmt.Errorf("failed to write template %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write template %s: %w", path, err)
	}

	t.Name = name
	t.Source = path
	s.templates[name] = &t
	return nil
}

// ParseVars turns key=value pairs into a map. The value may contain '='.
func ParseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q: expected key=value", pair)
		}
		vars[key] = value
	}
	return vars, nil
}
