// Package codegen renders compiled tests as source files for external test frameworks.
//
// Each target maps every action and assertion variant to a fixed snippet. Rendering never looks
// at the original step text except to copy it into comments, so a generated suite performs the
// same operations as a live run of the same CompiledTest.
package codegen

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/config"
	"github.com/xkilldash9x/testpilot/internal/dsl"
)

// File is one generated source file, relative to the output directory.
type File struct {
	Name    string
	Content []byte
}

// Options are the settings baked into generated files.
type Options struct {
	BaseURL        string
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	Python         string
}

// OptionsFromConfig collects generation options from configuration.
func OptionsFromConfig(cfg config.Interface) Options {
	cg := cfg.Codegen()
	br := cfg.Browser()
	baseURL := cg.BaseURL
	if baseURL == "" {
		baseURL = cfg.Engine().BaseURL
	}
	return Options{
		BaseURL:        baseURL,
		Headless:       br.Headless,
		ViewportWidth:  br.ViewportWidth,
		ViewportHeight: br.ViewportHeight,
		Python:         cg.Python,
	}
}

// Group is the set of tests rendered into one file.
type Group struct {
	Name  string
	Tests []*dsl.CompiledTest
}

// Command is one process the runner starts inside the output directory.
type Command struct {
	Name string
	Args []string
}

// Target renders tests for one framework and knows how to run and read back the result.
type Target interface {
	Name() string
	// Preamble returns the shared setup files, generated once per batch.
	Preamble(opts Options) ([]File, error)
	// Render returns the file holding all tests of one group.
	Render(group Group, opts Options) (File, error)
	// Commands lists the processes that run the generated suite. The last one runs the tests.
	Commands(opts Options) []Command
	// Summarize reads the outcome of the last command.
	Summarize(dir string, stdout []byte) (RunSummary, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Target{}
)

// ErrUnknownTarget is returned for a target name nothing registered.
var ErrUnknownTarget = errors.New("unknown code generation target")

// Register adds a target under its name, replacing any previous one.
func Register(t Target) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t.Name()] = t
}

// Lookup returns the registered target with the given name.
func Lookup(name string) (Target, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	t, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownTarget, name, namesLocked())
	}
	return t, nil
}

// Targets lists the registered target names, sorted.
func Targets() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(pytestTarget{})
	Register(chromedpTarget{})
}

// Generator renders batches for one target.
type Generator struct {
	target Target
	opts   Options
	logger *zap.Logger
}

// New creates a generator for the named target.
func New(target string, opts Options, logger *zap.Logger) (*Generator, error) {
	t, err := Lookup(target)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		target: t,
		opts:   opts,
		logger: logger.Named("codegen").With(zap.String("target", t.Name())),
	}, nil
}

// Target is the target the generator renders for.
func (g *Generator) Target() Target {
	return g.target
}

// Generate renders the preamble followed by one file per test type. Groups are ordered by name
// and tests keep their input order, so the same input always yields the same files.
func (g *Generator) Generate(tests []*dsl.CompiledTest) ([]File, error) {
	if len(tests) == 0 {
		return nil, errors.New("nothing to generate")
	}
	files, err := g.target.Preamble(g.opts)
	if err != nil {
		return nil, fmt.Errorf("rendering preamble: %w", err)
	}
	for _, group := range GroupTests(tests) {
		f, err := g.target.Render(group, g.opts)
		if err != nil {
			return nil, fmt.Errorf("rendering group %s: %w", group.Name, err)
		}
		files = append(files, f)
	}

	gaps := 0
	for _, ct := range tests {
		gaps += len(ct.Gaps())
	}
	g.logger.Info("Generated test sources.",
		zap.Int("tests", len(tests)), zap.Int("files", len(files)), zap.Int("placeholders", gaps))
	return files, nil
}

// GroupTests buckets tests by their normalized test type.
func GroupTests(tests []*dsl.CompiledTest) []Group {
	byName := make(map[string]*Group)
	for _, ct := range tests {
		name := ct.TestCase.GroupName()
		if name == "" {
			name = schemas.Slugify(schemas.DefaultTestType)
		}
		grp, ok := byName[name]
		if !ok {
			grp = &Group{Name: name}
			byName[name] = grp
		}
		grp.Tests = append(grp.Tests, ct)
	}
	groups := make([]Group, 0, len(byName))
	for _, grp := range byName {
		groups = append(groups, *grp)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

// Write stores files under dir. Files whose content is unchanged are left untouched.
func Write(dir string, files []File) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, filepath.Base(f.Name))
		if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, f.Content) {
			paths = append(paths, path)
			continue
		}
		if err := os.WriteFile(path, f.Content, 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
