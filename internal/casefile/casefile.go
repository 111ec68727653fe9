// Package casefile loads test cases from YAML or JSON files, for running without a database.
//
// A file holds either a bare list of cases or a document with a top-level "cases" key:
//
//	cases:
//	  - id: 1
//	    title: Login works
//	    type: Smoke
//	    steps:
//	      - Go to /login
//	      - Fill username with "alice"
//	    assertions:
//	      - Title should contain "Dashboard"
package casefile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/testpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoCases is returned when a source yields no test cases at all.
var ErrNoCases = errors.New("no test cases found")

type document struct {
	Cases []schemas.TestCase `json:"cases" yaml:"cases"`
}

// Load reads cases from a file or from every .yaml, .yml and .json file in a directory,
// ordered by file name. Case ids must be unique across the whole set.
func Load(path string) ([]schemas.TestCase, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding case path: %w", err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		return nil, fmt.Errorf("reading case path: %w", err)
	}

	files := []string{expanded}
	if info.IsDir() {
		if files, err = caseFiles(expanded); err != nil {
			return nil, err
		}
	}

	var cases []schemas.TestCase
	seen := make(map[int64]string)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		parsed, err := Parse(data, filepath.Ext(f))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", f, err)
		}
		for _, tc := range parsed {
			if prev, dup := seen[tc.ID]; dup {
				return nil, fmt.Errorf("duplicate test case id %d in %s (first defined in %s)", tc.ID, f, prev)
			}
			seen[tc.ID] = f
			cases = append(cases, tc)
		}
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoCases, path)
	}
	return cases, nil
}

func caseFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Parse decodes cases from data. ext selects the format: ".json" is JSON, anything else is
// YAML. Cases without an id are numbered after the highest id in the file.
func Parse(data []byte, ext string) ([]schemas.TestCase, error) {
	var (
		cases []schemas.TestCase
		err   error
	)
	if strings.EqualFold(ext, ".json") {
		cases, err = parseJSON(data)
	} else {
		cases, err = parseYAML(data)
	}
	if err != nil {
		return nil, err
	}

	var maxID int64
	for _, tc := range cases {
		maxID = max(maxID, tc.ID)
	}
	for i := range cases {
		if cases[i].ID == 0 {
			maxID++
			cases[i].ID = maxID
		}
		if strings.TrimSpace(cases[i].Title) == "" {
			return nil, fmt.Errorf("test case %d has no title", cases[i].ID)
		}
		if cases[i].Status == "" {
			cases[i].Status = schemas.CaseReady
		}
	}
	return cases, nil
}

func parseJSON(data []byte) ([]schemas.TestCase, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var cases []schemas.TestCase
		if err := json.Unmarshal(trimmed, &cases); err != nil {
			return nil, err
		}
		return cases, nil
	}
	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	return doc.Cases, nil
}

func parseYAML(data []byte) ([]schemas.TestCase, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	if root.Kind == yaml.SequenceNode {
		var cases []schemas.TestCase
		if err := root.Decode(&cases); err != nil {
			return nil, err
		}
		return cases, nil
	}
	var doc document
	if err := root.Decode(&doc); err != nil {
		return nil, err
	}
	return doc.Cases, nil
}

// Select keeps the cases whose ids are listed, in the order given. With no ids it keeps every
// Ready case. Unknown ids are an error.
func Select(cases []schemas.TestCase, ids []int64) ([]schemas.TestCase, error) {
	if len(ids) == 0 {
		var ready []schemas.TestCase
		for _, tc := range cases {
			if tc.Status == schemas.CaseReady {
				ready = append(ready, tc)
			}
		}
		return ready, nil
	}
	byID := make(map[int64]schemas.TestCase, len(cases))
	for _, tc := range cases {
		byID[tc.ID] = tc
	}
	out := make([]schemas.TestCase, 0, len(ids))
	var missing []string
	for _, id := range ids {
		tc, ok := byID[id]
		if !ok {
			missing = append(missing, fmt.Sprint(id))
			continue
		}
		out = append(out, tc)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unknown test case ids: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Source serves cases loaded once from disk.
type Source struct {
	path  string
	cases []schemas.TestCase
}

// NewSource loads path eagerly so a malformed file is reported before anything starts.
func NewSource(path string) (*Source, error) {
	cases, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Source{path: path, cases: cases}, nil
}

// GetTestCases returns the cases with the given ids, or every Ready case when ids is empty.
func (s *Source) GetTestCases(ctx context.Context, ids []int64) ([]schemas.TestCase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	selected, err := Select(s.cases, ids)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return selected, nil
}

// All returns every loaded case regardless of status.
func (s *Source) All() []schemas.TestCase {
	return s.cases
}
