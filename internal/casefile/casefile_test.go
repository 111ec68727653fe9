package casefile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/testpilot/api/schemas"
)

const yamlDoc = `
cases:
  - id: 3
    title: Login works
    type: Smoke
    priority: High
    tags: [auth]
    steps:
      - Go to /login
      - Fill username with "alice"
    assertions:
      - Title should contain "Dashboard"
  - title: Draft search
    status: Draft
    steps: [Open shop.test]
`

const yamlList = `
- id: 10
  title: Cart
  steps: [Click "Add to cart"]
`

const jsonDoc = `[{"id": 20, "title": "Checkout", "type": "Regression", "steps": ["Click #buy"], "assertions": []}]`

func TestParse_YAMLDocument(t *testing.T) {
	cases, err := Parse([]byte(yamlDoc), ".yaml")
	require.NoError(t, err)
	require.Len(t, cases, 2)

	assert.Equal(t, int64(3), cases[0].ID)
	assert.Equal(t, "Smoke", cases[0].Type)
	assert.Equal(t, "High", cases[0].Priority)
	assert.Equal(t, []string{"auth"}, cases[0].Tags)
	assert.Equal(t, []string{"Go to /login", `Fill username with "alice"`}, cases[0].Steps)
	assert.Equal(t, schemas.CaseReady, cases[0].Status, "status defaults to Ready")

	assert.Equal(t, int64(4), cases[1].ID, "missing ids continue after the highest one")
	assert.Equal(t, schemas.CaseDraft, cases[1].Status)
}

func TestParse_YAMLList(t *testing.T) {
	cases, err := Parse([]byte(yamlList), ".yml")
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "Cart", cases[0].Title)
}

func TestParse_JSON(t *testing.T) {
	cases, err := Parse([]byte(jsonDoc), ".json")
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "regression", cases[0].GroupName())

	wrapped, err := Parse([]byte(`{"cases": `+jsonDoc+`}`), ".JSON")
	require.NoError(t, err)
	assert.Equal(t, cases, wrapped)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("- id: 1\n"), ".yaml")
	assert.ErrorContains(t, err, "has no title")

	_, err = Parse([]byte("cases: [\n"), ".yaml")
	assert.Error(t, err)

	_, err = Parse([]byte("{"), ".json")
	assert.Error(t, err)
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(yamlList), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(jsonDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	cases, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, int64(20), cases[0].ID, "files load in name order")
	assert.Equal(t, int64(10), cases[1].ID)
}

func TestLoad_DuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(yamlList), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(yamlList), 0o644))

	_, err := Load(dir)
	assert.ErrorContains(t, err, "duplicate test case id 10")
}

func TestLoad_Empty(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrNoCases)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	cases, err := Parse([]byte(yamlDoc), ".yaml")
	require.NoError(t, err)

	ready, err := Select(cases, nil)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, int64(3), ready[0].ID)

	picked, err := Select(cases, []int64{4, 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3}, []int64{picked[0].ID, picked[1].ID})

	_, err = Select(cases, []int64{3, 99, 100})
	assert.ErrorContains(t, err, "unknown test case ids: 99, 100")
}

func TestSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	src, err := NewSource(path)
	require.NoError(t, err)
	assert.Len(t, src.All(), 2)

	ready, err := src.GetTestCases(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "Login works", ready[0].Title)

	_, err = src.GetTestCases(context.Background(), []int64{42})
	assert.ErrorContains(t, err, "cases.yaml: unknown test case ids: 42")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.GetTestCases(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewSource(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
