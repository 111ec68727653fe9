// Package artifacts places screenshots, reports and metrics for an execution on disk.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Writer manages artifacts for executions. Screenshots go under
// <screenshots>/<execution id>/, everything else under <reports>/<execution id>/.
type Writer struct {
	ReportsDir     string
	ScreenshotsDir string

	mu      sync.Mutex
	created map[string]bool
}

// NewWriter creates both root directories.
func NewWriter(reportsDir, screenshotsDir string) (*Writer, error) {
	if reportsDir == "" || screenshotsDir == "" {
		return nil, errors.New("artifact directories must be set")
	}
	for _, dir := range []string{reportsDir, screenshotsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating artifact directory %s: %w", dir, err)
		}
	}
	return &Writer{ReportsDir: reportsDir, ScreenshotsDir: screenshotsDir, created: make(map[string]bool)}, nil
}

// RunDir is the report directory of an execution.
func (w *Writer) RunDir(executionID string) string {
	return filepath.Join(w.ReportsDir, clean(executionID))
}

func (w *Writer) dir(root, executionID string) (string, error) {
	dir := filepath.Join(root, clean(executionID))
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.created[dir] {
		return dir, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	w.created[dir] = true
	return dir, nil
}

// clean keeps a caller-supplied name inside its directory.
func clean(name string) string {
	name = filepath.Base(filepath.Clean("/" + strings.TrimSpace(name)))
	if name == "/" || name == "." || name == "" {
		return "_"
	}
	return name
}

func (w *Writer) write(root, executionID, name string, data []byte) (string, error) {
	dir, err := w.dir(root, executionID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, clean(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// SaveScreenshot writes a PNG capture and returns its path.
func (w *Writer) SaveScreenshot(executionID, name string, png []byte) (string, error) {
	return w.write(w.ScreenshotsDir, executionID, name, png)
}

// WriteJSON writes an indented JSON document to the execution's report directory.
func (w *Writer) WriteJSON(executionID, name string, value any) (string, error) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", err
	}
	return w.write(w.ReportsDir, executionID, name, payload)
}

// WriteText writes a string to the execution's report directory.
func (w *Writer) WriteText(executionID, name, data string) (string, error) {
	return w.write(w.ReportsDir, executionID, name, []byte(data))
}

// WriteBytes writes bytes to the execution's report directory.
func (w *Writer) WriteBytes(executionID, name string, data []byte) (string, error) {
	return w.write(w.ReportsDir, executionID, name, data)
}
