// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Compiler() config.CompilerConfig {
	args := m.Called()
	return args.Get(0).(config.CompilerConfig)
}

func (m *MockConfig) Codegen() config.CodegenConfig {
	args := m.Called()
	return args.Get(0).(config.CodegenConfig)
}

func (m *MockConfig) Artifacts() config.ArtifactsConfig {
	args := m.Called()
	return args.Get(0).(config.ArtifactsConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

// --- Setters ---

func (m *MockConfig) SetEngineParallelism(n int)   { m.Called(n) }
func (m *MockConfig) SetBrowserPoolSize(n int)     { m.Called(n) }
func (m *MockConfig) SetBrowserHeadless(b bool)    { m.Called(b) }
func (m *MockConfig) SetCodegenTarget(t string)    { m.Called(t) }
func (m *MockConfig) SetCodegenOutputDir(d string) { m.Called(d) }
func (m *MockConfig) SetCodegenRun(b bool)         { m.Called(b) }

var _ config.Interface = (*MockConfig)(nil)

// -- Page Mock --

// MockPage mocks the live page the interpreter drives.
type MockPage struct {
	mock.Mock
	closed atomic.Bool
}

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockPage) Click(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

func (m *MockPage) ClickText(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *MockPage) Fill(ctx context.Context, field, value string) error {
	return m.Called(ctx, field, value).Error(0)
}

func (m *MockPage) Select(ctx context.Context, field, option string) error {
	return m.Called(ctx, field, option).Error(0)
}

func (m *MockPage) ElementExists(ctx context.Context, selector string) (bool, error) {
	args := m.Called(ctx, selector)
	return args.Bool(0), args.Error(1)
}

func (m *MockPage) ElementVisible(ctx context.Context, selector string) (bool, error) {
	args := m.Called(ctx, selector)
	return args.Bool(0), args.Error(1)
}

func (m *MockPage) TextContent(ctx context.Context, selector string) (string, error) {
	args := m.Called(ctx, selector)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Title(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) URL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	var b []byte
	if v := args.Get(0); v != nil {
		b = v.([]byte)
	}
	return b, args.Error(1)
}

func (m *MockPage) PerformanceMetrics(ctx context.Context) (*schemas.PerformanceMetrics, error) {
	args := m.Called(ctx)
	var pm *schemas.PerformanceMetrics
	if v := args.Get(0); v != nil {
		pm = v.(*schemas.PerformanceMetrics)
	}
	return pm, args.Error(1)
}

// Close records that the page was released. It is not an expectation; call sites differ in
// whether they close.
func (m *MockPage) Close(ctx context.Context) error {
	m.closed.Store(true)
	return nil
}

// IsClosed reports whether Close was called.
func (m *MockPage) IsClosed() bool {
	return m.closed.Load()
}

// -- Screenshot Saver Mock --

// MockScreenshotSaver mocks interpreter.ScreenshotSaver.
type MockScreenshotSaver struct {
	mock.Mock
}

func (m *MockScreenshotSaver) SaveScreenshot(executionID, name string, png []byte) (string, error) {
	args := m.Called(executionID, name, png)
	return args.String(0), args.Error(1)
}
