// Package interpreter executes compiled tests against a live page, one step at a time, and
// records the outcome into a TestResult.
package interpreter

import (
	"context"

	"github.com/xkilldash9x/testpilot/api/schemas"
)

// Page is the browser surface the interpreter drives. Element lookups wait until ctx's deadline;
// ElementExists and ElementVisible report a match that never showed up as (false, nil).
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	ClickText(ctx context.Context, text string) error
	Fill(ctx context.Context, field, value string) error
	Select(ctx context.Context, field, option string) error

	ElementExists(ctx context.Context, selector string) (bool, error)
	ElementVisible(ctx context.Context, selector string) (bool, error)
	TextContent(ctx context.Context, selector string) (string, error)
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)

	Screenshot(ctx context.Context) ([]byte, error)
	PerformanceMetrics(ctx context.Context) (*schemas.PerformanceMetrics, error)
}

// ScreenshotSaver persists a capture and returns the path recorded on the result.
type ScreenshotSaver interface {
	SaveScreenshot(executionID, name string, png []byte) (string, error)
}
