// internal/browser/harvester.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/testpilot/api/schemas"
)

// LogSink receives each record as soon as the browser reports it.
type LogSink func(schemas.LogEntry)

// Log sources attached to harvested entries.
const (
	SourceConsole   = "console"
	SourceBrowser   = "browser"
	SourceNetwork   = "network"
	SourceException = "exception"
)

// Harvester listens to CDP events on one session and turns console output, browser log entries,
// network traffic and uncaught exceptions into LogEntry records.
type Harvester struct {
	logger *zap.Logger
	sink   LogSink

	sessionCtx     context.Context
	listenerCtx    context.Context
	cancelListener context.CancelFunc

	mu        sync.Mutex
	inflight  map[network.RequestID]string
	isStarted bool
}

// NewHarvester creates a harvester for the tab behind sessionCtx. A nil sink discards entries.
func NewHarvester(sessionCtx context.Context, logger *zap.Logger, sink LogSink) *Harvester {
	if sink == nil {
		sink = func(schemas.LogEntry) {}
	}
	return &Harvester{
		logger:     logger.Named("harvester"),
		sink:       sink,
		sessionCtx: sessionCtx,
		inflight:   make(map[network.RequestID]string),
	}
}

// Start enables the network, runtime and log domains and begins forwarding events.
func (h *Harvester) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.isStarted {
		return nil
	}

	h.listenerCtx, h.cancelListener = context.WithCancel(h.sessionCtx)
	chromedp.ListenTarget(h.listenerCtx, h.handle)

	if err := chromedp.Run(h.sessionCtx, network.Enable(), runtime.Enable(), log.Enable()); err != nil {
		h.cancelListener()
		return fmt.Errorf("enabling event domains: %w", err)
	}
	h.isStarted = true
	h.logger.Debug("Harvester started.")
	return nil
}

// Stop detaches the listener. Entries already delivered stay with the sink.
func (h *Harvester) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.isStarted {
		return
	}
	h.cancelListener()
	h.isStarted = false
}

// Inflight is the number of requests sent without a response or failure yet.
func (h *Harvester) Inflight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inflight)
}

func (h *Harvester) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		h.onRequest(e)
	case *network.EventResponseReceived:
		h.onResponse(e)
	case *network.EventLoadingFailed:
		h.onLoadingFailed(e)
	case *network.EventLoadingFinished:
		h.done(e.RequestID)
	case *runtime.EventConsoleAPICalled:
		h.onConsole(e)
	case *log.EventEntryAdded:
		h.onLogEntry(e)
	case *runtime.EventExceptionThrown:
		h.onException(e)
	}
}

func (h *Harvester) onRequest(e *network.EventRequestWillBeSent) {
	if e.Request == nil {
		return
	}
	h.mu.Lock()
	h.inflight[e.RequestID] = e.Request.URL
	h.mu.Unlock()

	h.sink(schemas.LogEntry{
		Timestamp: wallTime(e.WallTime),
		Level:     "info",
		Source:    SourceNetwork,
		Message:   fmt.Sprintf("request %s %s", e.Request.Method, e.Request.URL),
	})
}

func (h *Harvester) onResponse(e *network.EventResponseReceived) {
	if e.Response == nil {
		return
	}
	level := "info"
	if e.Response.Status >= 400 {
		level = "warning"
	}
	h.sink(schemas.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Source:    SourceNetwork,
		Message:   fmt.Sprintf("response %d %s", e.Response.Status, e.Response.URL),
	})
}

func (h *Harvester) onLoadingFailed(e *network.EventLoadingFailed) {
	h.mu.Lock()
	url := h.inflight[e.RequestID]
	h.mu.Unlock()
	h.done(e.RequestID)

	if e.Canceled {
		return
	}
	h.sink(schemas.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     "error",
		Source:    SourceNetwork,
		Message:   fmt.Sprintf("request failed %s: %s", url, e.ErrorText),
	})
}

func (h *Harvester) done(id network.RequestID) {
	h.mu.Lock()
	delete(h.inflight, id)
	h.mu.Unlock()
}

func (h *Harvester) onConsole(e *runtime.EventConsoleAPICalled) {
	parts := make([]string, 0, len(e.Args))
	for _, arg := range e.Args {
		parts = append(parts, remoteObjectText(arg))
	}
	h.sink(schemas.LogEntry{
		Timestamp: runtimeTime(e.Timestamp),
		Level:     consoleLevel(string(e.Type)),
		Source:    SourceConsole,
		Message:   strings.Join(parts, " "),
	})
}

func (h *Harvester) onLogEntry(e *log.EventEntryAdded) {
	if e.Entry == nil {
		return
	}
	h.sink(schemas.LogEntry{
		Timestamp: runtimeTime(e.Entry.Timestamp),
		Level:     consoleLevel(string(e.Entry.Level)),
		Source:    SourceBrowser,
		Message:   e.Entry.Text,
	})
}

func (h *Harvester) onException(e *runtime.EventExceptionThrown) {
	if e.ExceptionDetails == nil {
		return
	}
	text := e.ExceptionDetails.Text
	if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
		text = e.ExceptionDetails.Exception.Description
	}
	h.sink(schemas.LogEntry{
		Timestamp: runtimeTime(e.Timestamp),
		Level:     "error",
		Source:    SourceException,
		Message:   text,
	})
}

// remoteObjectText renders a console argument the way the devtools console would.
func remoteObjectText(arg *runtime.RemoteObject) string {
	if arg == nil {
		return ""
	}
	if len(arg.Value) > 0 {
		var v interface{}
		if err := jsoniter.Unmarshal(arg.Value, &v); err == nil {
			if s, ok := v.(string); ok {
				return s
			}
			return fmt.Sprint(v)
		}
	}
	if arg.Description != "" {
		return arg.Description
	}
	return "[" + string(arg.Type) + "]"
}

// consoleLevel folds console API types and log entry levels onto four levels.
func consoleLevel(t string) string {
	switch t {
	case "error", "assert":
		return "error"
	case "warning", "warn":
		return "warning"
	case "debug", "verbose", "trace":
		return "debug"
	}
	return "info"
}

func runtimeTime(ts *runtime.Timestamp) time.Time {
	if ts == nil {
		return time.Now().UTC()
	}
	return ts.Time().UTC()
}

func wallTime(ts *cdp.TimeSinceEpoch) time.Time {
	if ts == nil {
		return time.Now().UTC()
	}
	return ts.Time().UTC()
}
