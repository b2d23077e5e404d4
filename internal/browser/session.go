package browser

import (
	"context"
	"time"
)

// Session is a single live handle to one remote browser page. It is owned by
// exactly one test run and driven serially.
type Session interface {
	// Navigate loads url and waits for the document body.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs script in the page and decodes its result into res.
	Evaluate(ctx context.Context, script string, res any) error
	// Click clicks the first element matching a CSS selector.
	Click(ctx context.Context, selector string) error
	// KeyPress presses and releases a named key ("ArrowUp", "Space", "w").
	KeyPress(ctx context.Context, key string) error
	// Screenshot returns PNG bytes of the current viewport.
	Screenshot(ctx context.Context) ([]byte, error)
	// Wait blocks for d or until ctx is done.
	Wait(ctx context.Context, d time.Duration) error
	// ConsoleLogs returns a copy of the console output recorded so far.
	ConsoleLogs() []LogEntry
}

// FrameSwitcher moves the interaction context into an embedded frame.
type FrameSwitcher interface {
	SwitchToIframe(ctx context.Context, frame Frame) error
}

// PointClicker dispatches a native mouse click at viewport coordinates.
type PointClicker interface {
	ClickAt(ctx context.Context, x, y float64) error
}

// TextClicker clicks the smallest visible element whose text matches.
type TextClicker interface {
	ClickByText(ctx context.Context, text string, exact bool) (bool, error)
}

// LogLevel represents the severity of a console message
type LogLevel string

const (
	LogLevelError   LogLevel = "error"
	LogLevelWarning LogLevel = "warning"
	LogLevelInfo    LogLevel = "info"
	LogLevelDebug   LogLevel = "debug"
)

// LogEntry is one captured console message
type LogEntry struct {
	// Level is the normalized severity
	Level LogLevel `json:"level"`
	// Message is the formatted console text
	Message string `json:"message"`
	// Source is the script URL when the browser reports one
	Source string `json:"source,omitempty"`
	// Timestamp is when the message was recorded
	Timestamp time.Time `json:"timestamp"`
}
