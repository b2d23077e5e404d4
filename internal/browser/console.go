package browser

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// consoleRecorder collects console API calls and uncaught exceptions. CDP
// events arrive on chromedp's listener goroutine, so access is locked.
type consoleRecorder struct {
	mu   sync.Mutex
	logs []LogEntry
}

func newConsoleRecorder() *consoleRecorder {
	return &consoleRecorder{}
}

func (c *consoleRecorder) listen(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			c.add(LogEntry{
				Level:     levelForAPIType(e.Type),
				Message:   formatArgs(e.Args),
				Timestamp: time.Now(),
			})
		case *runtime.EventExceptionThrown:
			if e.ExceptionDetails == nil {
				return
			}
			msg := e.ExceptionDetails.Text
			if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
				msg = e.ExceptionDetails.Exception.Description
			}
			c.add(LogEntry{
				Level:     LogLevelError,
				Message:   msg,
				Source:    e.ExceptionDetails.URL,
				Timestamp: time.Now(),
			})
		}
	})
}

func (c *consoleRecorder) add(entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, entry)
}

func (c *consoleRecorder) entries() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}

func levelForAPIType(t runtime.APIType) LogLevel {
	switch t {
	case runtime.APITypeError, runtime.APITypeAssert:
		return LogLevelError
	case runtime.APITypeWarning:
		return LogLevelWarning
	case runtime.APITypeDebug:
		return LogLevelDebug
	default:
		return LogLevelInfo
	}
}

func formatArgs(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		if len(arg.Value) > 0 {
			var s string
			if err := json.Unmarshal([]byte(arg.Value), &s); err == nil {
				parts = append(parts, s)
			} else {
				parts = append(parts, string(arg.Value))
			}
			continue
		}
		if arg.Description != "" {
			parts = append(parts, arg.Description)
			continue
		}
		parts = append(parts, string(arg.Type))
	}
	return strings.Join(parts, " ")
}
