package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dreamup/playtest/internal/browser"
	"github.com/dreamup/playtest/internal/browser/browsertest"
	"go.uber.org/zap/zaptest"
)

// labelRecorder is an EvidenceSink that only remembers labels.
type labelRecorder struct {
	mu     sync.Mutex
	labels []string
}

func (r *labelRecorder) Capture(ctx context.Context, s browser.Session, label string) (*ScreenshotInfo, error) {
	if _, err := s.Screenshot(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels = append(r.labels, label)
	return &ScreenshotInfo{Label: label, Timestamp: time.Now()}, nil
}

func (r *labelRecorder) Labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.labels...)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ClassifyTimeout = time.Second
	return opts
}

func newTestEngine(t *testing.T, s browser.Session, opts Options) (*Engine, *labelRecorder) {
	t.Helper()
	rec := &labelRecorder{}
	return NewEngine(s, rec, zaptest.NewLogger(t), opts), rec
}

func button(text string, overlay bool) *browsertest.Element {
	return &browsertest.Element{
		Text:      text,
		InOverlay: overlay,
		Rect:      browser.Rect{X: 600, Y: 340, Width: 80, Height: 40},
	}
}

func playingSignals() browser.Signals {
	return browser.Signals{ScoreText: "Score: 10"}
}

func modalSignals() browser.Signals {
	return browser.Signals{ModalVisible: true}
}
