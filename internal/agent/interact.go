package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dreamup/playtest/internal/browser"
	"go.uber.org/zap"
)

// interactor is the shared plumbing under every engine component: bounded
// probe calls, the activation chain, key delivery and the attempt trail.
type interactor struct {
	session  browser.Session
	evidence EvidenceSink
	opts     Options
	logger   *zap.Logger
	trail    *attemptTrail
}

func newInteractor(session browser.Session, evidence EvidenceSink, opts Options, logger *zap.Logger) *interactor {
	if evidence == nil {
		evidence = nopEvidence{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &interactor{
		session:  session,
		evidence: evidence,
		opts:     opts.withDefaults(),
		logger:   logger,
		trail:    &attemptTrail{},
	}
}

// probe evaluates a named probe under the probe budget and decodes its JSON
// answer into res.
func (in *interactor) probe(ctx context.Context, name browser.ProbeName, args, res any) error {
	raw, err := runWithBudget(ctx, in.opts.ClassifyTimeout, func(ctx context.Context) (string, error) {
		var out string
		err := in.session.Evaluate(ctx, probeScript(name, args), &out)
		return out, err
	})
	if err != nil {
		if errors.Is(err, errBudgetExceeded) {
			return NewTimeoutError(fmt.Sprintf("%s probe exceeded %s", name, in.opts.ClassifyTimeout), err)
		}
		return fmt.Errorf("failed to run %s probe: %w", name, err)
	}
	if res == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), res); err != nil {
		return fmt.Errorf("failed to parse %s probe result: %w", name, err)
	}
	return nil
}

// bounded runs a native input call under the probe budget.
func (in *interactor) bounded(ctx context.Context, what string, fn func(context.Context) error) error {
	_, err := runWithBudget(ctx, in.opts.ClassifyTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	if errors.Is(err, errBudgetExceeded) {
		return NewTimeoutError(fmt.Sprintf("%s exceeded %s", what, in.opts.ClassifyTimeout), err)
	}
	return err
}

// alive runs the liveness probe. Any failure counts as a closed session.
func (in *interactor) alive(ctx context.Context) bool {
	var ok bool
	if err := in.probe(ctx, browser.ProbeAlive, nil, &ok); err != nil {
		in.logger.Debug("Liveness probe failed.", zap.Error(err))
		return false
	}
	return ok
}

// controls lists visible controls in scope. Detection failures yield none.
func (in *interactor) controls(ctx context.Context, scope browser.Scope) []browser.Control {
	var out []browser.Control
	if err := in.probe(ctx, browser.ProbeControls, browser.ControlsArgs{Scope: scope}, &out); err != nil {
		in.logger.Debug("Control sweep failed.", zap.String("scope", string(scope)), zap.Error(err))
		return nil
	}
	return out
}

func (in *interactor) settle(ctx context.Context) {
	if in.opts.SettleDelay <= 0 {
		return
	}
	if err := in.session.Wait(ctx, in.opts.SettleDelay); err != nil {
		in.logger.Debug("Settle wait interrupted.", zap.Error(err))
	}
}

// activate tries text, then selector, then coordinate clicks on c. It
// reports the method that landed.
func (in *interactor) activate(ctx context.Context, c browser.Control) (ActivationMethod, bool) {
	if c.Text != "" && in.clickText(ctx, c.Text) {
		return MethodText, true
	}

	// Session.Click only reaches the top document.
	if c.Selector != "" && c.Frame == 0 {
		err := in.bounded(ctx, "selector click", func(ctx context.Context) error {
			return in.session.Click(ctx, c.Selector)
		})
		if err == nil {
			return MethodSelector, true
		}
		in.logger.Debug("Selector click failed.", zap.String("selector", c.Selector), zap.Error(err))
	}

	if !c.Rect.Empty() {
		x, y := c.Rect.Center()
		err := in.clickPoint(ctx, x, y)
		if err == nil {
			return MethodPoint, true
		}
		in.logger.Debug("Coordinate click failed.", zap.Float64("x", x), zap.Float64("y", y), zap.Error(err))
	}
	return "", false
}

func (in *interactor) clickText(ctx context.Context, text string) bool {
	if tc, ok := in.session.(browser.TextClicker); ok {
		var clicked bool
		err := in.bounded(ctx, "text click", func(ctx context.Context) error {
			var err error
			clicked, err = tc.ClickByText(ctx, text, true)
			return err
		})
		if err == nil && clicked {
			return true
		}
		if err != nil {
			in.logger.Debug("Native text click failed.", zap.String("text", text), zap.Error(err))
		}
	}

	var res browser.ClickResult
	if err := in.probe(ctx, browser.ProbeClickText, browser.TextArgs{Text: text, Exact: true}, &res); err != nil {
		in.logger.Debug("Text click probe failed.", zap.String("text", text), zap.Error(err))
		return false
	}
	return res.Clicked
}

func (in *interactor) clickPoint(ctx context.Context, x, y float64) error {
	if pc, ok := in.session.(browser.PointClicker); ok {
		return in.bounded(ctx, "point click", func(ctx context.Context) error {
			return pc.ClickAt(ctx, x, y)
		})
	}
	var res browser.ClickResult
	if err := in.probe(ctx, browser.ProbeClickPoint, browser.PointArgs{X: x, Y: y}, &res); err != nil {
		return err
	}
	if !res.Clicked {
		return fmt.Errorf("nothing clickable at (%.0f, %.0f): %s", x, y, res.Reason)
	}
	return nil
}

// pressKey sends key natively and falls back to synthesized DOM events.
func (in *interactor) pressKey(ctx context.Context, key string) error {
	err := in.session.KeyPress(ctx, key)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	in.logger.Debug("Native key press failed, dispatching DOM events.", zap.String("key", key), zap.Error(err))

	domKey, code := browser.DOMKey(key)
	if perr := in.probe(ctx, browser.ProbeDispatchKey, browser.KeyArgs{Key: domKey, Code: code}, nil); perr != nil {
		return fmt.Errorf("failed to press key %s: %w", key, errors.Join(err, perr))
	}
	return nil
}

// capture takes best-effort evidence. Failures are logged and dropped.
func (in *interactor) capture(ctx context.Context, label string) {
	if _, err := in.evidence.Capture(ctx, in.session, label); err != nil {
		in.logger.Debug("Evidence capture failed.", zap.String("label", label), zap.Error(err))
	}
}

func (in *interactor) record(rec AttemptRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	in.trail.add(rec)
}

// attemptTrail is appended to from budgeted goroutines, so it is locked.
type attemptTrail struct {
	mu      sync.Mutex
	records []AttemptRecord
}

func (t *attemptTrail) add(rec AttemptRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, rec)
}

func (t *attemptTrail) snapshot() []AttemptRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]AttemptRecord, len(t.records))
	copy(out, t.records)
	return out
}
