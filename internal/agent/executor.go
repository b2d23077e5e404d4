package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreamup/playtest/internal/browser"
	"go.uber.org/zap"
)

// Executor runs an action script against the page, checking the game state
// around every action and advancing levels on a fixed cadence.
type Executor struct {
	in          *interactor
	classifier  *Classifier
	gatekeepers *Gatekeepers
	resolver    *Resolver
	navigator   *Navigator
	logger      *zap.Logger
}

func newExecutor(in *interactor, classifier *Classifier, gatekeepers *Gatekeepers, resolver *Resolver, navigator *Navigator) *Executor {
	return &Executor{
		in:          in,
		classifier:  classifier,
		gatekeepers: gatekeepers,
		resolver:    resolver,
		navigator:   navigator,
		logger:      in.logger.Named("executor"),
	}
}

// Run executes actions in order. Only a budget overrun returns an error; a
// closed session ends the run quietly with OutcomeSessionClosed.
func (e *Executor) Run(ctx context.Context, actions []Action, policy TimeoutPolicy) (Outcome, error) {
	outcome := Outcome{Status: OutcomeCompleted}
	if err := policy.Validate(); err != nil {
		return outcome, NewConfigError("timeout policy rejected", err)
	}
	for i, a := range actions {
		if err := a.Validate(); err != nil {
			return outcome, NewConfigError(fmt.Sprintf("action %d rejected", i), err)
		}
	}

	start := time.Now()
	finish := func(status OutcomeStatus) Outcome {
		outcome.Status = status
		outcome.Duration = time.Since(start)
		outcome.LevelsAdvanced = e.navigator.Advanced()
		outcome.Attempts = e.in.trail.snapshot()
		return outcome
	}

	e.logger.Info("Starting action script.",
		zap.Int("actions", len(actions)),
		zap.Duration("per_action", policy.PerAction),
		zap.Duration("total", policy.TotalScript),
	)

	cadence := e.in.opts.LevelCadence
	navigatedAt := -1
	for i, action := range actions {
		remaining := policy.TotalScript - time.Since(start)
		if remaining <= 0 {
			return finish(OutcomeTimeout), NewTimeoutError(
				fmt.Sprintf("script exceeded %s before action %d", policy.TotalScript, i), ErrScriptTimeout)
		}
		if !e.in.alive(ctx) {
			e.logger.Info("Session closed, stopping script.", zap.Int("action", i))
			return finish(OutcomeSessionClosed), nil
		}

		budget, sentinel := policy.PerAction, ErrActionTimeout
		if remaining < budget {
			budget, sentinel = remaining, ErrScriptTimeout
		}

		_, err := runWithBudget(ctx, budget, func(ctx context.Context) (struct{}, error) {
			e.check(ctx, "pre")
			err := e.perform(ctx, i, action)
			e.check(ctx, "post")
			return struct{}{}, err
		})
		switch {
		case errors.Is(err, errBudgetExceeded):
			e.logger.Warn("Action overran its budget.", zap.Int("action", i), zap.Stringer("kind", action), zap.Duration("budget", budget))
			return finish(OutcomeTimeout), NewTimeoutError(
				fmt.Sprintf("action %d (%s) exceeded %s", i, action, budget), sentinel)
		case err != nil && ctx.Err() != nil:
			return finish(OutcomeTimeout), NewTimeoutError("script cancelled", errors.Join(ErrScriptTimeout, ctx.Err()))
		case err != nil:
			outcome.ActionsFailed++
			e.logger.Warn("Action failed, continuing.", zap.Int("action", i), zap.Stringer("kind", action), zap.Error(err))
		}
		outcome.ActionsRun++

		if cadence > 0 && (i+1)%cadence == 0 {
			if err := e.advance(ctx, policy, start); err != nil {
				return finish(OutcomeTimeout), err
			}
			navigatedAt = i
		}
	}

	if len(actions) > 0 && navigatedAt != len(actions)-1 {
		if err := e.finalAdvance(ctx, policy, start); err != nil {
			return finish(OutcomeTimeout), err
		}
	}

	out := finish(OutcomeCompleted)
	e.logger.Info("Action script finished.",
		zap.Int("actions_run", out.ActionsRun),
		zap.Int("actions_failed", out.ActionsFailed),
		zap.Int("levels_advanced", out.LevelsAdvanced),
		zap.Duration("duration", out.Duration),
	)
	return out, nil
}

// advance gives the navigator whatever script budget is left.
func (e *Executor) advance(ctx context.Context, policy TimeoutPolicy, start time.Time) error {
	remaining := policy.TotalScript - time.Since(start)
	_, err := runWithBudget(ctx, min(policy.PerAction, remaining), func(ctx context.Context) (bool, error) {
		return e.navigator.TryAdvance(ctx), nil
	})
	if errors.Is(err, errBudgetExceeded) {
		if remaining <= policy.PerAction {
			return NewTimeoutError("level navigation exceeded script budget", ErrScriptTimeout)
		}
		return NewTimeoutError("level navigation exceeded action budget", ErrActionTimeout)
	}
	return nil
}

// finalAdvance is the closing navigator pass. It is skipped once the script
// budget is spent, since every action already ran.
func (e *Executor) finalAdvance(ctx context.Context, policy TimeoutPolicy, start time.Time) error {
	if policy.TotalScript-time.Since(start) <= 0 {
		e.logger.Debug("Script budget spent, skipping the closing level check.")
		return nil
	}
	return e.advance(ctx, policy, start)
}

// check classifies and clears a blocked page. Consent, age gate and ad
// overlays go through their gatekeepers before generic resolution. A
// level-complete screen is left to the navigator.
func (e *Executor) check(ctx context.Context, phase string) {
	state := e.classifier.Classify(ctx, 0)
	if !state.IsBlocked() || state.Overlay == OverlayLevelComplete {
		return
	}
	e.logger.Debug("Page blocked around action.", zap.String("phase", phase), zap.Stringer("state", state))
	if HandlesOverlay(state.Overlay) {
		if handled := e.gatekeepers.ClearOverlays(ctx); len(handled) > 0 {
			state = e.classifier.Classify(ctx, 0)
			if !state.IsBlocked() {
				return
			}
		}
	}
	if !e.resolver.Resolve(ctx, e.in.opts.MaxResolveDepth) {
		e.logger.Debug("Overlay still present, continuing anyway.", zap.String("phase", phase))
	}
}

func (e *Executor) perform(ctx context.Context, index int, a Action) error {
	switch a.Type {
	case ActionWait:
		return e.in.session.Wait(ctx, a.Duration)
	case ActionClick:
		if a.Point == nil {
			return e.in.session.Click(ctx, a.Selector)
		}
		return e.clickNormalized(ctx, a.Selector, *a.Point)
	case ActionKeypress:
		return e.pressRepeated(ctx, a)
	case ActionScreenshot:
		label := a.Label
		if label == "" {
			label = fmt.Sprintf("action_%d", index)
		}
		if _, err := e.in.evidence.Capture(ctx, e.in.session, label); err != nil {
			return NewActionError("screenshot failed", err)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, a.Type)
}

// clickNormalized maps p onto the selector's box, or onto the viewport when
// the selector is empty or matches nothing.
func (e *Executor) clickNormalized(ctx context.Context, selector string, p Point) error {
	var box browser.Rect
	if selector != "" {
		if err := e.in.probe(ctx, browser.ProbeRect, browser.SelectorArgs{Selector: selector}, &box); err != nil {
			e.logger.Debug("Reference box lookup failed.", zap.String("selector", selector), zap.Error(err))
		}
	}
	if box.Empty() {
		if err := e.in.probe(ctx, browser.ProbeRect, browser.SelectorArgs{}, &box); err != nil {
			return NewActionError("viewport lookup failed", err)
		}
	}
	x := box.X + p.X*box.Width
	y := box.Y + p.Y*box.Height
	if err := e.in.clickPoint(ctx, x, y); err != nil {
		return NewActionError(fmt.Sprintf("click at (%.0f, %.0f) failed", x, y), err)
	}
	return nil
}

// pressRepeated sends the remapped key Repeat times, waiting FirstKeyDelay
// before the first press and RepeatKeyDelay before each later one.
func (e *Executor) pressRepeated(ctx context.Context, a Action) error {
	key := remapKey(a.Key, e.in.opts.KeyMap)
	for n := 0; n < a.presses(); n++ {
		delay := e.in.opts.RepeatKeyDelay
		if n == 0 {
			delay = e.in.opts.FirstKeyDelay
		}
		if delay > 0 {
			if err := e.in.session.Wait(ctx, delay); err != nil {
				return err
			}
		}
		if err := e.in.pressKey(ctx, key); err != nil {
			return NewActionError(fmt.Sprintf("press %d of %s failed", n+1, key), err)
		}
	}
	return nil
}
