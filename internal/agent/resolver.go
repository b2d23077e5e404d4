package agent

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/dreamup/playtest/internal/browser"
	"go.uber.org/zap"
)

// fallbackKeys are pressed when no control can be activated
var fallbackKeys = []string{"Escape", "Enter", "Space"}

// Resolver clears blocking overlays by activating the best-ranked control
// and re-classifying, recursing on a bounded depth budget.
type Resolver struct {
	in         *interactor
	classifier *Classifier
	logger     *zap.Logger
	resolved   atomic.Int32
}

func newResolver(in *interactor, classifier *Classifier) *Resolver {
	return &Resolver{in: in, classifier: classifier, logger: in.logger.Named("resolver")}
}

// Resolve returns true once the page is Playing, or once an activation
// leaves it in a state that is no longer recognizably blocked.
func (r *Resolver) Resolve(ctx context.Context, maxDepth int) bool {
	return r.resolve(ctx, maxDepth, "", map[string]bool{})
}

// resolve skips controls whose text was already activated on this path, so
// a dead button cannot use up the depth budget.
func (r *Resolver) resolve(ctx context.Context, depth int, previous string, tried map[string]bool) bool {
	if depth <= 0 {
		r.logger.Debug("Resolution depth exhausted.")
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if !r.in.alive(ctx) {
		r.logger.Info("Session stopped responding, giving up resolution.")
		return false
	}

	state := r.classifier.Classify(ctx, 0)
	if state.IsPlaying() {
		return true
	}

	candidates := RankCandidates(r.in.controls(ctx, browser.ScopeAll), previous)
	candidates = slices.DeleteFunc(candidates, func(c Candidate) bool {
		return tried[normalizeText(c.Text)]
	})
	if len(candidates) == 0 && state.IsUnknown() {
		r.logger.Debug("Nothing to resolve.", zap.Stringer("state", state))
		return false
	}

	r.logger.Info("Resolving overlay.",
		zap.Stringer("state", state),
		zap.Int("candidates", len(candidates)),
		zap.Int("depth", depth),
	)

	for _, c := range candidates {
		method, ok := r.in.activate(ctx, c.Control)
		if !ok {
			r.in.record(AttemptRecord{
				Strategy:       fmt.Sprintf("resolver:tier%d", c.Tier),
				Target:         c.Text,
				Succeeded:      false,
				ResultingState: state,
			})
			continue
		}

		r.in.settle(ctx)
		next := r.classifier.Classify(ctx, 0)
		r.in.record(AttemptRecord{
			Strategy:       fmt.Sprintf("resolver:tier%d", c.Tier),
			Target:         c.Text,
			Method:         method,
			Succeeded:      true,
			ResultingState: next,
		})
		r.logger.Info("Activated control.",
			zap.String("text", c.Text),
			zap.String("method", string(method)),
			zap.Stringer("state", next),
		)
		r.snapshot(ctx)

		if next.IsBlocked() {
			tried[normalizeText(c.Text)] = true
			return r.resolve(ctx, depth-1, c.Text, tried)
		}
		return true
	}

	return r.pressFallbackKeys(ctx, state)
}

// pressFallbackKeys tries Escape, Enter and Space in turn, classifying after
// each, and stops at the first key that unblocks the page.
func (r *Resolver) pressFallbackKeys(ctx context.Context, before GameState) bool {
	if !before.IsBlocked() {
		return false
	}
	for _, key := range fallbackKeys {
		if ctx.Err() != nil {
			return false
		}
		if err := r.in.pressKey(ctx, key); err != nil {
			r.logger.Debug("Fallback key failed.", zap.String("key", key), zap.Error(err))
			continue
		}
		r.in.settle(ctx)
		next := r.classifier.Classify(ctx, 0)
		r.in.record(AttemptRecord{
			Strategy:       "resolver:keyboard",
			Target:         key,
			Method:         MethodKeyboard,
			Succeeded:      !next.IsBlocked(),
			ResultingState: next,
		})
		if !next.IsBlocked() {
			r.logger.Info("Fallback key cleared overlay.", zap.String("key", key), zap.Stringer("state", next))
			r.snapshot(ctx)
			return true
		}
	}
	return false
}

func (r *Resolver) snapshot(ctx context.Context) {
	n := r.resolved.Add(1)
	r.in.capture(ctx, fmt.Sprintf("resolved_%d", n))
}
