package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/dreamup/playtest/internal/browser"
	"go.uber.org/zap"
)

var (
	// levelVocab is in priority order
	levelVocab         = []string{"next level", "next stage", "continue", "next", "play again"}
	levelCompleteVocab = []string{"level complete", "next level", "you win", "continue"}
)

// Navigator advances past level-complete screens, up to a per-run cap
type Navigator struct {
	in         *interactor
	classifier *Classifier
	logger     *zap.Logger

	mu       sync.Mutex
	advanced int
}

func newNavigator(in *interactor, classifier *Classifier) *Navigator {
	return &Navigator{in: in, classifier: classifier, logger: in.logger.Named("navigator")}
}

// Advanced returns how many levels were advanced this run
func (n *Navigator) Advanced() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.advanced
}

// TryAdvance activates the best next-level control when a level-complete
// screen is showing. It returns true when a level was advanced.
func (n *Navigator) TryAdvance(ctx context.Context) bool {
	if n.Advanced() >= n.in.opts.LevelAdvanceCap {
		n.logger.Debug("Level advance cap reached.", zap.Int("cap", n.in.opts.LevelAdvanceCap))
		return false
	}

	sig, err := n.classifier.Snapshot(ctx, 0)
	if err != nil {
		return false
	}
	controls := n.in.controls(ctx, browser.ScopeAll)
	if !sig.LevelComplete && !overlayAnnouncesLevelEnd(controls) {
		return false
	}

	ranked := rankLevelControls(controls)
	if len(ranked) == 0 {
		n.logger.Debug("Level complete but no advance control found.")
		return false
	}
	best, bestTier := ranked[0].Control, ranked[0].tier

	method, ok := n.in.activate(ctx, best)
	if !ok {
		n.in.record(AttemptRecord{Strategy: "navigator", Target: best.Text, Succeeded: false, ResultingState: Blocked(OverlayLevelComplete)})
		return false
	}
	n.in.settle(ctx)
	state := n.classifier.Classify(ctx, 0)

	n.mu.Lock()
	n.advanced++
	level := n.advanced
	n.mu.Unlock()

	n.in.record(AttemptRecord{Strategy: "navigator", Target: best.Text, Method: method, Succeeded: true, ResultingState: state})
	n.logger.Info("Advanced level.",
		zap.Int("level", level),
		zap.String("control", best.Text),
		zap.Int("tier", bestTier),
		zap.Stringer("state", state),
	)
	n.in.capture(ctx, fmt.Sprintf("level_%d", level))
	return true
}

type levelControl struct {
	browser.Control
	tier int
}

// rankLevelControls keeps controls with advance wording, best first
func rankLevelControls(controls []browser.Control) []levelControl {
	out := make([]levelControl, 0, len(controls))
	for _, c := range controls {
		if t := levelTier(c.Text); t > 0 {
			out = append(out, levelControl{Control: c, tier: t})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].tier != out[j].tier {
			return out[i].tier < out[j].tier
		}
		return out[i].InOverlay && !out[j].InOverlay
	})
	return out
}

// levelTier returns the 1-based priority of text's advance wording, or 0
func levelTier(text string) int {
	norm := normalizeText(text)
	if norm == "" || utf8.RuneCountInString(norm) > maxCandidateText {
		return 0
	}
	return matchVocab(norm, levelVocab)
}

// overlayAnnouncesLevelEnd catches level-complete controls the signals
// probe missed, e.g. a "Next level" button on an unlabelled layer.
func overlayAnnouncesLevelEnd(controls []browser.Control) bool {
	for _, c := range controls {
		if c.InOverlay && matchVocab(c.Text, levelCompleteVocab) > 0 && matchVocab(c.Text, levelVocab[:2]) > 0 {
			return true
		}
	}
	return false
}
