package agent

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dreamup/playtest/internal/browser"
	"go.uber.org/zap"
)

// Classifier reports the current GameState from one signals snapshot
type Classifier struct {
	in     *interactor
	logger *zap.Logger
}

func newClassifier(in *interactor) *Classifier {
	return &Classifier{in: in, logger: in.logger.Named("classifier")}
}

// Snapshot gathers raw detection signals, bounded by timeout
func (c *Classifier) Snapshot(ctx context.Context, timeout time.Duration) (browser.Signals, error) {
	if timeout <= 0 {
		timeout = c.in.opts.ClassifyTimeout
	}
	sig, err := runWithBudget(ctx, timeout, func(ctx context.Context) (browser.Signals, error) {
		var sig browser.Signals
		err := c.in.probe(ctx, browser.ProbeSignals, nil, &sig)
		return sig, err
	})
	if err != nil {
		return sig, NewDetectionError("signals read failed", err)
	}
	return sig, nil
}

// Classify never fails: detection errors and timeouts yield Unknown
func (c *Classifier) Classify(ctx context.Context, timeout time.Duration) GameState {
	sig, err := c.Snapshot(ctx, timeout)
	if err != nil {
		c.logger.Debug("Classification inconclusive.", zap.Error(err))
		return Unknown()
	}
	state := ClassifySignals(sig)
	c.logger.Debug("Classified page.", zap.Stringer("state", state))
	return state
}

// ClassifySignals is the pure decision over a signals snapshot. A tutorial
// vetoes everything; score or board activity means Playing; a rendered
// canvas means Playing only while nothing overlays it.
func ClassifySignals(s browser.Signals) GameState {
	if s.Tutorial {
		return Blocked(OverlayTutorial)
	}
	if hasScore(s.ScoreText) || s.BoardActive {
		return Playing()
	}

	overlay := overlayKind(s)
	if overlay == "" && (s.Canvas.HasContent || s.Canvas.WebGL) {
		return Playing()
	}
	if overlay != "" {
		return Blocked(overlay)
	}
	return Unknown()
}

func overlayKind(s browser.Signals) OverlayKind {
	switch {
	case s.Consent:
		return OverlayConsent
	case s.AgeGate:
		return OverlayAgeGate
	case s.Ad:
		return OverlayAd
	case s.LevelComplete:
		return OverlayLevelComplete
	case s.SelectionMenu:
		return OverlaySelectionMenu
	case s.ModalVisible:
		return OverlayGeneric
	}
	return ""
}

var scoreNumber = regexp.MustCompile(`-?\d[\d,]*(\.\d+)?`)

// hasScore reports a counter showing a non-zero number
func hasScore(text string) bool {
	for _, m := range scoreNumber.FindAllString(text, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
		if err == nil && v != 0 {
			return true
		}
	}
	return false
}
