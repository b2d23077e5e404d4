package agent

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dreamup/playtest/internal/browser"
	"go.uber.org/zap"
)

var (
	consentVocab   = []string{"accept all", "i agree", "agree", "allow all", "accept", "got it", "ok"}
	ageAcceptVocab = []string{"i am 18", "i'm 18", "i am over", "i'm over", "over 18", "18+", "yes", "enter", "confirm"}
	ageRefuseVocab = []string{"no", "under 18", "i am not", "i'm not", "not 18", "younger", "leave", "exit"}
	adCloseVocab   = []string{"close ad", "skip ad", "close", "skip", "no thanks", "dismiss", "continue to game", "×", "✕"}
	listingVocab   = []string{"play now", "play game", "start game", "play"}
)

// consentFrameworkSelectors are accept buttons of common consent platforms:
// Didomi, OneTrust, Quantcast, TrustArc, Cookiebot and Funding Choices.
var consentFrameworkSelectors = []string{
	"#didomi-notice-agree-button",
	"button.didomi-button",
	"#onetrust-accept-btn-handler",
	".qc-cmp2-summary-buttons button[mode='primary']",
	".qc-cmp2-summary-buttons button",
	"#truste-consent-button",
	"#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll",
	"#CybotCookiebotDialogBodyButtonAccept",
	".fc-cta-consent",
	"button.fc-button",
}

// adHostHints mark iframes that are ad slots rather than embedded games
var adHostHints = []string{"doubleclick", "googlesyndication", "adservice", "/ads/", "advert", "adnxs", "amazon-adsystem"}

// minGameFrameShare is the smallest share of the viewport an iframe must
// cover to be treated as an embedded game
const minGameFrameShare = 0.15

// Gatekeeper is one entry in the gatekeeper table
type Gatekeeper struct {
	Name    string
	Attempt func(ctx context.Context) bool
}

// Gatekeepers runs the fixed table of specialized handlers that clear the
// pages and banners standing in front of a game.
type Gatekeepers struct {
	in         *interactor
	classifier *Classifier
	logger     *zap.Logger
	table      []Gatekeeper
}

func newGatekeepers(in *interactor, classifier *Classifier) *Gatekeepers {
	g := &Gatekeepers{in: in, classifier: classifier, logger: in.logger.Named("gatekeepers")}
	g.table = []Gatekeeper{
		{Name: "iframe", Attempt: g.enterGameFrame},
		{Name: "consent", Attempt: g.acceptConsent},
		{Name: "age_gate", Attempt: g.passAgeGate},
		{Name: "ad", Attempt: g.closeAd},
		{Name: "listing_play", Attempt: g.pressListingPlay},
		{Name: "fullscreen", Attempt: g.acknowledgeFullscreen},
	}
	return g
}

// Table returns the handlers in run order
func (g *Gatekeepers) Table() []Gatekeeper {
	return g.table
}

// overlayHandlers are the table entries that clear a banner over a running
// game, as opposed to getting into the game in the first place
var overlayHandlers = map[string]bool{"consent": true, "age_gate": true, "ad": true}

// Run tries every handler once, in order, and returns the names that acted
func (g *Gatekeepers) Run(ctx context.Context) []string {
	return g.run(ctx, func(string) bool { return true })
}

// ClearOverlays runs only the consent, age gate and ad handlers, in table
// order. The executor calls it when one of those appears mid-script.
func (g *Gatekeepers) ClearOverlays(ctx context.Context) []string {
	return g.run(ctx, func(name string) bool { return overlayHandlers[name] })
}

// HandlesOverlay reports whether kind belongs to a specialized handler
func HandlesOverlay(kind OverlayKind) bool {
	switch kind {
	case OverlayConsent, OverlayAgeGate, OverlayAd:
		return true
	}
	return false
}

func (g *Gatekeepers) run(ctx context.Context, include func(name string) bool) []string {
	var handled []string
	for _, gk := range g.table {
		if ctx.Err() != nil {
			break
		}
		if !include(gk.Name) {
			continue
		}
		ok := gk.Attempt(ctx)
		if ok {
			handled = append(handled, gk.Name)
		}
		g.logger.Debug("Gatekeeper finished.", zap.String("gatekeeper", gk.Name), zap.Bool("acted", ok))
	}
	if len(handled) > 0 {
		g.logger.Info("Gatekeepers cleared the way.", zap.Strings("handled", handled))
	}
	return handled
}

// enterGameFrame switches into the largest plausible cross-origin game frame
// when the top page has no canvas of its own.
func (g *Gatekeepers) enterGameFrame(ctx context.Context) bool {
	switcher, ok := g.in.session.(browser.FrameSwitcher)
	if !ok {
		return false
	}

	sig, err := g.classifier.Snapshot(ctx, 0)
	if err != nil || sig.Canvas.Present {
		return false
	}

	var frames []browser.Frame
	if err := g.in.probe(ctx, browser.ProbeFrames, nil, &frames); err != nil {
		g.logger.Debug("Frame sweep failed.", zap.Error(err))
		return false
	}
	var viewport browser.Rect
	if err := g.in.probe(ctx, browser.ProbeRect, browser.SelectorArgs{}, &viewport); err != nil || viewport.Empty() {
		viewport = browser.Rect{Width: 1280, Height: 720}
	}

	frame, found := pickGameFrame(frames, viewport)
	if !found {
		return false
	}
	err = g.in.bounded(ctx, "frame switch", func(ctx context.Context) error {
		return switcher.SwitchToIframe(ctx, frame)
	})
	if err != nil {
		g.logger.Warn("Could not enter game frame.", zap.String("src", frame.Src), zap.Error(err))
		g.record(ctx, "gatekeeper:iframe", frame.Src, "", false)
		return false
	}
	g.in.settle(ctx)
	g.record(ctx, "gatekeeper:iframe", frame.Src, "", true)
	return true
}

// pickGameFrame chooses the largest visible cross-origin frame that is not an
// ad slot and covers enough of the viewport.
func pickGameFrame(frames []browser.Frame, viewport browser.Rect) (browser.Frame, bool) {
	candidates := make([]browser.Frame, 0, len(frames))
	for _, f := range frames {
		if f.SameOrigin || f.Src == "" || f.Rect.Empty() {
			continue
		}
		if strings.HasPrefix(f.Src, "about:") || strings.HasPrefix(f.Src, "javascript:") {
			continue
		}
		if looksLikeAd(f.Src) {
			continue
		}
		if viewport.Area() > 0 && f.Rect.Area()/viewport.Area() < minGameFrameShare {
			continue
		}
		candidates = append(candidates, f)
	}
	if len(candidates) == 0 {
		return browser.Frame{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Rect.Area() > candidates[j].Rect.Area()
	})
	return candidates[0], true
}

func looksLikeAd(src string) bool {
	src = strings.ToLower(src)
	for _, hint := range adHostHints {
		if strings.Contains(src, hint) {
			return true
		}
	}
	return false
}

// acceptConsent clicks accept inside consent containers, else hides the
// banner and tries known consent-platform buttons.
func (g *Gatekeepers) acceptConsent(ctx context.Context) bool {
	if g.clickBest(ctx, "gatekeeper:consent", g.in.controls(ctx, browser.ScopeConsent), consentVocab, nil) {
		return true
	}

	sig, err := g.classifier.Snapshot(ctx, 0)
	if err != nil || !sig.Consent {
		return false
	}

	acted := false
	var removal browser.Removal
	if err := g.in.probe(ctx, browser.ProbeHideOverlay, browser.ControlsArgs{Scope: browser.ScopeConsent}, &removal); err == nil && removal.Removed > 0 {
		g.logger.Info("Hid consent overlay.", zap.Int("removed", removal.Removed))
		g.record(ctx, "gatekeeper:consent_hide", "", "", true)
		acted = true
	}

	var res browser.ClickResult
	if err := g.in.probe(ctx, browser.ProbeFrameworks, browser.SelectorsArgs{Selectors: consentFrameworkSelectors}, &res); err == nil && res.Clicked {
		g.logger.Info("Accepted consent through platform button.", zap.String("selector", res.Reason))
		g.record(ctx, "gatekeeper:consent_framework", res.Reason, MethodSelector, true)
		acted = true
	}
	if acted {
		g.in.settle(ctx)
	}
	return acted
}

// passAgeGate confirms age. Refusal controls are never clicked.
func (g *Gatekeepers) passAgeGate(ctx context.Context) bool {
	return g.clickBest(ctx, "gatekeeper:age_gate", g.in.controls(ctx, browser.ScopeAgeGate), ageAcceptVocab, ageRefuseVocab)
}

// closeAd closes ad overlays, else strips ad containers that hold no game.
func (g *Gatekeepers) closeAd(ctx context.Context) bool {
	if g.clickBest(ctx, "gatekeeper:ad", g.in.controls(ctx, browser.ScopeAd), adCloseVocab, nil) {
		return true
	}

	sig, err := g.classifier.Snapshot(ctx, 0)
	if err != nil || !sig.Ad {
		return false
	}
	var removal browser.Removal
	if err := g.in.probe(ctx, browser.ProbeRemoveAds, nil, &removal); err != nil || removal.Removed == 0 {
		return false
	}
	g.logger.Info("Removed ad elements.", zap.Int("removed", removal.Removed))
	g.record(ctx, "gatekeeper:ad_remove", "", "", true)
	return true
}

// pressListingPlay starts a game sitting behind a portal's listing page.
func (g *Gatekeepers) pressListingPlay(ctx context.Context) bool {
	if g.classifier.Classify(ctx, 0).IsPlaying() {
		return false
	}
	return g.clickBest(ctx, "gatekeeper:listing_play", g.in.controls(ctx, browser.ScopeListing), listingVocab, nil)
}

// acknowledgeFullscreen is a placeholder slot: the browser grants fullscreen
// requests itself, so there is nothing to click.
func (g *Gatekeepers) acknowledgeFullscreen(context.Context) bool {
	return false
}

// clickBest activates the control whose text matches the earliest accept
// phrase, preferring overlay-contained controls, and skipping any control
// that matches a refusal phrase.
func (g *Gatekeepers) clickBest(ctx context.Context, strategy string, controls []browser.Control, accept, refuse []string) bool {
	type ranked struct {
		control browser.Control
		rank    int
	}
	var options []ranked
	for _, c := range controls {
		norm := normalizeText(c.Text)
		if norm == "" || utf8.RuneCountInString(norm) > maxCandidateText {
			continue
		}
		if matchVocab(norm, refuse) > 0 {
			continue
		}
		if rank := matchVocab(norm, accept); rank > 0 {
			options = append(options, ranked{control: c, rank: rank})
		}
	}
	sort.SliceStable(options, func(i, j int) bool {
		if options[i].rank != options[j].rank {
			return options[i].rank < options[j].rank
		}
		return options[i].control.InOverlay && !options[j].control.InOverlay
	})

	for _, opt := range options {
		method, ok := g.in.activate(ctx, opt.control)
		if !ok {
			continue
		}
		g.in.settle(ctx)
		g.logger.Info("Gatekeeper activated control.",
			zap.String("strategy", strategy),
			zap.String("text", opt.control.Text),
			zap.String("method", string(method)),
		)
		g.record(ctx, strategy, opt.control.Text, method, true)
		return true
	}
	return false
}

func (g *Gatekeepers) record(ctx context.Context, strategy, target string, method ActivationMethod, ok bool) {
	rec := AttemptRecord{Strategy: strategy, Target: target, Method: method, Succeeded: ok}
	if ok {
		rec.ResultingState = g.classifier.Classify(ctx, 0)
	}
	g.in.record(rec)
}
