package agent

import (
	"context"
	"testing"

	"github.com/dreamup/playtest/internal/browser"
	"github.com/dreamup/playtest/internal/browser/browsertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strategies(records []AttemptRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Strategy
	}
	return out
}

func TestGatekeepers_TableOrder(t *testing.T) {
	eng, _ := newTestEngine(t, browsertest.NewPage(), testOptions())

	var names []string
	for _, gk := range eng.Gatekeepers.Table() {
		names = append(names, gk.Name)
	}
	assert.Equal(t, []string{"iframe", "consent", "age_gate", "ad", "listing_play", "fullscreen"}, names)
}

func TestGatekeepers_ConsentAgreeLink(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = browser.Signals{Consent: true, ModalVisible: true}

	agree := &browsertest.Element{
		Text:      "I agree",
		Tag:       "a",
		Scopes:    []browser.Scope{browser.ScopeConsent},
		InOverlay: true,
		Rect:      browser.Rect{X: 900, Y: 650, Width: 60, Height: 20},
	}
	agree.OnClick = func(p *browsertest.Page) {
		p.Remove(agree)
		p.Signals = browser.Signals{}
	}
	page.Add(
		&browsertest.Element{Text: "Learn more", Tag: "a", Scopes: []browser.Scope{browser.ScopeConsent}, InOverlay: true},
		agree,
		button("Play", false),
	)

	eng, _ := newTestEngine(t, page, testOptions())
	handled := eng.Gatekeepers.Run(context.Background())

	assert.Equal(t, []string{"consent"}, handled)
	assert.Equal(t, []string{"text:I agree"}, page.EventLog())
	attempts := eng.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, "gatekeeper:consent", attempts[0].Strategy)
	assert.Equal(t, MethodText, attempts[0].Method)
}

func TestGatekeepers_ConsentFrameworkFallback(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = browser.Signals{Consent: true}
	page.OnHideOverlay = func(p *browsertest.Page, scope browser.Scope) int {
		if scope != browser.ScopeConsent {
			return 0
		}
		return 1
	}
	page.Add(
		&browsertest.Element{Text: "Manage options", Scopes: []browser.Scope{browser.ScopeConsent}},
		&browsertest.Element{ID: "onetrust-accept-btn-handler", OnClick: func(p *browsertest.Page) {
			p.Signals = browser.Signals{}
		}},
	)

	eng, _ := newTestEngine(t, page, testOptions())
	handled := eng.Gatekeepers.Run(context.Background())

	assert.Equal(t, []string{"consent"}, handled)
	assert.Equal(t, []string{"framework:#onetrust-accept-btn-handler"}, page.EventLog())
	assert.Equal(t, []string{"gatekeeper:consent_hide", "gatekeeper:consent_framework"}, strategies(eng.Attempts()))
}

func TestGatekeepers_AgeGateNeverRefuses(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = browser.Signals{AgeGate: true}
	age := []browser.Scope{browser.ScopeAgeGate}

	refuse := &browsertest.Element{Text: "No, I am under 18", Scopes: age, InOverlay: true}
	exit := &browsertest.Element{Text: "Exit", Scopes: age, InOverlay: true}
	accept := &browsertest.Element{Text: "Yes, I am 18", Scopes: age, InOverlay: true}
	accept.OnClick = func(p *browsertest.Page) {
		p.Elements = nil
		p.Signals = browser.Signals{}
	}
	page.Add(refuse, exit, accept)

	eng, _ := newTestEngine(t, page, testOptions())
	handled := eng.Gatekeepers.Run(context.Background())

	assert.Equal(t, []string{"age_gate"}, handled)
	assert.Equal(t, []string{"text:Yes, I am 18"}, page.EventLog())
}

func TestGatekeepers_AgeGateOnlyRefusal(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = browser.Signals{AgeGate: true}
	age := []browser.Scope{browser.ScopeAgeGate}
	page.Add(
		&browsertest.Element{Text: "No", Scopes: age, InOverlay: true},
		&browsertest.Element{Text: "I'm not 18", Scopes: age, InOverlay: true},
	)

	eng, _ := newTestEngine(t, page, testOptions())
	assert.False(t, eng.Gatekeepers.passAgeGate(context.Background()))
	assert.Empty(t, page.EventLog())
}

func TestGatekeepers_AdClose(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = browser.Signals{Ad: true, ModalVisible: true}
	closeBtn := &browsertest.Element{Text: "×", Scopes: []browser.Scope{browser.ScopeAd}, InOverlay: true}
	closeBtn.OnClick = func(p *browsertest.Page) {
		p.Remove(closeBtn)
		p.Signals = browser.Signals{}
	}
	page.Add(closeBtn)

	eng, _ := newTestEngine(t, page, testOptions())
	assert.Equal(t, []string{"ad"}, eng.Gatekeepers.Run(context.Background()))
	assert.Equal(t, []string{"text:×"}, page.EventLog())
}

func TestGatekeepers_AdRemovalFallback(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = browser.Signals{Ad: true}
	removals := 0
	page.OnRemoveAds = func(p *browsertest.Page) int {
		removals++
		p.Signals = browser.Signals{}
		return 2
	}

	eng, _ := newTestEngine(t, page, testOptions())
	assert.Equal(t, []string{"ad"}, eng.Gatekeepers.Run(context.Background()))
	assert.Equal(t, 1, removals)
	assert.Equal(t, []string{"gatekeeper:ad_remove"}, strategies(eng.Attempts()))
}

func TestGatekeepers_ListingPlay(t *testing.T) {
	page := browsertest.NewPage()
	play := &browsertest.Element{
		Text:   "Play Now",
		Scopes: []browser.Scope{browser.ScopeListing},
		Rect:   browser.Rect{X: 100, Y: 100, Width: 200, Height: 60},
	}
	play.OnClick = func(p *browsertest.Page) {
		p.Remove(play)
		p.Signals = browser.Signals{Canvas: browser.CanvasSignal{Present: true, HasContent: true}}
	}
	page.Add(play)

	eng, _ := newTestEngine(t, page, testOptions())
	assert.Equal(t, []string{"listing_play"}, eng.Gatekeepers.Run(context.Background()))
	assert.Equal(t, Playing(), eng.Classifier.Classify(context.Background(), 0))
}

func TestGatekeepers_ListingPlaySkippedWhilePlaying(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = playingSignals()
	page.Add(&browsertest.Element{Text: "Play", Scopes: []browser.Scope{browser.ScopeListing}})

	eng, _ := newTestEngine(t, page, testOptions())
	assert.Empty(t, eng.Gatekeepers.Run(context.Background()))
	assert.Empty(t, page.EventLog())
}

func TestGatekeepers_EnterGameFrame(t *testing.T) {
	page := browsertest.NewPage()
	page.Frames = []browser.Frame{
		{Index: 0, Src: "https://ad.doubleclick.net/slot", Rect: browser.Rect{Width: 1000, Height: 600}},
		{Index: 1, Src: "https://games.example.com/play/42", Rect: browser.Rect{X: 140, Y: 60, Width: 960, Height: 540}},
	}
	page.OnSwitch = func(p *browsertest.Page, f browser.Frame) {
		p.Frames = nil
		p.Signals = browser.Signals{Canvas: browser.CanvasSignal{Present: true, HasContent: true}}
	}

	eng, _ := newTestEngine(t, page, testOptions())
	assert.Equal(t, []string{"iframe"}, eng.Gatekeepers.Run(context.Background()))
	assert.Equal(t, []string{"switch:https://games.example.com/play/42"}, page.EventLog())
}

func TestGatekeepers_EnterGameFrameSkipped(t *testing.T) {
	t.Run("top page has a canvas", func(t *testing.T) {
		page := browsertest.NewPage()
		page.Signals = browser.Signals{Canvas: browser.CanvasSignal{Present: true}}
		page.Frames = []browser.Frame{{Src: "https://games.example.com/x", Rect: browser.Rect{Width: 800, Height: 600}}}

		eng, _ := newTestEngine(t, page, testOptions())
		assert.False(t, eng.Gatekeepers.enterGameFrame(context.Background()))
		assert.Zero(t, page.ProbeCount(browser.ProbeFrames))
	})

	t.Run("session cannot switch frames", func(t *testing.T) {
		page := browsertest.NewPage()
		page.Frames = []browser.Frame{{Src: "https://games.example.com/x", Rect: browser.Rect{Width: 800, Height: 600}}}

		eng, _ := newTestEngine(t, browsertest.Minimal(page), testOptions())
		assert.False(t, eng.Gatekeepers.enterGameFrame(context.Background()))
		assert.Empty(t, page.EventLog())
	})
}

func TestPickGameFrame(t *testing.T) {
	viewport := browser.Rect{Width: 1280, Height: 720}
	game := browser.Frame{Index: 3, Src: "https://cdn.games.io/embed", Rect: browser.Rect{Width: 800, Height: 600}}
	frames := []browser.Frame{
		{Index: 0, Src: "https://googlesyndication.com/safeframe", Rect: browser.Rect{Width: 1200, Height: 700}},
		{Index: 1, Src: "https://tiny.example/widget", Rect: browser.Rect{Width: 300, Height: 250}},
		{Index: 2, Src: "https://same.example/child", SameOrigin: true, Rect: browser.Rect{Width: 1280, Height: 720}},
		game,
		{Index: 4, Src: "about:blank", Rect: browser.Rect{Width: 1280, Height: 720}},
		{Index: 5, Src: "https://hidden.example", Rect: browser.Rect{}},
	}

	got, ok := pickGameFrame(frames, viewport)
	require.True(t, ok)
	assert.Equal(t, game, got)

	_, ok = pickGameFrame(frames[:3], viewport)
	assert.False(t, ok)
}
