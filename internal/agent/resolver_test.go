package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dreamup/playtest/internal/browser"
	"github.com/dreamup/playtest/internal/browser/browsertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_NewGameConfirmation(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = modalSignals()

	confirm := button("Start New Game", true)
	confirm.OnClick = func(p *browsertest.Page) {
		p.Elements = nil
		p.Signals = playingSignals()
	}
	newGame := button("New Game", true)
	newGame.OnClick = func(p *browsertest.Page) {
		p.Remove(newGame)
		p.Elements = append(p.Elements, button("Cancel", true), confirm)
	}
	page.Add(newGame)

	eng, evidence := newTestEngine(t, page, testOptions())
	ctx := context.Background()

	require.True(t, eng.Resolver.Resolve(ctx, 3))
	assert.Equal(t, []string{"text:New Game", "text:Start New Game"}, page.EventLog())
	assert.Equal(t, Playing(), eng.Classifier.Classify(ctx, 0))
	assert.Equal(t, []string{"resolved_1", "resolved_2"}, evidence.Labels())

	attempts := eng.Attempts()
	require.Len(t, attempts, 2)
	assert.Equal(t, "resolver:tier3", attempts[0].Strategy)
	assert.Equal(t, Blocked(OverlayGeneric), attempts[0].ResultingState)
	assert.Equal(t, "resolver:tier1", attempts[1].Strategy)
	assert.Equal(t, MethodText, attempts[1].Method)
	assert.True(t, attempts[1].ResultingState.IsPlaying())
}

func TestResolver_DepthIsBounded(t *testing.T) {
	for _, depth := range []int{1, 3, 5} {
		page := browsertest.NewPage()
		page.Signals = modalSignals()
		clicks := 0
		var loop func() *browsertest.Element
		loop = func() *browsertest.Element {
			e := button(fmt.Sprintf("Continue %d", clicks+1), true)
			e.OnClick = func(p *browsertest.Page) {
				clicks++
				p.Elements = []*browsertest.Element{loop()}
			}
			return e
		}
		page.Add(loop())

		eng, _ := newTestEngine(t, page, testOptions())
		assert.False(t, eng.Resolver.Resolve(context.Background(), depth))
		assert.Equal(t, depth, clicks, "depth %d", depth)
	}
}

func TestResolver_SkipsControlThatDidNothing(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = modalSignals()
	page.Add(button("Start", true))
	cont := button("Continue", true)
	cont.OnClick = func(p *browsertest.Page) {
		p.Elements = nil
		p.Signals = playingSignals()
	}
	page.Add(cont)

	eng, _ := newTestEngine(t, page, testOptions())
	require.True(t, eng.Resolver.Resolve(context.Background(), 3))
	assert.Equal(t, []string{"text:Start", "text:Continue"}, page.EventLog())
}

func TestResolver_FallsBackToKeysOnceControlsAreSpent(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = modalSignals()
	page.Add(button("Start", true))
	page.OnKey = func(p *browsertest.Page, key string) {
		if key == "Escape" {
			p.Elements = nil
			p.Signals = playingSignals()
		}
	}

	eng, _ := newTestEngine(t, page, testOptions())
	require.True(t, eng.Resolver.Resolve(context.Background(), 3))
	assert.Equal(t, []string{"text:Start", "key:Escape"}, page.EventLog())
}

func TestResolver_ZeroDepth(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = modalSignals()
	page.Add(button("Play", true))

	eng, _ := newTestEngine(t, page, testOptions())
	assert.False(t, eng.Resolver.Resolve(context.Background(), 0))
	assert.Empty(t, page.EventLog())
}

func TestResolver_EmptyPage(t *testing.T) {
	page := browsertest.NewPage()
	eng, _ := newTestEngine(t, page, testOptions())

	start := time.Now()
	assert.False(t, eng.Resolver.Resolve(context.Background(), 3))
	assert.Less(t, time.Since(start), testOptions().ClassifyTimeout)
	assert.Empty(t, page.EventLog())
	assert.Empty(t, eng.Attempts())
}

func TestResolver_AlreadyPlaying(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = playingSignals()
	page.Add(button("Play", true))

	eng, _ := newTestEngine(t, page, testOptions())
	assert.True(t, eng.Resolver.Resolve(context.Background(), 3))
	assert.Empty(t, page.EventLog())
}

func TestResolver_ClosedSession(t *testing.T) {
	page := browsertest.NewPage()
	page.Closed = true

	eng, _ := newTestEngine(t, page, testOptions())
	assert.False(t, eng.Resolver.Resolve(context.Background(), 3))
}

func TestResolver_FallbackKeys(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = modalSignals()
	page.OnKey = func(p *browsertest.Page, key string) {
		if key == "Enter" {
			p.Signals = playingSignals()
		}
	}

	eng, evidence := newTestEngine(t, page, testOptions())
	require.True(t, eng.Resolver.Resolve(context.Background(), 3))
	assert.Equal(t, []string{"key:Escape", "key:Enter"}, page.EventLog())
	assert.Equal(t, []string{"resolved_1"}, evidence.Labels())

	attempts := eng.Attempts()
	require.Len(t, attempts, 2)
	assert.Equal(t, "resolver:keyboard", attempts[1].Strategy)
	assert.Equal(t, "Enter", attempts[1].Target)
	assert.True(t, attempts[1].Succeeded)
	assert.False(t, attempts[0].Succeeded)
}

func TestResolver_FallbackKeysDispatchWhenNativeFails(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = modalSignals()
	page.KeyErr = errors.New("no focused target")
	page.OnKey = func(p *browsertest.Page, key string) {
		if key == " " {
			p.Signals = playingSignals()
		}
	}

	eng, _ := newTestEngine(t, page, testOptions())
	require.True(t, eng.Resolver.Resolve(context.Background(), 3))
	assert.Equal(t, []string{"dispatch:Escape", "dispatch:Enter", "dispatch: "}, page.EventLog())
}

func TestResolver_ActivationChain(t *testing.T) {
	t.Run("selector when text click finds nothing", func(t *testing.T) {
		page := browsertest.NewPage()
		page.Signals = modalSignals()
		page.Fail[browser.ProbeClickText] = errors.New("detached")
		start := button("Start", true)
		start.ID = "start-btn"
		start.OnClick = func(p *browsertest.Page) { p.Signals = playingSignals() }
		page.Add(start)

		eng, _ := newTestEngine(t, browsertest.Minimal(page), testOptions())
		require.True(t, eng.Resolver.Resolve(context.Background(), 3))
		assert.Equal(t, []string{"click:#start-btn"}, page.EventLog())
		assert.Equal(t, MethodSelector, eng.Attempts()[0].Method)
	})

	t.Run("coordinates when there is no selector", func(t *testing.T) {
		page := browsertest.NewPage()
		page.Signals = modalSignals()
		page.Fail[browser.ProbeClickText] = errors.New("detached")
		start := button("Start", true)
		start.OnClick = func(p *browsertest.Page) { p.Signals = playingSignals() }
		page.Add(start)

		eng, _ := newTestEngine(t, browsertest.Minimal(page), testOptions())
		require.True(t, eng.Resolver.Resolve(context.Background(), 3))
		assert.Equal(t, []string{"point:640,360"}, page.EventLog())
		assert.Equal(t, MethodPoint, eng.Attempts()[0].Method)
	})
}

func TestResolver_UnknownAfterActivationFailsOpen(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = modalSignals()
	play := button("Play", true)
	play.OnClick = func(p *browsertest.Page) {
		p.Elements = nil
		p.Signals = browser.Signals{}
	}
	page.Add(play)

	eng, _ := newTestEngine(t, page, testOptions())
	assert.True(t, eng.Resolver.Resolve(context.Background(), 3))
	assert.True(t, eng.Classifier.Classify(context.Background(), 0).IsUnknown())
}
