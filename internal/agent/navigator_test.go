package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/dreamup/playtest/internal/browser"
	"github.com/dreamup/playtest/internal/browser/browsertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// levelScreens shows n level-complete screens in a row, each with a
// "Next Level" button that swaps in the next one.
func levelScreens(page *browsertest.Page, n int) *int {
	shown := 0
	var next func()
	next = func() {
		shown++
		if shown > n {
			page.Elements = nil
			page.Signals = playingSignals()
			return
		}
		page.Signals = browser.Signals{LevelComplete: true, ModalVisible: true}
		btn := button(fmt.Sprintf("Next Level %d", shown), true)
		btn.OnClick = func(*browsertest.Page) { next() }
		page.Elements = []*browsertest.Element{btn}
	}
	page.Do(func(*browsertest.Page) { next() })
	return &shown
}

func TestNavigator_AdvancesUpToCap(t *testing.T) {
	page := browsertest.NewPage()
	levelScreens(page, 5)

	eng, evidence := newTestEngine(t, page, testOptions())
	ctx := context.Background()

	assert.True(t, eng.Navigator.TryAdvance(ctx))
	assert.True(t, eng.Navigator.TryAdvance(ctx))
	assert.False(t, eng.Navigator.TryAdvance(ctx))
	assert.False(t, eng.Navigator.TryAdvance(ctx))

	assert.Equal(t, 2, eng.Navigator.Advanced())
	assert.Equal(t, []string{"text:Next Level 1", "text:Next Level 2"}, page.EventLog())
	assert.Equal(t, []string{"level_1", "level_2"}, evidence.Labels())
	assert.Equal(t, []string{"navigator", "navigator"}, strategies(eng.Attempts()))
}

func TestNavigator_CustomCap(t *testing.T) {
	page := browsertest.NewPage()
	levelScreens(page, 5)

	opts := testOptions()
	opts.LevelAdvanceCap = 4
	eng, _ := newTestEngine(t, page, opts)

	for i := 0; i < 6; i++ {
		eng.Navigator.TryAdvance(context.Background())
	}
	assert.Equal(t, 4, eng.Navigator.Advanced())
}

func TestNavigator_NothingToAdvance(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = playingSignals()
	page.Add(button("Next", false))

	eng, evidence := newTestEngine(t, page, testOptions())
	assert.False(t, eng.Navigator.TryAdvance(context.Background()))
	assert.Empty(t, page.EventLog())
	assert.Empty(t, evidence.Labels())
}

func TestNavigator_LevelEndFromControlsOnly(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = modalSignals()
	next := button("Next level", true)
	next.OnClick = func(p *browsertest.Page) {
		p.Elements = nil
		p.Signals = playingSignals()
	}
	page.Add(button("Menu", true), next)

	eng, _ := newTestEngine(t, page, testOptions())
	require.True(t, eng.Navigator.TryAdvance(context.Background()))
	assert.Equal(t, []string{"text:Next level"}, page.EventLog())
}

func TestNavigator_LevelCompleteWithoutControl(t *testing.T) {
	page := browsertest.NewPage()
	page.Signals = browser.Signals{LevelComplete: true}
	page.Add(button("Share", true))

	eng, _ := newTestEngine(t, page, testOptions())
	assert.False(t, eng.Navigator.TryAdvance(context.Background()))
	assert.Zero(t, eng.Navigator.Advanced())
}

func TestRankLevelControls(t *testing.T) {
	ranked := rankLevelControls([]browser.Control{
		{Text: "Play again"},
		{Text: "Continue"},
		{Text: "Main menu"},
		{Text: "Next"},
		{Text: "Next Level", InOverlay: true},
		{Text: "Next Stage"},
	})

	var texts []string
	for _, c := range ranked {
		texts = append(texts, c.Text)
	}
	assert.Equal(t, []string{"Next Level", "Next Stage", "Continue", "Next", "Play again"}, texts)
}

func TestLevelTier(t *testing.T) {
	assert.Equal(t, 1, levelTier("NEXT LEVEL"))
	assert.Equal(t, 3, levelTier("Continue"))
	assert.Equal(t, 0, levelTier("Nextgen"))
	assert.Equal(t, 0, levelTier(""))
}

func TestOverlayAnnouncesLevelEnd(t *testing.T) {
	assert.True(t, overlayAnnouncesLevelEnd([]browser.Control{{Text: "Next level", InOverlay: true}}))
	assert.False(t, overlayAnnouncesLevelEnd([]browser.Control{{Text: "Next level"}}))
	assert.False(t, overlayAnnouncesLevelEnd([]browser.Control{{Text: "Continue", InOverlay: true}}))
}

func TestLevelTier_CountsRunes(t *testing.T) {
	// 39 runes but 50 bytes
	umlauts := "Next level: über größe öffnen äöü ßß ää"
	require.Greater(t, len(umlauts), maxCandidateText)

	assert.Equal(t, 1, levelTier(umlauts))
	assert.Equal(t, 0, levelTier(umlauts+" ää"))
	assert.Equal(t, 3, levelTier("Continue"))
}
