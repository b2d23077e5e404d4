package agent

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dreamup/playtest/internal/browser"
)

// ActivationMethod is how a control was activated
type ActivationMethod string

const (
	MethodText     ActivationMethod = "text"
	MethodSelector ActivationMethod = "selector"
	MethodPoint    ActivationMethod = "point"
	MethodKeyboard ActivationMethod = "keyboard"
)

// Tier is a resolver priority class; lower tiers are tried first
type Tier int

const (
	tierNone Tier = iota
	// TierConfirm answers a "start a new game?" confirmation
	TierConfirm
	// TierDismiss closes the overlay
	TierDismiss
	// TierStart starts the game
	TierStart
	// TierAcknowledge acknowledges and moves on
	TierAcknowledge
)

// maxCandidateText skips paragraphs that merely mention a keyword
const maxCandidateText = 40

var tierVocab = []struct {
	tier    Tier
	phrases []string
}{
	{TierConfirm, []string{"start new game", "confirm", "yes"}},
	{TierDismiss, []string{"skip", "dismiss", "got it", "no thanks", "close"}},
	{TierStart, []string{"play", "start", "begin", "new game"}},
	{TierAcknowledge, []string{"ok", "okay", "continue", "next"}},
}

// closeGlyphs are bare close buttons
var closeGlyphs = map[string]bool{"×": true, "✕": true, "✖": true, "x": true}

// Candidate is a control the resolver may activate
type Candidate struct {
	browser.Control
	Tier Tier
}

// RankCandidates orders controls by tier, overlay-contained first within a
// tier, dropping anything that matches no tier. Confirmation words only rank
// when the previous activation mentioned "new game".
func RankCandidates(controls []browser.Control, previous string) []Candidate {
	confirming := strings.Contains(normalizeText(previous), "new game")

	out := make([]Candidate, 0, len(controls))
	for _, c := range controls {
		t := tierOf(c.Text, confirming)
		if t == tierNone {
			continue
		}
		out = append(out, Candidate{Control: c, Tier: t})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].InOverlay && !out[j].InOverlay
	})
	return out
}

func tierOf(text string, confirming bool) Tier {
	norm := normalizeText(text)
	if norm == "" || utf8.RuneCountInString(norm) > maxCandidateText {
		return tierNone
	}
	if closeGlyphs[norm] {
		return TierDismiss
	}
	for _, tv := range tierVocab {
		if tv.tier == TierConfirm && !confirming {
			continue
		}
		if matchVocab(norm, tv.phrases) > 0 {
			return tv.tier
		}
	}
	return tierNone
}

// matchVocab returns the 1-based index of the first phrase found in text at
// word boundaries, or 0.
func matchVocab(text string, phrases []string) int {
	norm := normalizeText(text)
	for i, p := range phrases {
		if phraseRegexp(p).MatchString(norm) {
			return i + 1
		}
	}
	return 0
}

var phraseCache = map[string]*regexp.Regexp{}

func init() {
	for _, tv := range tierVocab {
		for _, p := range tv.phrases {
			compilePhrase(p)
		}
	}
	for _, vocab := range [][]string{consentVocab, ageAcceptVocab, ageRefuseVocab, adCloseVocab, listingVocab, levelVocab, levelCompleteVocab} {
		for _, p := range vocab {
			compilePhrase(p)
		}
	}
}

func compilePhrase(p string) {
	if _, ok := phraseCache[p]; ok {
		return
	}
	phraseCache[p] = regexp.MustCompile(`(^|[^\pL\pN])` + regexp.QuoteMeta(p) + `($|[^\pL\pN])`)
}

// phraseRegexp expects every phrase to be registered in init; the cache is
// read-only afterwards.
func phraseRegexp(p string) *regexp.Regexp {
	if re, ok := phraseCache[p]; ok {
		return re
	}
	return regexp.MustCompile(`(^|[^\pL\pN])` + regexp.QuoteMeta(p) + `($|[^\pL\pN])`)
}

// normalizeText lower-cases, folds curly apostrophes and collapses whitespace
func normalizeText(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "’", "'"))
	return strings.Join(strings.Fields(s), " ")
}
