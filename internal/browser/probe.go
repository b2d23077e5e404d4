package browser

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// ProbeName identifies one of the engine's page queries. Every script the
// engine evaluates is framed with its probe name so recorded traffic and test
// pages can tell the queries apart.
type ProbeName string

const (
	ProbeAlive       ProbeName = "alive"
	ProbeSignals     ProbeName = "signals"
	ProbeControls    ProbeName = "controls"
	ProbeFrames      ProbeName = "frames"
	ProbeFrameworks  ProbeName = "frameworks"
	ProbeHideOverlay ProbeName = "hideOverlay"
	ProbeRemoveAds   ProbeName = "removeAds"
	ProbeClickText   ProbeName = "clickText"
	ProbeClickPoint  ProbeName = "clickPoint"
	ProbeRect        ProbeName = "rect"
	ProbeDispatchKey ProbeName = "dispatchKey"
)

// CanvasKindHook is the page global the signals script reads to learn which
// context type a canvas was bound to.
const CanvasKindHook = "__playtestCanvasKind"

// CanvasTrackerScript runs before any page script and records the first
// context type each canvas is bound to. Reading the record never binds a
// context, so a canvas the game has not touched yet stays free for WebGL.
const CanvasTrackerScript = `(() => {
	if (window['` + CanvasKindHook + `']) return;
	const kinds = new WeakMap();
	const orig = HTMLCanvasElement.prototype.getContext;
	HTMLCanvasElement.prototype.getContext = function (type, ...rest) {
		const ctx = orig.call(this, type, ...rest);
		if (ctx && !kinds.has(this)) kinds.set(this, String(type));
		return ctx;
	};
	Object.defineProperty(window, '` + CanvasKindHook + `', { value: (c) => kinds.get(c) || '' });
})();`

// Scope narrows the controls probe to one family of containers.
type Scope string

const (
	ScopeAll     Scope = "all"
	ScopeConsent Scope = "consent"
	ScopeAgeGate Scope = "age"
	ScopeAd      Scope = "ad"
	ScopeListing Scope = "listing"
)

// Signals is the raw detection snapshot returned by the signals probe.
type Signals struct {
	// ScoreText is the text of the first score/counter-like element
	ScoreText string `json:"scoreText"`
	// Canvas describes the largest canvas on the page
	Canvas CanvasSignal `json:"canvas"`
	// BoardActive reports board/grid/tile cells with text or a painted background
	BoardActive bool `json:"boardActive"`
	// ModalVisible reports any visible modal/overlay-like container
	ModalVisible bool `json:"modalVisible"`
	// Tutorial reports a visible modal holding tutorial/welcome/learn buttons
	Tutorial bool `json:"tutorial"`
	// Consent reports a visible cookie/GDPR container
	Consent bool `json:"consent"`
	// AgeGate reports a visible age verification container
	AgeGate bool `json:"ageGate"`
	// Ad reports a visible ad overlay
	Ad bool `json:"ad"`
	// LevelComplete reports level-complete vocabulary on a visible layer
	LevelComplete bool `json:"levelComplete"`
	// SelectionMenu reports a level/character picker
	SelectionMenu bool `json:"selectionMenu"`
	// Frames is the number of same-origin iframes that were swept
	Frames int `json:"frames"`
}

// CanvasSignal describes canvas rendering state.
type CanvasSignal struct {
	Present    bool `json:"present"`
	HasContent bool `json:"hasContent"`
	WebGL      bool `json:"webgl"`
}

// Rect is a bounding box in CSS pixels relative to the top-level viewport.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Empty reports whether the box has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Area returns width times height.
func (r Rect) Area() float64 {
	if r.Empty() {
		return 0
	}
	return r.Width * r.Height
}

// Control is a visible interactive element reported by the controls probe.
type Control struct {
	// Text is the trimmed visible text (or value/aria-label when empty)
	Text string `json:"text"`
	// Tag is the lower-case tag name
	Tag string `json:"tag"`
	// Selector is "#id" or "tag.firstClass" when one can be derived
	Selector string `json:"selector,omitempty"`
	// InOverlay reports a modal, dark-overlay or high z-index ancestor
	InOverlay bool `json:"inOverlay"`
	// Rect is the element's bounding box
	Rect Rect `json:"rect"`
	// Frame is 0 for the top document, else the 1-based same-origin frame index
	Frame int `json:"frame"`
}

// Frame describes an iframe on the page.
type Frame struct {
	Index      int    `json:"index"`
	Src        string `json:"src"`
	Selector   string `json:"selector"`
	Rect       Rect   `json:"rect"`
	SameOrigin bool   `json:"sameOrigin"`
	HasCanvas  bool   `json:"hasCanvas"`
}

// ClickResult is returned by the click probes.
type ClickResult struct {
	Clicked bool   `json:"clicked"`
	Tag     string `json:"tag,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

var probeHeader = regexp.MustCompile(`^/\*probe:(\w+)\*/\n\(function\(\) \{\nconst args = (.*);\n`)

// ProbeScript frames body as a named probe. args is marshalled to JSON and
// bound to the `args` constant visible to body.
func ProbeScript(name ProbeName, args any, body string) string {
	if args == nil {
		args = struct{}{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte("{}")
	}
	return fmt.Sprintf("/*probe:%s*/\n(function() {\nconst args = %s;\n%s\n})();", name, raw, body)
}

// ParseProbe recovers the probe name and raw args from a framed script.
func ParseProbe(script string) (ProbeName, json.RawMessage, bool) {
	m := probeHeader.FindStringSubmatch(script)
	if m == nil {
		return "", nil, false
	}
	return ProbeName(m[1]), json.RawMessage(m[2]), true
}

// ControlsArgs selects the container family swept by the controls probe.
type ControlsArgs struct {
	Scope Scope `json:"scope"`
}

// TextArgs targets the clickText probe.
type TextArgs struct {
	Text  string `json:"text"`
	Exact bool   `json:"exact"`
}

// PointArgs targets the clickPoint probe in viewport coordinates.
type PointArgs struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SelectorArgs targets the rect probe. An empty selector yields the viewport.
type SelectorArgs struct {
	Selector string `json:"selector"`
}

// SelectorsArgs lists CSS selectors tried in order by the frameworks probe.
type SelectorsArgs struct {
	Selectors []string `json:"selectors"`
}

// KeyArgs feeds the dispatchKey probe.
type KeyArgs struct {
	Key  string `json:"key"`
	Code string `json:"code"`
}

// Removal is returned by the hideOverlay and removeAds probes.
type Removal struct {
	Removed int `json:"removed"`
}
