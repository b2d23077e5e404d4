// Package browsertest provides a scripted in-memory page that answers the
// engine's probes, for driving the agent without Chrome.
package browsertest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dreamup/playtest/internal/browser"
)

// ErrClosed is returned by every call once the page is closed.
var ErrClosed = errors.New("browsertest: page closed")

// Element is one node in the fake DOM.
type Element struct {
	Text      string
	Tag       string
	ID        string
	Class     string
	Scopes    []browser.Scope
	InOverlay bool
	Rect      browser.Rect
	Hidden    bool
	Frame     int
	// Matches lists extra CSS selectors this element answers to
	Matches []string
	// OnClick runs with the page locked; mutate Page fields directly.
	OnClick func(p *Page)
}

// Selector returns "#id" or "tag.class" the way the controls probe does.
func (e *Element) Selector() string {
	if e.ID != "" {
		return "#" + e.ID
	}
	if e.Class != "" {
		return e.tag() + "." + strings.Fields(e.Class)[0]
	}
	return ""
}

func (e *Element) tag() string {
	if e.Tag == "" {
		return "button"
	}
	return strings.ToLower(e.Tag)
}

func (e *Element) matches(selector string) bool {
	if selector == "" {
		return false
	}
	if s := e.Selector(); s != "" && s == selector {
		return true
	}
	return slices.Contains(e.Matches, selector)
}

func (e *Element) inScope(scope browser.Scope) bool {
	if scope == "" || scope == browser.ScopeAll {
		return true
	}
	return slices.Contains(e.Scopes, scope)
}

// Page is a scriptable browser.Session. Handlers (OnClick, OnKey, OnWait,
// OnNavigate, OnSwitch, OnHideOverlay, OnRemoveAds) run with the page locked
// and may mutate any exported field.
type Page struct {
	mu sync.Mutex

	URL      string
	Signals  browser.Signals
	Elements []*Element
	Frames   []browser.Frame
	Viewport browser.Rect
	Logs     []browser.LogEntry

	// Closed makes every call fail with ErrClosed
	Closed bool
	// Fail injects errors into individual probes
	Fail map[browser.ProbeName]error
	// NavigateErr is returned by Navigate
	NavigateErr error
	// ScreenshotErr is returned by Screenshot
	ScreenshotErr error
	// KeyErr is returned by KeyPress
	KeyErr error
	// Delay blocks the named operation ("navigate", "click", "key", "wait",
	// "screenshot", "evaluate", or a probe name) until it elapses or ctx ends.
	Delay map[string]time.Duration

	OnNavigate    func(p *Page, url string)
	OnKey         func(p *Page, key string)
	OnWait        func(p *Page, d time.Duration)
	OnSwitch      func(p *Page, frame browser.Frame)
	OnHideOverlay func(p *Page, scope browser.Scope) int
	OnRemoveAds   func(p *Page) int

	// Events records every input in order: "navigate:<url>", "click:<selector>",
	// "text:<text>", "point:<x>,<y>", "key:<key>", "dispatch:<key>",
	// "framework:<selector>", "switch:<src>".
	Events []string
	// Probes counts evaluated probes by name
	Probes      map[browser.ProbeName]int
	Screenshots int
	Waited      time.Duration
}

var (
	_ browser.Session       = (*Page)(nil)
	_ browser.FrameSwitcher = (*Page)(nil)
	_ browser.PointClicker  = (*Page)(nil)
	_ browser.TextClicker   = (*Page)(nil)
)

// NewPage returns an empty 1280x720 page.
func NewPage() *Page {
	return &Page{
		Viewport: browser.Rect{Width: 1280, Height: 720},
		Fail:     map[browser.ProbeName]error{},
		Delay:    map[string]time.Duration{},
		Probes:   map[browser.ProbeName]int{},
	}
}

// Add appends elements and returns the first one.
func (p *Page) Add(elems ...*Element) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Elements = append(p.Elements, elems...)
	if len(elems) == 0 {
		return nil
	}
	return elems[0]
}

// Remove drops e from the page. Callable from handlers.
func (p *Page) Remove(e *Element) {
	p.Elements = slices.DeleteFunc(p.Elements, func(x *Element) bool { return x == e })
}

// Do runs fn with the page locked.
func (p *Page) Do(fn func(p *Page)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// EventLog returns a copy of the recorded events.
func (p *Page) EventLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.Events)
}

// ProbeCount returns how often name was evaluated.
func (p *Page) ProbeCount(name browser.ProbeName) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Probes[name]
}

func (p *Page) delay(ctx context.Context, op string) error {
	p.mu.Lock()
	d := p.Delay[op]
	p.mu.Unlock()
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Navigate implements browser.Session.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.delay(ctx, "navigate"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return ErrClosed
	}
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.URL = url
	p.Events = append(p.Events, "navigate:"+url)
	if p.OnNavigate != nil {
		p.OnNavigate(p, url)
	}
	return nil
}

// Evaluate answers framed probe scripts and decodes the answer into res.
func (p *Page) Evaluate(ctx context.Context, script string, res any) error {
	name, rawArgs, ok := browser.ParseProbe(script)
	if !ok {
		return fmt.Errorf("browsertest: unframed script")
	}
	if err := p.delay(ctx, "evaluate"); err != nil {
		return err
	}
	if err := p.delay(ctx, string(name)); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return ErrClosed
	}
	p.Probes[name]++
	if err := p.Fail[name]; err != nil {
		return err
	}

	answer, err := p.answer(name, rawArgs)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	// Probes return JSON.stringify'd text, so a *string receives it verbatim.
	if s, ok := res.(*string); ok {
		*s = string(raw)
		return nil
	}
	return json.Unmarshal(raw, res)
}

func (p *Page) answer(name browser.ProbeName, rawArgs json.RawMessage) (any, error) {
	switch name {
	case browser.ProbeAlive:
		return true, nil
	case browser.ProbeSignals:
		return p.Signals, nil
	case browser.ProbeControls:
		var args browser.ControlsArgs
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, err
		}
		return p.controls(args.Scope), nil
	case browser.ProbeFrames:
		return p.Frames, nil
	case browser.ProbeFrameworks:
		var args browser.SelectorsArgs
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, err
		}
		for _, sel := range args.Selectors {
			if e := p.find(func(e *Element) bool { return e.matches(sel) }); e != nil {
				p.Events = append(p.Events, "framework:"+sel)
				p.click(e)
				return browser.ClickResult{Clicked: true, Tag: e.tag(), Reason: sel}, nil
			}
		}
		return browser.ClickResult{Reason: "no framework button"}, nil
	case browser.ProbeHideOverlay:
		var args browser.ControlsArgs
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, err
		}
		removed := 0
		if p.OnHideOverlay != nil {
			removed = p.OnHideOverlay(p, args.Scope)
		}
		return browser.Removal{Removed: removed}, nil
	case browser.ProbeRemoveAds:
		removed := 0
		if p.OnRemoveAds != nil {
			removed = p.OnRemoveAds(p)
		}
		return browser.Removal{Removed: removed}, nil
	case browser.ProbeClickText:
		var args browser.TextArgs
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, err
		}
		if e := p.findText(args.Text, args.Exact); e != nil {
			p.Events = append(p.Events, "text:"+args.Text)
			p.click(e)
			return browser.ClickResult{Clicked: true, Tag: e.tag()}, nil
		}
		return browser.ClickResult{Reason: "no match"}, nil
	case browser.ProbeClickPoint:
		var args browser.PointArgs
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, err
		}
		p.Events = append(p.Events, fmt.Sprintf("point:%.0f,%.0f", args.X, args.Y))
		if e := p.at(args.X, args.Y); e != nil {
			p.click(e)
			return browser.ClickResult{Clicked: true, Tag: e.tag()}, nil
		}
		return browser.ClickResult{Reason: "no element at point"}, nil
	case browser.ProbeRect:
		var args browser.SelectorArgs
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, err
		}
		if args.Selector == "" {
			return p.Viewport, nil
		}
		if e := p.find(func(e *Element) bool { return e.matches(args.Selector) }); e != nil {
			return e.Rect, nil
		}
		return browser.Rect{}, nil
	case browser.ProbeDispatchKey:
		var args browser.KeyArgs
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, err
		}
		p.Events = append(p.Events, "dispatch:"+args.Key)
		if p.OnKey != nil {
			p.OnKey(p, args.Key)
		}
		return true, nil
	}
	return nil, fmt.Errorf("browsertest: unknown probe %q", name)
}

func (p *Page) controls(scope browser.Scope) []browser.Control {
	out := []browser.Control{}
	for _, e := range p.Elements {
		if e.Hidden || !e.inScope(scope) {
			continue
		}
		out = append(out, browser.Control{
			Text:      e.Text,
			Tag:       e.tag(),
			Selector:  e.Selector(),
			InOverlay: e.InOverlay,
			Rect:      e.Rect,
			Frame:     e.Frame,
		})
	}
	return out
}

func (p *Page) find(fn func(*Element) bool) *Element {
	for _, e := range p.Elements {
		if !e.Hidden && fn(e) {
			return e
		}
	}
	return nil
}

// findText picks the visible element with the shortest matching text.
func (p *Page) findText(text string, exact bool) *Element {
	want := strings.ToLower(strings.TrimSpace(text))
	if want == "" {
		return nil
	}
	var best *Element
	for _, e := range p.Elements {
		if e.Hidden {
			continue
		}
		got := strings.ToLower(strings.TrimSpace(e.Text))
		if (exact && got == want) || (!exact && strings.Contains(got, want)) {
			if best == nil || len(got) < len(strings.TrimSpace(best.Text)) {
				best = e
			}
		}
	}
	return best
}

// at returns the last-added visible element containing the point.
func (p *Page) at(x, y float64) *Element {
	for i := len(p.Elements) - 1; i >= 0; i-- {
		e := p.Elements[i]
		if e.Hidden || e.Rect.Empty() {
			continue
		}
		r := e.Rect
		if x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height {
			return e
		}
	}
	return nil
}

func (p *Page) click(e *Element) {
	if e.OnClick != nil {
		e.OnClick(p)
	}
}

// Click implements browser.Session.
func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.delay(ctx, "click"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return ErrClosed
	}
	e := p.find(func(e *Element) bool { return e.matches(selector) })
	if e == nil {
		return fmt.Errorf("browsertest: no element matches %s", selector)
	}
	p.Events = append(p.Events, "click:"+selector)
	p.click(e)
	return nil
}

// KeyPress implements browser.Session.
func (p *Page) KeyPress(ctx context.Context, key string) error {
	if err := p.delay(ctx, "key"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return ErrClosed
	}
	if p.KeyErr != nil {
		return p.KeyErr
	}
	p.Events = append(p.Events, "key:"+key)
	if p.OnKey != nil {
		p.OnKey(p, key)
	}
	return nil
}

// Screenshot implements browser.Session.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.delay(ctx, "screenshot"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return nil, ErrClosed
	}
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	p.Screenshots++
	return blankPNG(), nil
}

// Wait advances the page clock without sleeping, unless a "wait" delay is set.
func (p *Page) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.delay(ctx, "wait"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return ErrClosed
	}
	p.Waited += d
	if p.OnWait != nil {
		p.OnWait(p, d)
	}
	return nil
}

// ConsoleLogs implements browser.Session.
func (p *Page) ConsoleLogs() []browser.LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.Logs)
}

// ClickAt implements browser.PointClicker.
func (p *Page) ClickAt(ctx context.Context, x, y float64) error {
	if err := p.delay(ctx, "click"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return ErrClosed
	}
	p.Events = append(p.Events, fmt.Sprintf("point:%.0f,%.0f", x, y))
	if e := p.at(x, y); e != nil {
		p.click(e)
	}
	return nil
}

// ClickByText implements browser.TextClicker.
func (p *Page) ClickByText(ctx context.Context, text string, exact bool) (bool, error) {
	if err := p.delay(ctx, "click"); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return false, ErrClosed
	}
	e := p.findText(text, exact)
	if e == nil {
		return false, nil
	}
	p.Events = append(p.Events, "text:"+text)
	p.click(e)
	return true, nil
}

// SwitchToIframe implements browser.FrameSwitcher.
func (p *Page) SwitchToIframe(ctx context.Context, frame browser.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return ErrClosed
	}
	p.Events = append(p.Events, "switch:"+frame.Src)
	if p.OnSwitch != nil {
		p.OnSwitch(p, frame)
	}
	return nil
}

// Minimal hides every optional capability of s, leaving the bare Session.
func Minimal(s browser.Session) browser.Session {
	return minimal{s}
}

type minimal struct {
	s browser.Session
}

func (m minimal) Navigate(ctx context.Context, url string) error { return m.s.Navigate(ctx, url) }
func (m minimal) Evaluate(ctx context.Context, script string, res any) error {
	return m.s.Evaluate(ctx, script, res)
}
func (m minimal) Click(ctx context.Context, selector string) error { return m.s.Click(ctx, selector) }
func (m minimal) KeyPress(ctx context.Context, key string) error   { return m.s.KeyPress(ctx, key) }
func (m minimal) Screenshot(ctx context.Context) ([]byte, error)  { return m.s.Screenshot(ctx) }
func (m minimal) Wait(ctx context.Context, d time.Duration) error { return m.s.Wait(ctx, d) }
func (m minimal) ConsoleLogs() []browser.LogEntry                 { return m.s.ConsoleLogs() }

var (
	pngOnce sync.Once
	pngData []byte
)

func blankPNG() []byte {
	pngOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		for x := 0; x < 4; x++ {
			for y := 0; y < 4; y++ {
				img.Set(x, y, color.RGBA{R: 30, G: 30, B: 30, A: 255})
			}
		}
		var buf bytes.Buffer
		_ = png.Encode(&buf, img)
		pngData = buf.Bytes()
	})
	return pngData
}
