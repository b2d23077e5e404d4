package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Options configures the Chrome allocator
type Options struct {
	// Headless runs Chrome without a window
	Headless bool
	// ViewportWidth and ViewportHeight size the emulated viewport
	ViewportWidth  int
	ViewportHeight int
	// BlockAdHosts maps common ad and tracking domains to localhost
	BlockAdHosts bool
	// ExecPath overrides the Chrome binary lookup
	ExecPath string
}

// DefaultOptions returns the 1280x720 headless setup used for game runs
func DefaultOptions() Options {
	return Options{
		Headless:       true,
		ViewportWidth:  1280,
		ViewportHeight: 720,
		BlockAdHosts:   true,
	}
}

// ChromeSession drives one Chrome tab over the DevTools protocol. It
// implements Session plus every optional capability.
type ChromeSession struct {
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	opts        Options
	console     *consoleRecorder
	logger      *zap.Logger
}

var (
	_ Session       = (*ChromeSession)(nil)
	_ FrameSwitcher = (*ChromeSession)(nil)
	_ PointClicker  = (*ChromeSession)(nil)
	_ TextClicker   = (*ChromeSession)(nil)
)

// NewChromeSession launches Chrome and opens a tab
func NewChromeSession(opts Options, logger *zap.Logger) (*ChromeSession, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ViewportWidth <= 0 || opts.ViewportHeight <= 0 {
		opts.ViewportWidth, opts.ViewportHeight = 1280, 720
	}

	flags := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", opts.Headless), // Only disable GPU in headless mode
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-popup-blocking", false),
		// Hide automation detection
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
	)
	if opts.ExecPath != "" {
		flags = append(flags, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.BlockAdHosts {
		flags = append(flags, chromedp.Flag("host-rules", "MAP *.doubleclick.net 127.0.0.1, MAP *.googlesyndication.com 127.0.0.1, MAP *.googleadservices.com 127.0.0.1, MAP *.google-analytics.com 127.0.0.1"))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), flags...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	s := &ChromeSession{
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		opts:        opts,
		console:     newConsoleRecorder(),
		logger:      logger.Named("chrome"),
	}

	// Start the browser eagerly so launch failures surface here.
	if err := chromedp.Run(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(CanvasTrackerScript).Do(ctx)
		return err
	}))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to install canvas tracker: %w", err)
	}
	s.console.listen(ctx)

	return s, nil
}

// Close shuts down the tab and the browser process
func (s *ChromeSession) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

// run executes actions on the tab, bounded by the caller's ctx. The tab
// context carries the CDP target, so it stays the parent.
func (s *ChromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url and waits for the body to be ready
func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	err := s.run(ctx,
		chromedp.EmulateViewport(int64(s.opts.ViewportWidth), int64(s.opts.ViewportHeight)),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timeout while loading %s: %w", url, err)
		}
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Evaluate runs script and decodes the result into res
func (s *ChromeSession) Evaluate(ctx context.Context, script string, res any) error {
	if err := s.run(ctx, chromedp.Evaluate(script, res)); err != nil {
		return fmt.Errorf("failed to evaluate script: %w", err)
	}
	return nil
}

// Click waits for selector to be visible and clicks it
func (s *ChromeSession) Click(ctx context.Context, selector string) error {
	err := s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

// KeyPress sends a key down/up pair to the focused element
func (s *ChromeSession) KeyPress(ctx context.Context, key string) error {
	keyText, err := keyEventText(key)
	if err != nil {
		return err
	}
	if err := s.run(ctx, chromedp.KeyEvent(keyText)); err != nil {
		return fmt.Errorf("failed to press key %s: %w", key, err)
	}
	return nil
}

// Screenshot captures the viewport as PNG
func (s *ChromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx,
		chromedp.EmulateViewport(int64(s.opts.ViewportWidth), int64(s.opts.ViewportHeight)),
		chromedp.FullScreenshot(&buf, 100),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// Wait sleeps for d unless ctx ends first
func (s *ChromeSession) Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsoleLogs returns everything the page logged so far
func (s *ChromeSession) ConsoleLogs() []LogEntry {
	return s.console.entries()
}

// ClickAt dispatches a native left click at viewport coordinates
func (s *ChromeSession) ClickAt(ctx context.Context, x, y float64) error {
	if err := s.run(ctx, chromedp.MouseClickXY(x, y)); err != nil {
		return fmt.Errorf("failed to click at (%.0f, %.0f): %w", x, y, err)
	}
	return nil
}

// ClickByText finds elements whose normalized text matches and clicks the
// deepest one with a native mouse click.
func (s *ChromeSession) ClickByText(ctx context.Context, text string, exact bool) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, nil
	}

	var nodes []*cdp.Node
	err := s.run(ctx, chromedp.Nodes(textXPath(text, exact), &nodes, chromedp.BySearch, chromedp.AtLeast(0)))
	if err != nil {
		return false, fmt.Errorf("failed to search for text %q: %w", text, err)
	}
	if len(nodes) == 0 {
		return false, nil
	}

	// XPath returns document order, so the last match is the innermost.
	node := nodes[len(nodes)-1]
	if err := s.run(ctx, chromedp.MouseClickNode(node)); err != nil {
		return false, fmt.Errorf("failed to click text %q: %w", text, err)
	}
	return true, nil
}

// SwitchToIframe moves into a cross-origin game frame by loading its
// document as the top-level page. Same-origin frames are already swept by
// the page probes.
func (s *ChromeSession) SwitchToIframe(ctx context.Context, frame Frame) error {
	if frame.Src == "" {
		return fmt.Errorf("frame %d has no src", frame.Index)
	}
	s.logger.Info("Switching into game iframe.", zap.String("src", frame.Src), zap.Int("index", frame.Index))
	return s.Navigate(ctx, frame.Src)
}

const upperAlpha = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// textXPath matches clickable-looking elements by normalized text.
func textXPath(text string, exact bool) string {
	clickable := `self::button or self::a or @role='button' or self::input or self::span or self::div or self::li`
	norm := fmt.Sprintf(`translate(normalize-space(.), '%s', '%s')`, upperAlpha, strings.ToLower(upperAlpha))
	lit := xpathLiteral(strings.ToLower(text))
	if exact {
		return fmt.Sprintf(`//*[(%s) and %s=%s]`, clickable, norm, lit)
	}
	return fmt.Sprintf(`//*[(%s) and contains(%s, %s) and string-length(normalize-space(.)) < 100]`, clickable, norm, lit)
}

// xpathLiteral quotes s for XPath 1.0, which has no escape syntax.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+p+"'")
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
