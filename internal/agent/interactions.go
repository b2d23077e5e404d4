package agent

import (
	"fmt"
	"strings"
	"time"
)

// ActionType represents the type of interaction action
type ActionType string

const (
	// ActionClick performs a mouse click on an element or a point
	ActionClick ActionType = "click"
	// ActionKeypress simulates a keyboard key press
	ActionKeypress ActionType = "keypress"
	// ActionWait pauses execution for a specified duration
	ActionWait ActionType = "wait"
	// ActionScreenshot captures a screenshot at this point
	ActionScreenshot ActionType = "screenshot"
)

// Point is a click position normalized to 0..1 of a reference box
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Action represents a single interaction action to perform
type Action struct {
	// Type is the kind of action to execute
	Type ActionType `json:"type"`
	// Selector is the CSS selector for click actions. With Point set it names
	// the box the point is relative to; empty means the viewport.
	Selector string `json:"selector,omitempty"`
	// Point is the normalized click position for coordinate clicks
	Point *Point `json:"point,omitempty"`
	// Key is the keyboard key for keypress actions (e.g., "ArrowUp", "Space", "w")
	Key string `json:"key,omitempty"`
	// Repeat is how many times a keypress is sent; zero means once
	Repeat int `json:"repeat,omitempty"`
	// Duration is the wait time for wait actions
	Duration time.Duration `json:"duration,omitempty"`
	// Label names the evidence captured by screenshot actions
	Label string `json:"label,omitempty"`
	// Description is a human-readable description of this action
	Description string `json:"description,omitempty"`
}

// NewClickAction creates a new click action
func NewClickAction(selector, description string) Action {
	return Action{
		Type:        ActionClick,
		Selector:    selector,
		Description: description,
	}
}

// NewClickPointAction clicks at normalized (x, y) inside selector's box, or
// inside the viewport when selector is empty
func NewClickPointAction(selector string, x, y float64, description string) Action {
	return Action{
		Type:        ActionClick,
		Selector:    selector,
		Point:       &Point{X: x, Y: y},
		Description: description,
	}
}

// NewKeypressAction creates a new keypress action
func NewKeypressAction(key string, repeat int, description string) Action {
	return Action{
		Type:        ActionKeypress,
		Key:         key,
		Repeat:      repeat,
		Description: description,
	}
}

// NewWaitAction creates a new wait action
func NewWaitAction(duration time.Duration, description string) Action {
	return Action{
		Type:        ActionWait,
		Duration:    duration,
		Description: description,
	}
}

// NewScreenshotAction creates a new screenshot action
func NewScreenshotAction(label, description string) Action {
	return Action{
		Type:        ActionScreenshot,
		Label:       label,
		Description: description,
	}
}

// Validate checks the action is well formed
func (a Action) Validate() error {
	switch a.Type {
	case ActionClick:
		if a.Point == nil {
			if strings.TrimSpace(a.Selector) == "" {
				return fmt.Errorf("%w: click needs a selector or coordinates", ErrInvalidAction)
			}
			return nil
		}
		if a.Point.X < 0 || a.Point.X > 1 || a.Point.Y < 0 || a.Point.Y > 1 {
			return fmt.Errorf("%w: click coordinates (%g, %g) must be within 0..1", ErrInvalidAction, a.Point.X, a.Point.Y)
		}
	case ActionKeypress:
		if strings.TrimSpace(a.Key) == "" {
			return fmt.Errorf("%w: keypress needs a key", ErrInvalidAction)
		}
		if a.Repeat < 0 {
			return fmt.Errorf("%w: keypress repeat %d is negative", ErrInvalidAction, a.Repeat)
		}
	case ActionWait:
		if a.Duration < 0 {
			return fmt.Errorf("%w: wait duration %s is negative", ErrInvalidAction, a.Duration)
		}
	case ActionScreenshot:
	default:
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, a.Type)
	}
	return nil
}

func (a Action) String() string {
	switch a.Type {
	case ActionClick:
		if a.Point != nil {
			return fmt.Sprintf("click(%.2f,%.2f in %q)", a.Point.X, a.Point.Y, a.Selector)
		}
		return fmt.Sprintf("click(%s)", a.Selector)
	case ActionKeypress:
		return fmt.Sprintf("keypress(%s x%d)", a.Key, a.presses())
	case ActionWait:
		return fmt.Sprintf("wait(%s)", a.Duration)
	case ActionScreenshot:
		return fmt.Sprintf("screenshot(%s)", a.Label)
	}
	return string(a.Type)
}

func (a Action) presses() int {
	if a.Repeat <= 0 {
		return 1
	}
	return a.Repeat
}

// TimeoutPolicy bounds a run
type TimeoutPolicy struct {
	// Load bounds navigation to the game
	Load time.Duration `json:"load"`
	// PerAction bounds one action including its pre- and post-checks
	PerAction time.Duration `json:"per_action"`
	// TotalScript bounds the whole action script
	TotalScript time.Duration `json:"total_script"`
}

// DefaultTimeoutPolicy returns the standard 45s/30s/240s budgets
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		Load:        45 * time.Second,
		PerAction:   30 * time.Second,
		TotalScript: 240 * time.Second,
	}
}

// Validate checks every budget is positive and the total covers one action
func (p TimeoutPolicy) Validate() error {
	if p.Load <= 0 || p.PerAction <= 0 || p.TotalScript <= 0 {
		return fmt.Errorf("%w: budgets must be positive (load=%s per_action=%s total=%s)",
			ErrInvalidPolicy, p.Load, p.PerAction, p.TotalScript)
	}
	if p.TotalScript < p.PerAction {
		return fmt.Errorf("%w: total %s is shorter than per-action %s", ErrInvalidPolicy, p.TotalScript, p.PerAction)
	}
	return nil
}

// NewStandardGameScript is the script used when none is configured: settle,
// exercise arrows and space, and bracket it with screenshots.
func NewStandardGameScript() []Action {
	return []Action{
		NewWaitAction(2*time.Second, "Wait for game to fully load"),
		NewScreenshotAction("gameplay_start", "Capture gameplay started"),
		NewKeypressAction("ArrowUp", 2, "Press up arrow"),
		NewKeypressAction("ArrowRight", 2, "Press right arrow"),
		NewKeypressAction("Space", 1, "Press spacebar"),
		NewClickPointAction("", 0.5, 0.5, "Click the centre of the screen"),
		NewKeypressAction("ArrowDown", 2, "Press down arrow"),
		NewKeypressAction("ArrowLeft", 2, "Press left arrow"),
		NewWaitAction(2*time.Second, "Wait for gameplay actions"),
		NewScreenshotAction("gameplay_end", "Capture gameplay after input"),
	}
}

// OutcomeStatus is how a script run ended
type OutcomeStatus string

const (
	// OutcomeCompleted means every action ran (some may have failed softly)
	OutcomeCompleted OutcomeStatus = "completed"
	// OutcomeSessionClosed means the page went away and the run gave up quietly
	OutcomeSessionClosed OutcomeStatus = "session_closed"
	// OutcomeTimeout means a budget was exceeded
	OutcomeTimeout OutcomeStatus = "timeout"
)

// AttemptRecord is one entry in the resolution trail
type AttemptRecord struct {
	// Strategy names the resolver tier, gatekeeper or navigator step
	Strategy string `json:"strategy"`
	// Target is the control text or key that was activated
	Target string `json:"target,omitempty"`
	// Method is how the activation was delivered
	Method ActivationMethod `json:"method,omitempty"`
	// Succeeded reports whether the activation landed
	Succeeded bool `json:"succeeded"`
	// ResultingState is the classification after settling
	ResultingState GameState `json:"resulting_state"`
	// Timestamp records when the attempt finished
	Timestamp time.Time `json:"timestamp"`
}

// Outcome summarizes an executor run
type Outcome struct {
	Status         OutcomeStatus   `json:"status"`
	ActionsRun     int             `json:"actions_run"`
	ActionsFailed  int             `json:"actions_failed"`
	LevelsAdvanced int             `json:"levels_advanced"`
	Attempts       []AttemptRecord `json:"attempts,omitempty"`
	Duration       time.Duration   `json:"duration"`
}
