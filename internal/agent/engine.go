package agent

import (
	"time"

	"github.com/dreamup/playtest/internal/browser"
	"go.uber.org/zap"
)

// Options tunes the engine. Zero fields take the DefaultOptions value.
type Options struct {
	// SettleDelay is waited after every activation before re-classifying;
	// negative disables it
	SettleDelay time.Duration
	// ClassifyTimeout bounds each probe and native input call
	ClassifyTimeout time.Duration
	// MaxResolveDepth bounds overlay resolution recursion
	MaxResolveDepth int
	// LevelCadence is how many actions run between navigator checks
	LevelCadence int
	// LevelAdvanceCap is the most levels advanced in one run
	LevelAdvanceCap int
	// FirstKeyDelay is waited before the first press of a keypress action
	FirstKeyDelay time.Duration
	// RepeatKeyDelay is waited before every later press
	RepeatKeyDelay time.Duration
	// KeyMap overrides the default WASD remap
	KeyMap map[string]string
}

// DefaultOptions returns the standard engine tuning
func DefaultOptions() Options {
	return Options{
		SettleDelay:     time.Second,
		ClassifyTimeout: 5 * time.Second,
		MaxResolveDepth: 3,
		LevelCadence:    4,
		LevelAdvanceCap: 2,
		FirstKeyDelay:   400 * time.Millisecond,
		RepeatKeyDelay:  300 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SettleDelay == 0 {
		o.SettleDelay = d.SettleDelay
	}
	if o.ClassifyTimeout <= 0 {
		o.ClassifyTimeout = d.ClassifyTimeout
	}
	if o.MaxResolveDepth == 0 {
		o.MaxResolveDepth = d.MaxResolveDepth
	}
	if o.LevelCadence == 0 {
		o.LevelCadence = d.LevelCadence
	}
	if o.LevelAdvanceCap == 0 {
		o.LevelAdvanceCap = d.LevelAdvanceCap
	}
	if o.FirstKeyDelay == 0 {
		o.FirstKeyDelay = d.FirstKeyDelay
	}
	if o.RepeatKeyDelay == 0 {
		o.RepeatKeyDelay = d.RepeatKeyDelay
	}
	return o
}

// Engine bundles the components that share one session for one run.
// Components are not safe for use by more than one run at a time.
type Engine struct {
	Classifier  *Classifier
	Resolver    *Resolver
	Gatekeepers *Gatekeepers
	Navigator   *Navigator
	Executor    *Executor

	in *interactor
}

// NewEngine wires the engine over session. A nil evidence sink discards
// screenshots and a nil logger discards logs.
func NewEngine(session browser.Session, evidence EvidenceSink, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	in := newInteractor(session, evidence, opts, logger.Named("agent"))
	classifier := newClassifier(in)
	resolver := newResolver(in, classifier)
	navigator := newNavigator(in, classifier)
	gatekeepers := newGatekeepers(in, classifier)
	return &Engine{
		Classifier:  classifier,
		Resolver:    resolver,
		Gatekeepers: gatekeepers,
		Navigator:   navigator,
		Executor:    newExecutor(in, classifier, gatekeepers, resolver, navigator),
		in:          in,
	}
}

// Options returns the effective tuning after defaults were applied
func (e *Engine) Options() Options {
	return e.in.opts
}

// Attempts returns every resolution attempt recorded so far, in order
func (e *Engine) Attempts() []AttemptRecord {
	return e.in.trail.snapshot()
}
