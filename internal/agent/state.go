package agent

// Phase is the coarse page state reported by the classifier
type Phase string

const (
	// PhasePlaying means gameplay has visibly begun
	PhasePlaying Phase = "playing"
	// PhaseBlocked means an overlay stands between the player and the game
	PhaseBlocked Phase = "blocked"
	// PhaseUnknown means no signal was conclusive, or detection failed
	PhaseUnknown Phase = "unknown"
)

// OverlayKind names what is blocking the game. The set is open: unrecognized
// modals are reported as OverlayGeneric.
type OverlayKind string

const (
	OverlayTutorial      OverlayKind = "tutorial"
	OverlayConsent       OverlayKind = "consent"
	OverlayAgeGate       OverlayKind = "age_gate"
	OverlayAd            OverlayKind = "ad"
	OverlayLevelComplete OverlayKind = "level_complete"
	OverlaySelectionMenu OverlayKind = "selection_menu"
	OverlayGeneric       OverlayKind = "generic"
)

// GameState is a classification of the page at one instant. It is computed
// fresh on every query and never cached.
type GameState struct {
	Phase   Phase       `json:"phase"`
	Overlay OverlayKind `json:"overlay,omitempty"`
}

// Playing returns the playing state
func Playing() GameState { return GameState{Phase: PhasePlaying} }

// Blocked returns a blocked state of the given kind
func Blocked(kind OverlayKind) GameState { return GameState{Phase: PhaseBlocked, Overlay: kind} }

// Unknown returns the inconclusive state
func Unknown() GameState { return GameState{Phase: PhaseUnknown} }

// IsPlaying reports PhasePlaying
func (s GameState) IsPlaying() bool { return s.Phase == PhasePlaying }

// IsBlocked reports PhaseBlocked
func (s GameState) IsBlocked() bool { return s.Phase == PhaseBlocked }

// IsUnknown reports PhaseUnknown or an unset state
func (s GameState) IsUnknown() bool { return s.Phase == PhaseUnknown || s.Phase == "" }

func (s GameState) String() string {
	if s.Phase == PhaseBlocked {
		return string(s.Phase) + "(" + string(s.Overlay) + ")"
	}
	if s.Phase == "" {
		return string(PhaseUnknown)
	}
	return string(s.Phase)
}
