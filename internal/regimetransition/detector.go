// Package regimetransition implements the regime transition detector: it
// smooths a noisy per-day raw regime label into a sticky confirmed label,
// refusing to flip on single-day whipsaws, restyled after the
// mutex-guarded, zerolog-logged detector pattern in this repo's
// market-state components.
package regimetransition

import (
	"sync"

	"github.com/rs/zerolog"
)

// DefaultSmoothingDays is the number of consecutive observations of the
// same new label required before the confirmed label flips to it.
const DefaultSmoothingDays = 5

// Label is one of the three regime classifications the detector smooths
// over. Spec.md §3 fixes this set; the detector itself is label-agnostic,
// but we make the contract explicit here rather than accept a bare string.
type Label string

const (
	RiskOn  Label = "RISK_ON"
	Neutral Label = "NEUTRAL"
	RiskOff Label = "RISK_OFF"
)

type observation struct {
	label      Label
	confidence float64
	date       string
}

// TransitionState is the introspection snapshot returned by
// GetTransitionState, mirroring get_transition_state()'s dict shape.
type TransitionState struct {
	CurrentRegime    Label
	HasCurrentRegime bool
	PendingRegime    Label
	HasPendingRegime bool
	ConsecutiveDays  int
	IsTransitioning  bool
}

// Detector owns one process-local regime history, a single owner per
// process, not shared across threads — the mutex here is a defense against
// accidental concurrent use, not an invitation to share one Detector
// across goroutines.
type Detector struct {
	mu             sync.Mutex
	smoothingDays  int
	history        []observation
	confirmed      Label
	hasConfirmed   bool
	log            zerolog.Logger
}

// New constructs a Detector with the given smoothing window. A
// non-positive smoothingDays falls back to DefaultSmoothingDays.
func New(smoothingDays int, log zerolog.Logger) *Detector {
	if smoothingDays <= 0 {
		smoothingDays = DefaultSmoothingDays
	}
	return &Detector{
		smoothingDays: smoothingDays,
		log:           log.With().Str("component", "regime_transition_detector").Logger(),
	}
}

// Update records a new observation and returns the smoothed confirmed
// label. The first observation is accepted immediately; subsequent flips
// require smoothingDays consecutive observations of the new raw label.
func (d *Detector) Update(raw Label, confidence float64, date string) Label {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append(d.history, observation{label: raw, confidence: confidence, date: date})

	if !d.hasConfirmed {
		d.confirmed = raw
		d.hasConfirmed = true
		return raw
	}

	if raw == d.confirmed {
		return d.confirmed
	}

	recent := d.history
	if len(recent) > d.smoothingDays {
		recent = recent[len(recent)-d.smoothingDays:]
	}
	if len(recent) >= d.smoothingDays && allEqual(recent, raw) {
		d.log.Info().
			Str("from", string(d.confirmed)).
			Str("to", string(raw)).
			Str("date", date).
			Msg("regime confirmed label flipped")
		d.confirmed = raw
	}

	return d.confirmed
}

func allEqual(obs []observation, label Label) bool {
	for _, o := range obs {
		if o.label != label {
			return false
		}
	}
	return true
}

// Reset clears history and the confirmed label.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = nil
	d.confirmed = ""
	d.hasConfirmed = false
}

// GetTransitionState returns the current/pending regime and how many
// consecutive days the pending regime has held, counted backwards from the
// tail of history.
func (d *Detector) GetTransitionState() TransitionState {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.history) == 0 {
		return TransitionState{}
	}

	latestRaw := d.history[len(d.history)-1].label
	if latestRaw == d.confirmed {
		return TransitionState{CurrentRegime: d.confirmed, HasCurrentRegime: true}
	}

	consecutive := 0
	for i := len(d.history) - 1; i >= 0; i-- {
		if d.history[i].label == latestRaw {
			consecutive++
		} else {
			break
		}
	}

	return TransitionState{
		CurrentRegime:    d.confirmed,
		HasCurrentRegime: true,
		PendingRegime:    latestRaw,
		HasPendingRegime: true,
		ConsecutiveDays:  consecutive,
		IsTransitioning:  true,
	}
}
