package pulse

import "time"

// Machine tracks the edges of a single trigger/echo cycle.
// Not safe for concurrent use; one Machine belongs to one sensor.
type Machine struct {
	maxWidth time.Duration

	phase  Phase
	sent   time.Duration
	rising EdgeEvent
	// hasRising is set only when a rising edge was observed in this cycle.
	// A zero rising timestamp is legitimate so it cannot act as a marker.
	hasRising bool
	width     time.Duration
	last      EdgeEvent
}

// NewMachine creates an idle machine. Pulse widths above maxWidth are
// rejected as invalid; maxWidth <= 0 disables the upper bound.
func NewMachine(maxWidth time.Duration) *Machine {
	return &Machine{
		maxWidth: maxWidth,
		phase:    PhaseIdle,
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	return m.phase
}

// Triggered starts a new cycle after the trigger pulse was emitted at sent.
// Any evidence from a previous cycle is discarded.
func (m *Machine) Triggered(sent time.Duration) {
	m.phase = PhaseAwaitingRisingEdge
	m.sent = sent
	m.rising = EdgeEvent{}
	m.hasRising = false
	m.width = 0
	m.last = EdgeEvent{}
}

// Sent returns the send timestamp recorded by Triggered.
func (m *Machine) Sent() time.Duration {
	return m.sent
}

// Observe classifies an edge against the current phase and returns the
// resulting phase. Edges seen after the cycle ended are ignored.
func (m *Machine) Observe(evt EdgeEvent) Phase {
	if m.phase.Terminal() {
		return m.phase
	}
	m.last = evt

	switch m.phase {
	case PhaseIdle, PhaseAwaitingRisingEdge:
		if evt.Kind == Rising && m.phase == PhaseAwaitingRisingEdge {
			m.rising = evt
			m.hasRising = true
			m.phase = PhaseAwaitingFallingEdge
			return m.phase
		}
		// falling edge without a rising edge, or any edge before a trigger
		m.phase = PhaseMissedEdge

	case PhaseAwaitingFallingEdge:
		if evt.Kind != Falling || !m.hasRising {
			// re-trigger glitch
			m.phase = PhaseMissedEdge
			return m.phase
		}
		width := evt.Timestamp - m.rising.Timestamp
		if width <= 0 || (m.maxWidth > 0 && width > m.maxWidth) {
			m.width = width
			m.phase = PhaseInvalidInterval
			return m.phase
		}
		m.width = width
		m.phase = PhaseComplete
	}
	return m.phase
}

// Expire ends a cycle that is still waiting for an edge.
func (m *Machine) Expire() Phase {
	switch m.phase {
	case PhaseAwaitingRisingEdge, PhaseAwaitingFallingEdge:
		m.phase = PhaseTimedOut
	}
	return m.phase
}

// Width returns the pulse width computed by the last falling edge.
// Only meaningful in PhaseComplete or PhaseInvalidInterval.
func (m *Machine) Width() time.Duration {
	return m.width
}

// Rising returns the recorded rising edge, if any.
func (m *Machine) Rising() (EdgeEvent, bool) {
	return m.rising, m.hasRising
}

// LastEdge returns the most recently observed edge of the cycle.
func (m *Machine) LastEdge() EdgeEvent {
	return m.last
}
