// Package status provides a thread-safe tracker of measurement outcomes for a
// run of the sensor. It is read by the reporting side while the measuring
// loop updates it.
package status

import (
	"errors"
	"sync"
	"time"

	"github.com/hankb/hcsr04/internal/sensor"
)

// Config contains run configuration for display.
type Config struct {
	Chip          string
	Trigger       int
	Echo          int
	Backend       string
	PulseHighUs   int64
	SettleUs      int64
	TimeoutMs     int64
	SpeedOfSound  float64
	Unit          string
	ReadingsLimit int // 0 = unbounded
}

// Counts tallies cycle outcomes. Timeouts and missed edges are kept apart
// since they point at different faults: a silent sensor versus noise.
type Counts struct {
	Readings        int
	TimedOut        int
	MissedEdge      int
	InvalidInterval int
	Fatal           int
}

// Cycles returns the total number of cycles recorded.
func (c Counts) Cycles() int {
	return c.Readings + c.TimedOut + c.MissedEdge + c.InvalidInterval + c.Fatal
}

// Snapshot is a point-in-time view of run state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Counts    Counts
	Last      *sensor.Reading
	LastError string
	Recent    []sensor.Reading
	StartTime time.Time
	Now       time.Time
	Config    Config
}

// Uptime returns the duration since the run started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable run state behind an RWMutex.
type Tracker struct {
	mu        sync.RWMutex
	counts    Counts
	last      *sensor.Reading
	lastError string
	recent    *window
	startTime time.Time
	cfg       Config
	now       func() time.Time
}

// DefaultWindow is the number of recent readings kept for statistics.
const DefaultWindow = 32

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		recent:    newWindow(DefaultWindow),
		startTime: startTime,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Record classifies one cycle outcome.
func (t *Tracker) Record(r sensor.Reading, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err == nil {
		t.counts.Readings++
		rc := r
		t.last = &rc
		t.recent.push(r)
		return
	}

	t.lastError = err.Error()
	switch {
	case errors.Is(err, sensor.ErrTimedOut):
		t.counts.TimedOut++
	case errors.Is(err, sensor.ErrMissedEdge):
		t.counts.MissedEdge++
	case errors.Is(err, sensor.ErrInvalidInterval):
		t.counts.InvalidInterval++
	default:
		t.counts.Fatal++
	}
}

// Snapshot returns a point-in-time copy of the run state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := Snapshot{
		Counts:    t.counts,
		LastError: t.lastError,
		Recent:    t.recent.items(),
		StartTime: t.startTime,
		Config:    t.cfg,
	}
	if t.last != nil {
		last := *t.last
		s.Last = &last
	}
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}

// Stats summarises the distances in a window of readings.
type Stats struct {
	N    int
	Min  float64
	Max  float64
	Mean float64
}

// RecentStats computes statistics over the snapshot's recent readings.
func (s Snapshot) RecentStats() Stats {
	var st Stats
	for i, r := range s.Recent {
		if i == 0 || r.Distance < st.Min {
			st.Min = r.Distance
		}
		if i == 0 || r.Distance > st.Max {
			st.Max = r.Distance
		}
		st.Mean += r.Distance
		st.N++
	}
	if st.N > 0 {
		st.Mean /= float64(st.N)
	}
	return st
}
