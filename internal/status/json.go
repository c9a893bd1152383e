package status

import (
	"encoding/json"
	"time"
)

// SummaryJSON is the top-level JSON envelope for the run summary.
type SummaryJSON struct {
	Summary SummaryInner `json:"summary"`
}

// SummaryInner contains the summary details.
type SummaryInner struct {
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Counts        CountsJSON   `json:"counts"`
	Last          *ReadingJSON `json:"last,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
	Recent        StatsJSON    `json:"recent"`
	Config        ConfigJSON   `json:"config"`
}

// CountsJSON is the JSON representation of outcome counts.
type CountsJSON struct {
	Cycles          int `json:"cycles"`
	Readings        int `json:"readings"`
	TimedOut        int `json:"timed_out"`
	MissedEdge      int `json:"missed_edge"`
	InvalidInterval int `json:"invalid_interval"`
	Fatal           int `json:"fatal"`
}

// ReadingJSON is the JSON representation of a reading.
type ReadingJSON struct {
	PulseWidthSeconds float64 `json:"pulse_width_seconds"`
	Distance          float64 `json:"distance"`
	Unit              string  `json:"unit"`
}

// StatsJSON is the JSON representation of recent-reading statistics.
type StatsJSON struct {
	N    int     `json:"n"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// ConfigJSON is the JSON representation of run config.
type ConfigJSON struct {
	Chip         string  `json:"chip"`
	Trigger      int     `json:"trigger"`
	Echo         int     `json:"echo"`
	Backend      string  `json:"backend"`
	PulseHighUs  int64   `json:"pulse_high_us"`
	SettleUs     int64   `json:"settle_us"`
	TimeoutMs    int64   `json:"timeout_ms"`
	SpeedOfSound float64 `json:"speed_of_sound"`
	Unit         string  `json:"unit"`
	Count        int     `json:"count"`
}

func buildSummary(snap Snapshot) SummaryInner {
	st := snap.RecentStats()
	inner := SummaryInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Counts: CountsJSON{
			Cycles:          snap.Counts.Cycles(),
			Readings:        snap.Counts.Readings,
			TimedOut:        snap.Counts.TimedOut,
			MissedEdge:      snap.Counts.MissedEdge,
			InvalidInterval: snap.Counts.InvalidInterval,
			Fatal:           snap.Counts.Fatal,
		},
		LastError: snap.LastError,
		Recent:    StatsJSON{N: st.N, Min: st.Min, Max: st.Max, Mean: st.Mean},
		Config: ConfigJSON{
			Chip:         snap.Config.Chip,
			Trigger:      snap.Config.Trigger,
			Echo:         snap.Config.Echo,
			Backend:      snap.Config.Backend,
			PulseHighUs:  snap.Config.PulseHighUs,
			SettleUs:     snap.Config.SettleUs,
			TimeoutMs:    snap.Config.TimeoutMs,
			SpeedOfSound: snap.Config.SpeedOfSound,
			Unit:         snap.Config.Unit,
			Count:        snap.Config.ReadingsLimit,
		},
	}
	if snap.Last != nil {
		inner.Last = &ReadingJSON{
			PulseWidthSeconds: snap.Last.PulseWidthSeconds(),
			Distance:          snap.Last.Distance,
			Unit:              snap.Last.Unit,
		}
	}
	return inner
}

// FormatJSON returns the indented JSON summary of a run.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(SummaryJSON{Summary: buildSummary(snap)}, "", "  ")
	return data
}
