package app

import (
	"github.com/MrWong99/veritas/internal/export"
	"github.com/MrWong99/veritas/internal/ingest"
	"github.com/MrWong99/veritas/internal/perception"
	"github.com/MrWong99/veritas/internal/resilience"
	"github.com/MrWong99/veritas/internal/vector"
	"github.com/MrWong99/veritas/pkg/types"
)

// Status is a point-in-time view of the running session.
type Status struct {
	// Connection is the ingest link state, or "disabled".
	Connection      string `json:"connection"`
	ConnectionError string `json:"connection_error,omitempty"`
	Attempts        int    `json:"reconnect_attempts"`

	// Caption is the latest interim transcript.
	Caption string `json:"caption,omitempty"`

	// Vectors are the modality vectors last handed to the aggregator.
	Vectors map[types.Modality]types.ModalityVector `json:"vectors"`

	Face       []types.EmotionScore `json:"face"`
	Voice      map[string]float64   `json:"voice"`
	Transcript []SegmentStatus      `json:"transcript"`

	Fusion *types.FusionReport `json:"fusion"`

	// Shares are the fusion contributions scaled to sum to one, for
	// proportional display.
	Shares   map[types.Modality]float64 `json:"shares,omitempty"`
	Timeline []types.TimelinePoint      `json:"timeline"`

	// Average is the mean truth score of the timeline, or the live score
	// when the timeline is empty.
	Average *float64 `json:"average"`

	Perception *perception.Stats       `json:"perception,omitempty"`
	Breakers   []resilience.EntryState `json:"breakers,omitempty"`
}

// SegmentStatus is a recent transcript unit with its speech-pattern risk.
type SegmentStatus struct {
	Text  string   `json:"text"`
	Label string   `json:"label"`
	Score *float64 `json:"score"`
	Start int64    `json:"start"`

	// Deceptive is the probability that the unit is deceptive. It is nil
	// for an unscored unit.
	Deceptive *float64 `json:"deceptive"`
	Risk      string   `json:"risk"`
}

type breakerReporter interface {
	States() []resilience.EntryState
}

// Status returns the current session view. It is safe to call at any time.
func (a *App) Status() Status {
	st := Status{
		Connection: "disabled",
		Face:       []types.EmotionScore{},
		Transcript: []SegmentStatus{},
		Vectors:    a.aggregator.Vectors(),
		Fusion:     a.aggregator.Report(),
		Timeline:   a.aggregator.Timeline().Points(),
	}

	if c := a.client; c != nil {
		st.Connection = c.State().String()
		if err := c.Err(); err != nil && c.State() == ingest.StateError {
			st.ConnectionError = err.Error()
		}
		st.Attempts = c.Attempts()
		st.Caption = c.Caption()
		st.Voice = c.VoiceAverage()
		for _, seg := range c.Recent() {
			s := SegmentStatus{
				Text:  seg.Text,
				Label: seg.Label,
				Start: seg.Start.UnixMilli(),
			}
			p, risk, ok := export.SpeechRisk(seg)
			s.Risk = risk
			if ok {
				score := seg.Score
				s.Score, s.Deceptive = &score, &p
			}
			st.Transcript = append(st.Transcript, s)
		}
	}

	if l := a.loop; l != nil {
		if e := l.Emotions(); e != nil {
			st.Face = e
		}
		stats := l.Stats()
		st.Perception = &stats
	}

	var live *float64
	if st.Fusion != nil {
		v := st.Fusion.TruthScore
		live = &v
		st.Shares = vector.Normalize(st.Fusion.Contributions)
	}
	st.Average = export.Average(st.Timeline, live)

	st.Breakers = a.BreakerStates()
	return st
}

// BreakerStates reports the fusion backends' breaker states, or nil when the
// scorer has no breakers.
func (a *App) BreakerStates() []resilience.EntryState {
	if br, ok := a.providers.Scorer.(breakerReporter); ok {
		return br.States()
	}
	return nil
}

// Ingest returns the streaming ingest client, or nil when it is disabled.
func (a *App) Ingest() *ingest.Client { return a.client }
