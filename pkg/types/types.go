// Package types defines the shared types used across all Veritas packages.
//
// These types form the lingua franca between the streaming ingest client, the
// perception loop, the fusion aggregator and the session exporter. Each package
// defines its own domain types, but cross-cutting data structures live here to
// avoid circular imports.
package types

import (
	"encoding/json"
	"math"
	"time"
)

// Modality names one independent signal channel feeding the fusion score.
type Modality string

const (
	ModalityFace  Modality = "face"
	ModalityVoice Modality = "voice"
	ModalityText  Modality = "text"
)

// Modalities lists every modality in canonical order.
var Modalities = []Modality{ModalityFace, ModalityVoice, ModalityText}

// Face expression categories produced by the perception loop. Raw detector
// output is grouped into exactly these six categories.
const (
	EmotionNeutral   = "neutral"
	EmotionHappy     = "happy"
	EmotionSad       = "sad"
	EmotionAngry     = "angry"
	EmotionDisgusted = "disgusted"
	EmotionFearful   = "fearful"
)

// FaceEmotions lists the six face categories in display order.
var FaceEmotions = []string{
	EmotionNeutral, EmotionHappy, EmotionSad, EmotionAngry, EmotionDisgusted, EmotionFearful,
}

// Voice emotion labels as reported by the voice-emotion service.
const (
	VoiceNeutral = "neu"
	VoiceHappy   = "hap"
	VoiceSad     = "sad"
	VoiceAngry   = "ang"
)

// VoiceEmotions lists the voice categories in display order.
var VoiceEmotions = []string{VoiceNeutral, VoiceHappy, VoiceSad, VoiceAngry}

// Transcript labels reported by the text-sentiment service.
const (
	LabelTruthful  = "truthful"
	LabelDeceptive = "deceptive"
	LabelNeutral   = "neutral"
)

// EmotionScore is one category of a face emotion distribution. Probability is
// a percentage in [0, 100].
type EmotionScore struct {
	Emotion     string  `json:"emotion"`
	Probability float64 `json:"probability"`
}

// EmotionSample is one classifier output for one modality at one instant.
// Values are probabilities; the unit (fraction or percentage) is fixed per
// modality.
type EmotionSample struct {
	Modality Modality
	Scores   map[string]float64
	At       time.Time
}

// TranscriptSegment is one finalized speech utterance together with its text
// sentiment.
type TranscriptSegment struct {
	// Text is the trimmed utterance.
	Text string

	// Label is the text-sentiment label, lower-cased (truthful, deceptive, ...).
	Label string

	// Score is the label confidence in [0, 1]. It is only meaningful when
	// Scored is set.
	Score  float64
	Scored bool

	// Start is the arrival time of the utterance.
	Start time.Time
}

// transcriptJSON is the wire form of a [TranscriptSegment]. Start is epoch
// milliseconds so that report renderers can correlate it with timeline points.
type transcriptJSON struct {
	Text  string   `json:"text"`
	Label string   `json:"label,omitempty"`
	Score *float64 `json:"score"`
	Start int64    `json:"start"`
}

// MarshalJSON implements [json.Marshaler].
func (s TranscriptSegment) MarshalJSON() ([]byte, error) {
	w := transcriptJSON{
		Text:  s.Text,
		Label: s.Label,
		Start: s.Start.UnixMilli(),
	}
	if s.Scored {
		w.Score = &s.Score
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements [json.Unmarshaler].
func (s *TranscriptSegment) UnmarshalJSON(data []byte) error {
	var w transcriptJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = TranscriptSegment{Text: w.Text, Label: w.Label, Start: time.UnixMilli(w.Start)}
	if w.Score != nil {
		s.Score, s.Scored = *w.Score, true
	}
	return nil
}

// ModalityVector is a normalized [truthWeight, lieWeight] pair. The values need
// not sum to one. A nil vector means the modality is absent.
type ModalityVector []float64

// Valid reports whether v has exactly two finite components. An invalid vector
// must be treated as "modality not present", never as zero.
func (v ModalityVector) Valid() bool {
	if len(v) != 2 {
		return false
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Truth returns the truth weight. The vector must be valid.
func (v ModalityVector) Truth() float64 { return v[0] }

// Lie returns the lie weight. The vector must be valid.
func (v ModalityVector) Lie() float64 { return v[1] }

// FusionResult is one fusion-service response.
type FusionResult struct {
	// DeceptionScore is the aggregated deception probability in [0, 1].
	DeceptionScore float64

	// Contributions maps each modality to its non-negative server-reported weight.
	// Weights are independent; they are not guaranteed to sum to one.
	Contributions map[Modality]float64
}

// TruthScore returns 1 - DeceptionScore.
func (r FusionResult) TruthScore() float64 { return 1 - r.DeceptionScore }

// ConfidenceLabel is the human-readable verdict derived from a deception score.
type ConfidenceLabel string

const (
	ConfidenceHighTruthful  ConfidenceLabel = "High Confidence - Truthful"
	ConfidenceLikelyTruth   ConfidenceLabel = "Likely Truthful"
	ConfidenceLikelyDecept  ConfidenceLabel = "Likely Deceptive"
	ConfidenceHighDeceptive ConfidenceLabel = "High Confidence - Deceptive"
)

// FusionReport is the aggregator's view of the latest accepted fusion result.
type FusionReport struct {
	DeceptionScore float64              `json:"deception_score"`
	TruthScore     float64              `json:"truth_score"`
	Label          ConfidenceLabel      `json:"label"`
	Contributions  map[Modality]float64 `json:"contributions"`

	// Contributing lists modalities that are locally valid and carry a weight
	// above the aggregator's epsilon, in canonical order.
	Contributing []Modality `json:"contributing"`

	// Primary is the contributing modality with the largest weight, or empty.
	Primary Modality `json:"primary,omitempty"`

	At time.Time `json:"at"`
}

// TimelinePoint is one accepted fusion result on the session trend.
type TimelinePoint struct {
	At    time.Time
	Score float64
}

type timelinePointJSON struct {
	Time  int64   `json:"time"`
	Score float64 `json:"score"`
}

// MarshalJSON implements [json.Marshaler]; time is epoch milliseconds.
func (p TimelinePoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(timelinePointJSON{Time: p.At.UnixMilli(), Score: p.Score})
}

// UnmarshalJSON implements [json.Unmarshaler].
func (p *TimelinePoint) UnmarshalJSON(data []byte) error {
	var w timelinePointJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = TimelinePoint{At: time.UnixMilli(w.Time), Score: w.Score}
	return nil
}

// RiskLevel classifies a timeline point for report highlights.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "High"
	RiskMedium RiskLevel = "Medium"
	RiskLow    RiskLevel = "Low"
)

// TopMoment is an exported highlight: a temporally isolated high-risk reading.
type TopMoment struct {
	// Start is the wall-clock time of the moment formatted as HH:MM:SS.
	Start string `json:"start"`

	// Text is the transcript segment nearest in time, or empty.
	Text string `json:"text"`

	// Risk is the score and level, e.g. "0.12 (High)".
	Risk string `json:"risk"`

	Level RiskLevel `json:"level"`
	Score float64   `json:"score"`

	// TimeMS is the absolute moment timestamp in epoch milliseconds.
	TimeMS int64 `json:"time_ms"`

	// Snapshot is an optional PNG data URL captured at the moment's offset.
	Snapshot *string `json:"video_snippet"`
}

// Report is the payload handed to the external report-rendering service.
type Report struct {
	SessionID             string              `json:"session_id"`
	Timestamp             time.Time           `json:"timestamp"`
	FusionScore           *float64            `json:"fusion_score"`
	Timeline              []TimelinePoint     `json:"timeline"`
	Transcript            []TranscriptSegment `json:"transcript"`
	TranscriptCapitalized []TranscriptSegment `json:"transcript_capitalized"`
	TopMoments            []TopMoment         `json:"top_moments"`
	Thumbnail             *string             `json:"thumbnail"`
	TimelineChart         *string             `json:"timeline_chart"`
	VideoURL              *string             `json:"video_url"`
}
