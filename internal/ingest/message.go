package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Inbound message type discriminators.
const (
	TypeTextSentiment  = "text_sentiment"
	TypeVoiceSentiment = "voice_sentiment"
	TypePartial        = "partial"
)

// ErrMalformed is wrapped by [ParseMessage] for payloads that cannot be used.
var ErrMalformed = errors.New("ingest: malformed message")

// Message is one inbound classifier message. The concrete type is one of
// [TextSentiment], [VoiceSentiment], [Partial] or [Unknown].
type Message interface {
	// Type returns the wire discriminator.
	Type() string

	isMessage()
}

// TextSentiment is a finalized transcript unit with its sentiment.
type TextSentiment struct {
	Text  string
	Label string
	Score float64

	// Scored is false when the frame carried no score; Score is then zero
	// and meaningless.
	Scored bool
}

// VoiceSentiment is a voice-emotion distribution. Values are fractions.
type VoiceSentiment struct {
	Emotion map[string]float64

	// SpeechRatio is the share of the analysis window containing speech, when
	// reported.
	SpeechRatio *float64

	// Error is set when the service fell back to a neutral distribution.
	Error string
}

// Partial is an interim transcript. It is shown as a live caption only.
type Partial struct {
	Text string
}

// Unknown is any message with an unrecognised type. It is ignored.
type Unknown struct {
	Kind string
}

func (TextSentiment) Type() string  { return TypeTextSentiment }
func (VoiceSentiment) Type() string { return TypeVoiceSentiment }
func (Partial) Type() string        { return TypePartial }
func (u Unknown) Type() string      { return u.Kind }

func (TextSentiment) isMessage()  {}
func (VoiceSentiment) isMessage() {}
func (Partial) isMessage()        {}
func (Unknown) isMessage()        {}

// wireMessage is the union of all inbound fields.
type wireMessage struct {
	Type        string             `json:"type"`
	Text        string             `json:"text"`
	Label       string             `json:"label"`
	Score       *float64           `json:"score"`
	Emotion     map[string]float64 `json:"emotion"`
	SpeechRatio *float64           `json:"speech_ratio"`
	Error       string             `json:"error"`
	Partial     string             `json:"partial"`
}

// ParseMessage decodes one inbound frame. Errors wrap [ErrMalformed].
func ParseMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	switch w.Type {
	case TypeTextSentiment:
		text := strings.TrimSpace(w.Text)
		if text == "" {
			return nil, fmt.Errorf("%w: text_sentiment without text", ErrMalformed)
		}
		m := TextSentiment{
			Text:  text,
			Label: strings.ToLower(strings.TrimSpace(w.Label)),
		}
		if w.Score != nil {
			if s := *w.Score; s < 0 || s > 1 {
				return nil, fmt.Errorf("%w: text_sentiment score %v out of range", ErrMalformed, s)
			}
			m.Score, m.Scored = *w.Score, true
		}
		return m, nil

	case TypeVoiceSentiment:
		if len(w.Emotion) == 0 {
			return nil, fmt.Errorf("%w: voice_sentiment without emotion", ErrMalformed)
		}
		return VoiceSentiment{Emotion: w.Emotion, SpeechRatio: w.SpeechRatio, Error: w.Error}, nil

	case TypePartial:
		text := w.Text
		if text == "" {
			text = w.Partial
		}
		return Partial{Text: strings.TrimSpace(text)}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)

	default:
		return Unknown{Kind: w.Type}, nil
	}
}

// wordCount returns the number of whitespace-separated words in s.
func wordCount(s string) int {
	return len(strings.Fields(s))
}
