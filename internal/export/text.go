package export

import (
	"strings"
	"unicode"

	"github.com/MrWong99/veritas/pkg/types"
)

// Speech-pattern risk levels.
const (
	SpeechHigh   = "HIGH"
	SpeechMedium = "MED"
	SpeechLow    = "LOW"

	// SpeechUnknown marks a segment that arrived without a score.
	SpeechUnknown = "N/A"
)

// SpeechRisk returns the deceptive probability of a transcript segment and
// its risk level. The probability is the score for a deceptive label and its
// complement otherwise. An unscored segment reports ok == false.
func SpeechRisk(seg types.TranscriptSegment) (p float64, risk string, ok bool) {
	if !seg.Scored {
		return 0, SpeechUnknown, false
	}
	p = seg.Score
	if !strings.EqualFold(seg.Label, types.LabelDeceptive) {
		p = 1 - seg.Score
	}
	p = min(max(p, 0), 1)
	switch {
	case p > 0.66:
		return p, SpeechHigh, true
	case p > 0.33:
		return p, SpeechMedium, true
	default:
		return p, SpeechLow, true
	}
}

// SentenceCase upper-cases the first letter of every sentence and the
// standalone pronoun "i". Speech recognisers emit lower-case text.
func SentenceCase(s string) string {
	runes := []rune(strings.TrimSpace(s))
	start := true
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r):
			if start {
				runes[i] = unicode.ToUpper(r)
				start = false
			} else if r == 'i' && isWordBoundary(runes, i-1) && isWordBoundary(runes, i+1) {
				runes[i] = 'I'
			}
		case r == '.' || r == '!' || r == '?':
			start = true
		}
	}
	return string(runes)
}

func isWordBoundary(runes []rune, i int) bool {
	if i < 0 || i >= len(runes) {
		return true
	}
	return !unicode.IsLetter(runes[i]) && !unicode.IsDigit(runes[i])
}

func capitalized(segments []types.TranscriptSegment) []types.TranscriptSegment {
	out := make([]types.TranscriptSegment, len(segments))
	for i, s := range segments {
		s.Text = SentenceCase(s.Text)
		out[i] = s
	}
	return out
}
