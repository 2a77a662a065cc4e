// Package detector defines the boundary to an external face-expression
// classifier.
//
// The perception loop hands the detector a single video frame and receives
// either a [Detection] (a face bounding box plus raw expression probabilities)
// or nil when no face was found. Latency and accuracy of the classifier are the
// implementation's concern.
//
// Implementations must be safe for concurrent use.
package detector

import (
	"context"
	"image"
	"strings"
)

// Raw expression categories reported by classifiers. Grouping into the six
// display categories happens in the perception loop.
const (
	ExprNeutral   = "neutral"
	ExprHappy     = "happy"
	ExprSad       = "sad"
	ExprAngry     = "angry"
	ExprDisgusted = "disgusted"
	ExprFearful   = "fearful"
	ExprSurprised = "surprised"
)

// Detection is one detected face.
type Detection struct {
	// Box is the face bounding box in frame pixel coordinates.
	Box image.Rectangle

	// Expressions maps raw expression categories to probabilities in [0, 1].
	Expressions map[string]float64
}

// Detector is the abstraction over any face-expression classifier.
type Detector interface {
	// Detect classifies the most prominent face in frame. It returns (nil, nil)
	// when no face is present. A non-nil error means the invocation itself
	// failed; callers treat it as no detection for the current cycle.
	Detect(ctx context.Context, frame image.Image) (*Detection, error)
}

// NormalizeExpression maps common alternative category spellings onto the
// constants above ("fear" -> "fearful", "disgust" -> "disgusted", ...).
// Unknown names are returned lower-cased.
func NormalizeExpression(name string) string {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "fear":
		return ExprFearful
	case "disgust":
		return ExprDisgusted
	case "surprise":
		return ExprSurprised
	case "happiness", "joy":
		return ExprHappy
	case "sadness":
		return ExprSad
	case "anger":
		return ExprAngry
	default:
		return n
	}
}
