package export

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/veritas/pkg/types"
)

// Risk thresholds on the truth score.
const (
	highRiskBelow   = 0.25
	mediumRiskBelow = 0.5
)

// Classify maps a truth score to a risk level.
func Classify(score float64) types.RiskLevel {
	switch {
	case score < highRiskBelow:
		return types.RiskHigh
	case score < mediumRiskBelow:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}

// TopMoments selects up to limit temporally isolated high-risk points.
//
// Points are visited from the lowest truth score upwards. Low-risk points are
// skipped, and a point is kept only when it lies more than window away from
// the previously kept point. Each moment carries the transcript segment whose
// start is nearest to it. Snapshots are not filled in.
func TopMoments(points []types.TimelinePoint, transcript []types.TranscriptSegment, limit int, window time.Duration) []types.TopMoment {
	if len(points) == 0 || limit <= 0 {
		return nil
	}
	sorted := slices.Clone(points)
	slices.SortStableFunc(sorted, func(a, b types.TimelinePoint) int {
		return cmp.Compare(a.Score, b.Score)
	})

	var (
		out      []types.TopMoment
		lastKept time.Time
		haveKept bool
	)
	for _, p := range sorted {
		level := Classify(p.Score)
		if level == types.RiskLow {
			continue
		}
		if haveKept && absDuration(p.At.Sub(lastKept)) <= window {
			continue
		}
		out = append(out, types.TopMoment{
			Start:  p.At.Local().Format(time.TimeOnly),
			Text:   nearestText(transcript, p.At),
			Risk:   fmt.Sprintf("%.2f (%s)", p.Score, level),
			Level:  level,
			Score:  p.Score,
			TimeMS: p.At.UnixMilli(),
		})
		lastKept, haveKept = p.At, true
		if len(out) >= limit {
			break
		}
	}
	return out
}

func nearestText(segments []types.TranscriptSegment, at time.Time) string {
	var (
		best     string
		bestDiff time.Duration = -1
	)
	for _, s := range segments {
		d := absDuration(s.Start.Sub(at))
		if bestDiff < 0 || d < bestDiff {
			best, bestDiff = s.Text, d
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Average returns the mean timeline score, falling back to live when the
// timeline is empty. It returns nil when neither is available.
func Average(points []types.TimelinePoint, live *float64) *float64 {
	if len(points) == 0 {
		return live
	}
	var sum float64
	for _, p := range points {
		sum += p.Score
	}
	avg := sum / float64(len(points))
	return &avg
}
