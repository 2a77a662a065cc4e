package perception

import (
	"slices"
	"time"
)

// recentLatencies is how many latencies feed Stats.RecentAvg.
const recentLatencies = 10

// Stats summarises detector performance since the loop started.
type Stats struct {
	Frames        int           `json:"frames"`
	Detections    int           `json:"detections"`
	AvgLatency    time.Duration `json:"avg_latency"`
	MinLatency    time.Duration `json:"min_latency"`
	MaxLatency    time.Duration `json:"max_latency"`
	RecentAvg     time.Duration `json:"recent_avg"`
	DetectionRate float64       `json:"detection_rate"`
}

type statsRecorder struct {
	frames     int
	detections int
	total      time.Duration
	min, max   time.Duration
	recent     []time.Duration
}

func (s *statsRecorder) record(latency time.Duration, detected bool) {
	s.frames++
	s.total += latency
	if s.frames == 1 || latency < s.min {
		s.min = latency
	}
	s.max = max(s.max, latency)
	if detected {
		s.detections++
	}
	s.recent = append(s.recent, latency)
	if len(s.recent) > recentLatencies {
		s.recent = slices.Delete(s.recent, 0, len(s.recent)-recentLatencies)
	}
}

func (s *statsRecorder) snapshot() Stats {
	out := Stats{
		Frames:     s.frames,
		Detections: s.detections,
		MinLatency: s.min,
		MaxLatency: s.max,
	}
	if s.frames == 0 {
		return out
	}
	out.AvgLatency = s.total / time.Duration(s.frames)
	out.DetectionRate = float64(s.detections) / float64(s.frames) * 100
	var sum time.Duration
	for _, d := range s.recent {
		sum += d
	}
	out.RecentAvg = sum / time.Duration(len(s.recent))
	return out
}
