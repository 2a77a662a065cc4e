// Package mock provides a test double for the detector.Detector interface.
//
// Example:
//
//	d := &mock.Detector{DetectResult: &detector.Detection{
//	    Box:         image.Rect(10, 10, 60, 60),
//	    Expressions: map[string]float64{"neutral": 0.9},
//	}}
package mock

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/MrWong99/veritas/pkg/provider/detector"
)

var _ detector.Detector = (*Detector)(nil)

// Detector is a mock implementation of detector.Detector.
type Detector struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// DetectResult is returned by Detect. nil means no face.
	DetectResult *detector.Detection

	// DetectErr, if non-nil, is returned as the error from Detect.
	DetectErr error

	// Script, when non-empty, overrides DetectResult: call n returns
	// Script[n % len(Script)]. A nil entry is a miss.
	Script []*detector.Detection

	// Delay simulates classifier latency. Detect honours ctx while waiting.
	Delay time.Duration

	// --- Call records ---

	// DetectCallCount is the number of times Detect was called.
	DetectCallCount int

	// InFlight is the number of Detect calls currently executing and
	// MaxInFlight the highest value it reached.
	InFlight    int
	MaxInFlight int
}

// Detect records the call and returns the configured result.
func (d *Detector) Detect(ctx context.Context, _ image.Image) (*detector.Detection, error) {
	d.mu.Lock()
	n := d.DetectCallCount
	d.DetectCallCount++
	d.InFlight++
	d.MaxInFlight = max(d.MaxInFlight, d.InFlight)
	delay := d.Delay
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.InFlight--
		d.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DetectErr != nil {
		return nil, d.DetectErr
	}
	if len(d.Script) > 0 {
		return d.Script[n%len(d.Script)], nil
	}
	return d.DetectResult, nil
}

// SetResult replaces DetectResult while a test is running.
func (d *Detector) SetResult(r *detector.Detection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DetectResult = r
}

// SetDelay replaces Delay while a test is running.
func (d *Detector) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Delay = delay
}

// Calls returns DetectCallCount.
func (d *Detector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DetectCallCount
}

// PeakInFlight returns MaxInFlight.
func (d *Detector) PeakInFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.MaxInFlight
}
