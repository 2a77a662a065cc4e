package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/veritas/internal/ingest"
	"github.com/MrWong99/veritas/internal/resilience"
	"github.com/MrWong99/veritas/pkg/media"
)

// ConnectionState is the part of the ingest client a readiness check needs.
type ConnectionState interface {
	State() ingest.State
	Err() error
}

// Ingest passes while the streaming link is connected.
func Ingest(c ConnectionState) Checker {
	return Checker{
		Name: "ingest",
		Check: func(context.Context) error {
			st := c.State()
			if st == ingest.StateConnected {
				return nil
			}
			if err := c.Err(); err != nil {
				return fmt.Errorf("%s: %w", st, err)
			}
			return fmt.Errorf("link is %s", st)
		},
	}
}

// Source passes while the capture source can deliver frames.
func Source(v media.VideoSource) Checker {
	return Checker{
		Name: "source",
		Check: func(context.Context) error {
			switch {
			case !v.Ready():
				return errors.New("not ready")
			case v.Ended():
				return errors.New("playback ended")
			}
			return nil
		},
	}
}

// Fusion passes while at least one fusion backend accepts calls.
func Fusion(states func() []resilience.EntryState) Checker {
	open := resilience.StateOpen.String()
	return Checker{
		Name: "fusion",
		Check: func(context.Context) error {
			all := states()
			for _, s := range all {
				if s.State != open {
					return nil
				}
			}
			if len(all) == 0 {
				return errors.New("no backend configured")
			}
			return fmt.Errorf("all %d backends open", len(all))
		},
	}
}
