// Package activity combines lifecycle event sinks.
package activity

import (
	"context"
	"errors"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

// Fanout delivers each event to every sink and joins their errors. A failing
// sink does not stop delivery to the rest.
type Fanout struct {
	sinks []domain.ActivityPublisher
}

var _ domain.ActivityPublisher = (*Fanout)(nil)

// NewFanout drops nil sinks.
func NewFanout(sinks ...domain.ActivityPublisher) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *Fanout) Publish(ctx context.Context, event domain.ActivityEvent) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len reports how many sinks are attached.
func (f *Fanout) Len() int { return len(f.sinks) }

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, domain.ActivityEvent) error { return nil }
