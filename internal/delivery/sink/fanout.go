package sink

import (
	"context"
	"errors"

	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// Fanout forwards every record to each child in order. A failing child does
// not stop delivery to the others.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Name() string { return "fanout" }

// Sinks returns the children.
func (f *Fanout) Sinks() []Sink { return f.sinks }

func (f *Fanout) Observe(ctx context.Context, rec protov1.Record) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Observe(ctx, rec); err != nil {
			errs = append(errs, &Error{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// Provision provisions every child that needs it and stops at the first
// failure.
func (f *Fanout) Provision(ctx context.Context) error {
	for _, s := range f.sinks {
		if err := Provision(ctx, s); err != nil {
			return &Error{Sink: s.Name(), Err: err}
		}
	}
	return nil
}

// Close closes every child, in reverse order.
func (f *Fanout) Close(ctx context.Context) error {
	var errs []error
	for i := len(f.sinks) - 1; i >= 0; i-- {
		if err := f.sinks[i].Close(ctx); err != nil {
			errs = append(errs, &Error{Sink: f.sinks[i].Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}
