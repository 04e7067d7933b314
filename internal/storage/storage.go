package storage

import (
	"context"

	"stakepool/internal/model"
)

// Sink defines a destination for lifecycle events.
type Sink interface {
	Put(ctx context.Context, event model.Event) error
}

// MultiSink fans an event out to every sink, stopping at the first failure.
type MultiSink []Sink

func (m MultiSink) Put(ctx context.Context, event model.Event) error {
	for _, sink := range m {
		if err := sink.Put(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
