package cmd

import (
	"context"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/events"
)

const displayBuffer = 1024

// display feeds a terminal sink from an event bus, so a slow terminal drops
// old progress lines instead of stalling workers.
type display struct {
	bus  *events.EventBus
	done chan struct{}
}

func startDisplay(ctx context.Context, sink core.ProgressSink) *display {
	d := &display{bus: events.New(displayBuffer), done: make(chan struct{})}
	ch := d.bus.Subscribe()
	go func() {
		defer close(d.done)
		for ev := range ch {
			if pe, ok := ev.(events.ProgressEvent); ok {
				_ = sink.Emit(ctx, pe.EventType(), pe.Payload)
			}
		}
	}()
	return d
}

// Sink returns the sink the coordinator publishes to.
func (d *display) Sink() core.ProgressSink {
	return events.NewBusSink(d.bus)
}

// Wait closes the bus, waits until every buffered event is rendered and
// returns how many were dropped.
func (d *display) Wait() int64 {
	d.bus.Close()
	<-d.done
	return d.bus.DroppedCount()
}
