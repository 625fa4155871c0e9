package app

import (
	"context"
	"testing"
	"time"

	"eckod/internal/eventbus"
	logx "eckod/pkg/logx"
)

func TestConsumeEventsDrainsBusUntilCancelled(t *testing.T) {
	t.Parallel()
	a := &App{log: logx.Nop(), bus: eventbus.New()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.consumeEvents(ctx)
		close(done)
	}()

	// The consumer must keep the bus flowing for every event type without
	// ever blocking a publisher.
	for i := 0; i < 300; i++ {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeReminderFired, Data: map[string]string{"id": "r1"}})
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifyFailed, Data: "boom"})
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumeEvents did not stop on context cancel")
	}
}
