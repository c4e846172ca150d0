package notifications

import (
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	svc := NewService()
	defer svc.Close()

	events, unsubscribe := svc.Subscribe()
	defer unsubscribe()

	svc.NotifySessionsChanged()

	event := receive(t, events)
	if event.Type != EventSessionsChanged {
		t.Errorf("type = %q, want %q", event.Type, EventSessionsChanged)
	}
	if event.Timestamp == 0 {
		t.Error("timestamp should be stamped on send")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	svc := NewService()
	defer svc.Close()

	events, unsubscribe := svc.Subscribe()
	unsubscribe()

	// Channel is closed on unsubscribe
	if _, ok := <-events; ok {
		t.Error("expected closed channel after unsubscribe")
	}

	// Double unsubscribe must not panic
	unsubscribe()
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	svc := NewService()
	defer svc.Close()

	// Fill the slow subscriber's buffer
	slow, unsubSlow := svc.Subscribe()
	defer unsubSlow()
	for i := 0; i < cap(slow)+5; i++ {
		svc.NotifySessionsChanged()
	}

	fast, unsubFast := svc.Subscribe()
	defer unsubFast()

	done := make(chan struct{})
	go func() {
		svc.NotifyArchiveChanged()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full subscriber")
	}

	event := receive(t, fast)
	if event.Type != EventArchiveChanged {
		t.Errorf("type = %q, want %q", event.Type, EventArchiveChanged)
	}
}

func TestResolutionFailureDeduplication(t *testing.T) {
	svc := NewService()
	defer svc.Close()

	events, unsubscribe := svc.Subscribe()
	defer unsubscribe()

	svc.NotifyResolutionFailure("slot-1", "cannot resolve workspace")
	svc.NotifyResolutionFailure("slot-1", "cannot resolve workspace")
	svc.NotifyResolutionFailure("slot-2", "cannot resolve workspace")

	first := receive(t, events)
	if first.Tag != "slot-1" {
		t.Errorf("first tag = %q", first.Tag)
	}
	second := receive(t, events)
	if second.Tag != "slot-2" {
		t.Errorf("second tag = %q, repeated slot-1 should be suppressed", second.Tag)
	}

	select {
	case event := <-events:
		t.Errorf("unexpected extra event: %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}
