package feed

import (
	"testing"
	"time"

	"coldroute/internal/model"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	b := NewMemory()
	ch := b.Subscribe("fleet-a")

	evt := model.DispatchEvent{ID: "e1", Type: model.EventBreakdown, VehicleID: "v1"}
	b.Publish("fleet-a", evt)

	select {
	case got := <-ch:
		if got.ID != "e1" || got.Type != model.EventBreakdown {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe("fleet-a", ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestMemoryPartitionIsolation(t *testing.T) {
	b := NewMemory()
	a := b.Subscribe("fleet-a")
	other := b.Subscribe("fleet-b")

	b.Publish("fleet-a", model.DispatchEvent{ID: "e1", Type: model.EventDelay})

	select {
	case <-a:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("fleet-a subscriber missed its event")
	}
	select {
	case evt := <-other:
		t.Fatalf("fleet-b got fleet-a's event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemorySlowSubscriberNeverBlocks(t *testing.T) {
	b := NewMemory()
	_ = b.Subscribe("fleet-a") // never drained, buffer 16

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("fleet-a", model.DispatchEvent{Type: model.EventDelay})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
