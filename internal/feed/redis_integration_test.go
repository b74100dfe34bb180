//go:build redis_integration

package feed

import (
	"os"
	"testing"
	"time"

	"coldroute/internal/model"
)

func TestRedisPublishSubscribe(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping integration test")
	}
	b, err := NewRedis(url)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	ch := b.Subscribe("fleet-it")

	evt := model.DispatchEvent{ID: "e1", Type: model.EventBreakdown, VehicleID: "v1"}
	b.Publish("fleet-it", evt)

	select {
	case got := <-ch:
		if got.ID != "e1" || got.Type != model.EventBreakdown {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

// Unsubscribing must close the Redis subscription and leave the channel to
// the receive goroutine; an event published afterwards is simply not
// delivered, it never reaches a closed channel.
func TestRedisUnsubscribeThenPublish(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping integration test")
	}
	b, err := NewRedis(url)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	ch := b.Subscribe("fleet-it-unsub")
	b.Unsubscribe("fleet-it-unsub", ch)

	b.Publish("fleet-it-unsub", model.DispatchEvent{ID: "e2", Type: model.EventDelay})
	time.Sleep(200 * time.Millisecond)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return // closed cleanly by the receive goroutine
			}
			t.Fatalf("unexpected event after unsubscribe: %+v", evt)
		case <-deadline:
			t.Fatal("channel never closed after unsubscribe")
		}
	}
}
