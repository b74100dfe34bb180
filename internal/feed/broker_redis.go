package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"coldroute/internal/model"
)

// Redis implements Broker over Redis Pub/Sub so multiple dispatcher
// processes can share one event feed.
type Redis struct {
	rdb *redis.Client

	mu   sync.Mutex
	subs map[chan model.DispatchEvent]*redis.PubSub
}

func NewRedis(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Redis{
		rdb:  redis.NewClient(opt),
		subs: map[chan model.DispatchEvent]*redis.PubSub{},
	}, nil
}

func (b *Redis) Subscribe(partition string) chan model.DispatchEvent {
	ch := make(chan model.DispatchEvent, 32)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(partition))
	// initial receive confirms the subscription before we hand back the channel
	_, _ = ps.Receive(ctx)

	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()

	// Only this goroutine closes ch; it exits when the pubsub is closed.
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt model.DispatchEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
	}()
	return ch
}

func (b *Redis) Unsubscribe(partition string, ch chan model.DispatchEvent) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		// closes ps.Channel(), which stops the receive goroutine and lets
		// it close ch after the last delivered event
		_ = ps.Close()
	}
}

func (b *Redis) Publish(partition string, evt model.DispatchEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	_ = b.rdb.Publish(ctx, b.chanName(partition), data).Err()
}

func (b *Redis) chanName(partition string) string { return "dispatch:" + partition }
