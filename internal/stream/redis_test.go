package stream

import (
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func redisBrokerForTest(t *testing.T) *RedisBroker {
	t.Helper()
	addr := os.Getenv("REDIS_URL")
	if addr == "" { t.Skip("REDIS_URL not set; skipping integration test") }
	opt, err := redis.ParseURL(addr)
	if err != nil { t.Fatalf("parse REDIS_URL: %v", err) }
	return NewRedisBroker(redis.NewClient(opt))
}

func TestRedisBrokerPublishSubscribe(t *testing.T) {
	b := redisBrokerForTest(t)
	ch := b.Subscribe("r1")
	defer b.Unsubscribe("r1", ch)

	b.Publish("r1", Event{Type: "order.placed", Data: map[string]any{"externalOrderId": "E1"}})
	select {
	case got := <-ch:
		if got.Type != "order.placed" { t.Fatalf("got type %s", got.Type) }
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

// A disconnect followed by more traffic must not take the process down:
// unsubscribing tears down the pubsub and the forwarding goroutine closes
// the channel exactly once.
func TestRedisBrokerPublishAfterUnsubscribe(t *testing.T) {
	b := redisBrokerForTest(t)
	ch := b.Subscribe("r1")
	b.Unsubscribe("r1", ch)

	for i := 0; i < 3; i++ {
		b.Publish("r1", Event{Type: "order.status_changed"})
	}

	select {
	case _, ok := <-ch:
		if ok { t.Fatal("expected closed channel after unsubscribe") }
	case <-time.After(2 * time.Second):
		t.Fatal("channel never closed after unsubscribe")
	}

	// a second unsubscribe for the same channel is a no-op
	b.Unsubscribe("r1", ch)
}
