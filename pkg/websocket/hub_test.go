package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient builds a session without a live connection; delivery in these
// tests is observed on the send channel directly.
func newTestClient(hub *Hub, subscriberID string) *Client {
	client := NewClient(hub, nil, subscriberID, "operator")
	hub.registerClient(client)
	return client
}

func received(t *testing.T, client *Client) []Envelope {
	t.Helper()
	var envelopes []Envelope
	for {
		select {
		case data := <-client.send:
			var env Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			envelopes = append(envelopes, env)
		default:
			return envelopes
		}
	}
}

func TestBroadcastSequenceMonotonicPerResponse(t *testing.T) {
	hub := NewHub(nil)
	client := newTestClient(hub, "operator-1")

	for i := 0; i < 3; i++ {
		hub.Broadcast(nil, []string{"operator-1"}, Envelope{
			Type:       "status_changed",
			ResponseID: "resp-a",
		})
	}
	hub.Broadcast(nil, []string{"operator-1"}, Envelope{
		Type:       "status_changed",
		ResponseID: "resp-b",
	})

	envelopes := received(t, client)
	require.Len(t, envelopes, 4)
	assert.Equal(t, uint64(1), envelopes[0].Sequence)
	assert.Equal(t, uint64(2), envelopes[1].Sequence)
	assert.Equal(t, uint64(3), envelopes[2].Sequence)

	// a different response id starts its own sequence
	assert.Equal(t, "resp-b", envelopes[3].ResponseID)
	assert.Equal(t, uint64(1), envelopes[3].Sequence)
}

func TestBroadcastDeliversInOrder(t *testing.T) {
	hub := NewHub(nil)
	client := newTestClient(hub, "operator-1")

	for i := 0; i < 10; i++ {
		hub.Broadcast(nil, []string{"operator-1"}, Envelope{
			Type:       "status_changed",
			ResponseID: "resp-a",
			Payload:    map[string]interface{}{"n": i},
		})
	}

	envelopes := received(t, client)
	require.Len(t, envelopes, 10)
	for i, env := range envelopes {
		assert.Equal(t, float64(i), env.Payload["n"])
	}
}

func TestBroadcastFIFOAcrossPublishingGoroutines(t *testing.T) {
	hub := NewHub(nil)
	client := newTestClient(hub, "operator-1")

	// the state-machine path and dispatch goroutines publish concurrently
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				hub.Broadcast(nil, []string{"operator-1"}, Envelope{
					Type:       "status_changed",
					ResponseID: "resp-a",
				})
			}
		}()
	}
	wg.Wait()

	envelopes := received(t, client)
	require.Len(t, envelopes, 200)
	for i, env := range envelopes {
		assert.Equal(t, uint64(i+1), env.Sequence, "delivery order must match commit order")
	}
}

func TestOfflineSubscriberEventsQueueAndFlushOnReconnect(t *testing.T) {
	hub := NewHub(nil)

	// nobody connected: events land in the durable queue
	hub.Broadcast(nil, []string{"reporter-1"}, Envelope{Type: "status_changed", ResponseID: "resp-a", Status: "dispatched"})
	hub.Broadcast(nil, []string{"reporter-1"}, Envelope{Type: "status_changed", ResponseID: "resp-a", Status: "acknowledged"})

	client := newTestClient(hub, "reporter-1")

	envelopes := received(t, client)
	require.Len(t, envelopes, 2)
	assert.Equal(t, "dispatched", envelopes[0].Status)
	assert.Equal(t, "acknowledged", envelopes[1].Status)
}

func TestPendingDrainsQueueOnce(t *testing.T) {
	hub := NewHub(nil)

	hub.Broadcast(nil, []string{"reporter-1"}, Envelope{Type: "status_changed", ResponseID: "resp-a"})

	first := hub.Pending(context.Background(), "reporter-1")
	require.Len(t, first, 1)
	assert.Equal(t, uint64(1), first[0].Sequence)

	assert.Empty(t, hub.Pending(context.Background(), "reporter-1"))
}

func TestChannelSubscribeAndUnsubscribe(t *testing.T) {
	hub := NewHub(nil)
	client := newTestClient(hub, "operator-1")
	hub.Subscribe(client, "region:nyc")

	hub.Broadcast([]string{"region:nyc"}, nil, Envelope{Type: "status_changed", ResponseID: "resp-a"})
	require.Len(t, received(t, client), 1)

	hub.Unsubscribe(client, "region:nyc")
	hub.Broadcast([]string{"region:nyc"}, nil, Envelope{Type: "status_changed", ResponseID: "resp-a"})
	assert.Empty(t, received(t, client))

	// events for an unsubscribed channel are not queued either
	assert.Empty(t, hub.Pending(context.Background(), "operator-1"))
}

func TestBroadcastDedupesOverlappingTargets(t *testing.T) {
	hub := NewHub(nil)
	client := newTestClient(hub, "operator-1")
	hub.Subscribe(client, "region:nyc")
	hub.Subscribe(client, "priority:9")

	// the subscriber matches both channels and the direct target list
	hub.Broadcast([]string{"region:nyc", "priority:9"}, []string{"operator-1"}, Envelope{
		Type:       "status_changed",
		ResponseID: "resp-a",
	})

	assert.Len(t, received(t, client), 1)
}

func TestSlowSessionFallsBackToQueue(t *testing.T) {
	hub := NewHub(nil)
	client := newTestClient(hub, "operator-1")

	// saturate the session buffer so the next delivery cannot be pushed
	for i := 0; i < cap(client.send); i++ {
		client.send <- []byte("{}")
	}

	hub.Broadcast(nil, []string{"operator-1"}, Envelope{Type: "status_changed", ResponseID: "resp-a"})

	pending := hub.Pending(context.Background(), "operator-1")
	require.Len(t, pending, 1)
	assert.Equal(t, "resp-a", pending[0].ResponseID)
}

func TestQueueSurvivesDisconnect(t *testing.T) {
	hub := NewHub(nil)
	client := newTestClient(hub, "reporter-1")
	hub.unregisterClient(client)

	hub.Broadcast(nil, []string{"reporter-1"}, Envelope{Type: "status_changed", ResponseID: "resp-a"})

	pending := hub.Pending(context.Background(), "reporter-1")
	require.Len(t, pending, 1)
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	queue := newSubscriberQueue("reporter-1")

	total := queueCapacity + 40
	for i := 0; i < total; i++ {
		queue.Enqueue([]byte(fmt.Sprintf("%d", i)), nil)
	}

	entries := queue.Drain()
	require.Len(t, entries, queueCapacity)
	assert.Equal(t, fmt.Sprintf("%d", total-queueCapacity), string(entries[0]))
	assert.Equal(t, fmt.Sprintf("%d", total-1), string(entries[len(entries)-1]))
}
