package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"rideguard/pkg/cache"
)

// Envelope is the broadcast message for one committed state change. Sequence
// is monotonic per response id so consumers can drop duplicates and detect
// gaps with (response_id, sequence).
type Envelope struct {
	Type       string                 `json:"type"`
	IncidentID string                 `json:"incident_id"`
	ResponseID string                 `json:"response_id"`
	Status     string                 `json:"status"`
	Sequence   uint64                 `json:"sequence"`
	Timestamp  int64                  `json:"timestamp"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// Hub fans committed incident events out to subscribed sessions. Delivery is
// at-least-once: the push channel is primary; events for disconnected
// subscribers land in a per-subscriber durable queue drained on reconnect or
// through the polling fallback endpoint.
type Hub struct {
	clients    map[*Client]bool
	bySub      map[string]map[*Client]bool
	channels   map[string]map[*Client]bool
	queues     map[string]*subscriberQueue
	sequences  map[string]uint64
	register   chan *Client
	unregister chan *Client
	cache      *cache.RedisCache
	mutex      sync.RWMutex
}

func NewHub(redisCache *cache.RedisCache) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		bySub:      make(map[string]map[*Client]bool),
		channels:   make(map[string]map[*Client]bool),
		queues:     make(map[string]*subscriberQueue),
		sequences:  make(map[string]uint64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		cache:      redisCache,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.clients[client] = true
	if h.bySub[client.SubscriberID] == nil {
		h.bySub[client.SubscriberID] = make(map[*Client]bool)
	}
	h.bySub[client.SubscriberID][client] = true

	// Every session implicitly subscribes to its own subscriber channel.
	h.joinChannel(client, "user:"+client.SubscriberID)

	// Flush anything queued while the subscriber was offline, in FIFO order.
	// Done under the hub lock so a concurrent Broadcast cannot interleave a
	// fresh envelope ahead of the backlog.
	queue := h.queueFor(client.SubscriberID)
	for _, data := range queue.DrainRedis(h.cache) {
		client.enqueue(data)
	}
	for _, data := range queue.Drain() {
		client.enqueue(data)
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	if subs := h.bySub[client.SubscriberID]; subs != nil {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.bySub, client.SubscriberID)
		}
	}
	for channelID, channel := range h.channels {
		if _, exists := channel[client]; exists {
			delete(channel, client)
			if len(channel) == 0 {
				delete(h.channels, channelID)
			}
		}
	}
	// The durable queue outlives the connection on purpose.
}

// Broadcast publishes env to every session on the given channels plus the
// direct subscriber ids. A slow or disconnected subscriber never blocks the
// others: misses are queued, not awaited. Sequence assignment and delivery
// happen under one lock so envelopes for a single response id reach every
// subscriber in commit order even when publishers race on different
// goroutines.
func (h *Hub) Broadcast(channels []string, subscribers []string, env Envelope) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if env.ResponseID != "" {
		h.sequences[env.ResponseID]++
		env.Sequence = h.sequences[env.ResponseID]
	}
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return
	}

	// Dedupe targets across overlapping channels by subscriber id.
	targets := make(map[string]bool)
	connected := make(map[string][]*Client)
	for _, channelID := range channels {
		for client := range h.channels[channelID] {
			if !targets[client.SubscriberID] {
				targets[client.SubscriberID] = true
				connected[client.SubscriberID] = h.clientsOf(client.SubscriberID)
			}
		}
	}
	for _, subscriberID := range subscribers {
		if subscriberID == "" || targets[subscriberID] {
			continue
		}
		targets[subscriberID] = true
		connected[subscriberID] = h.clientsOf(subscriberID)
	}

	for subscriberID := range targets {
		clients := connected[subscriberID]
		if len(clients) == 0 {
			h.queueFor(subscriberID).Enqueue(data, h.cache)
			continue
		}
		for _, client := range clients {
			if !client.enqueue(data) {
				h.queueFor(subscriberID).Enqueue(data, h.cache)
			}
		}
	}
}

func (h *Hub) clientsOf(subscriberID string) []*Client {
	var out []*Client
	for client := range h.bySub[subscriberID] {
		out = append(out, client)
	}
	return out
}

// Pending returns and clears the queued-but-undelivered envelopes for a
// subscriber. Backs the polling fallback endpoint.
func (h *Hub) Pending(ctx context.Context, subscriberID string) []Envelope {
	h.mutex.Lock()
	queue := h.queueFor(subscriberID)
	h.mutex.Unlock()

	var envelopes []Envelope
	for _, data := range queue.DrainRedis(h.cache) {
		var env Envelope
		if json.Unmarshal(data, &env) == nil {
			envelopes = append(envelopes, env)
		}
	}
	for _, data := range queue.Drain() {
		var env Envelope
		if json.Unmarshal(data, &env) == nil {
			envelopes = append(envelopes, env)
		}
	}
	return envelopes
}

// Subscribe joins a client to a region/priority channel.
func (h *Hub) Subscribe(client *Client, channelID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.joinChannel(client, channelID)
}

func (h *Hub) Unsubscribe(client *Client, channelID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if channel, exists := h.channels[channelID]; exists {
		delete(channel, client)
		delete(client.channels, channelID)
		if len(channel) == 0 {
			delete(h.channels, channelID)
		}
	}
}

func (h *Hub) joinChannel(client *Client, channelID string) {
	if h.channels[channelID] == nil {
		h.channels[channelID] = make(map[*Client]bool)
	}
	h.channels[channelID][client] = true
	client.channels[channelID] = true
}

// queueFor must be called with h.mutex held.
func (h *Hub) queueFor(subscriberID string) *subscriberQueue {
	queue, ok := h.queues[subscriberID]
	if !ok {
		queue = newSubscriberQueue(subscriberID)
		h.queues[subscriberID] = queue
	}
	return queue
}
