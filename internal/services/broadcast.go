package services

import (
	"rideguard/pkg/websocket"
)

// Broadcaster is the fanout sink for committed transitions. Implemented by
// pkg/websocket.Handler; faked in tests.
type Broadcaster interface {
	Broadcast(channels []string, subscribers []string, env websocket.Envelope)
}
