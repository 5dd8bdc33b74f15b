package websocket

import (
	"context"
	"log"
	"net/http"

	"rideguard/pkg/cache"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Handler struct {
	hub *Hub
}

func NewHandler(redisCache *cache.RedisCache) *Handler {
	hub := NewHub(redisCache)
	go hub.Run()

	return &Handler{
		hub: hub,
	}
}

func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	userType, exists := c.Get("user_type")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User type not found"})
		return
	}

	userObjectID, ok := userID.(primitive.ObjectID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	userTypeStr, ok := userType.(string)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user type"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(h.hub, conn, userObjectID.Hex(), userTypeStr)
	h.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// Broadcast publishes one envelope to channel subscribers and direct
// subscriber ids. Satisfies the services.Broadcaster interface.
func (h *Handler) Broadcast(channels []string, subscribers []string, env Envelope) {
	h.hub.Broadcast(channels, subscribers, env)
}

// Pending is the polling fallback: queued-but-undelivered envelopes for a
// subscriber id.
func (h *Handler) Pending(ctx context.Context, subscriberID string) []Envelope {
	return h.hub.Pending(ctx, subscriberID)
}

func (h *Handler) GetHub() *Hub {
	return h.hub
}
