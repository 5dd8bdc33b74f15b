package routes

import (
	"rideguard/internal/middleware"

	handlers "rideguard/internal/handlers/shared"
	"rideguard/pkg/websocket"

	"github.com/gin-gonic/gin"
)

// SetupSOSRoutes sets up routes for emergency response functionality
func SetupSOSRoutes(r *gin.RouterGroup, sosHandler *handlers.SOSHandler, wsHandler *websocket.Handler, jwtSecret, serviceKey string) {
	// Public webhook routes for external emergency services
	webhooks := r.Group("/webhooks/services")
	webhooks.Use(middleware.ServiceWebhookAuth(serviceKey))
	{
		webhooks.POST("/callback", sosHandler.ServiceCallback)
	}

	// SOS trigger and reads (any authenticated user)
	sos := r.Group("/sos")
	sos.Use(middleware.AuthRequired(jwtSecret))
	{
		sos.POST("/", sosHandler.TriggerSOS)
		sos.GET("/:id", sosHandler.GetSOS)
		sos.GET("/updates", sosHandler.PollUpdates)
		sos.GET("/ws", wsHandler.HandleWebSocket)
	}

	// Response lifecycle operations (operators only)
	responses := r.Group("/responses")
	responses.Use(middleware.AuthRequired(jwtSecret), middleware.OperatorRequired())
	{
		responses.GET("/", sosHandler.ListSOS)
		responses.GET("/:id", sosHandler.GetResponse)
		responses.PATCH("/:id", sosHandler.ActOnResponse)
		responses.GET("/:id/timeline", sosHandler.Timeline)
		responses.POST("/:id/attachments", sosHandler.UploadAttachment)
		responses.GET("/:id/attachments/:attachment_id", sosHandler.GetAttachmentLink)
	}
}
