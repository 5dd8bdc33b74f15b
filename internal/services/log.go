package services

import (
	"time"

	"rideguard/internal/models"

	"github.com/google/uuid"
)

const sourceSystem = "system"

func newLogEntry(eventType, source, message string, data map[string]interface{}) models.ResponseLogEntry {
	if data == nil {
		data = make(map[string]interface{})
	}
	return models.ResponseLogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		EventType: eventType,
		Source:    source,
		Message:   message,
		Data:      data,
	}
}
