package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type EmergencyType string
type TriggerSource string
type IncidentStatus string

const (
	EmergencyTypeMedical  EmergencyType = "medical"
	EmergencyTypeSecurity EmergencyType = "security"
	EmergencyTypeAccident EmergencyType = "accident"
	EmergencyTypeFire     EmergencyType = "fire"
	EmergencyTypeGeneral  EmergencyType = "general"
	EmergencyTypePanic    EmergencyType = "panic"

	TriggerSourceApp         TriggerSource = "app"
	TriggerSourcePanicButton TriggerSource = "panic_button"
	TriggerSourceOfflineSync TriggerSource = "offline_queue_flush"

	IncidentStatusActive    IncidentStatus = "active"
	IncidentStatusResolved  IncidentStatus = "resolved"
	IncidentStatusCancelled IncidentStatus = "cancelled"

	// PanicSeverity is forced onto panic-button triggers regardless of the
	// severity the client sent.
	PanicSeverity = 10
)

type Reporter struct {
	UserID primitive.ObjectID `json:"user_id" bson:"user_id" validate:"required"`
	Role   string             `json:"role" bson:"role"`
	Name   string             `json:"name" bson:"name"`
	Phone  string             `json:"phone" bson:"phone"`
}

// Incident is the raw SOS event as reported. Everything except Status is
// immutable after creation; elapsed time is derived at read time.
type Incident struct {
	ID             primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	Code           string              `json:"code" bson:"code"`
	Type           EmergencyType       `json:"type" bson:"type" validate:"required"`
	Severity       int                 `json:"severity" bson:"severity" validate:"min=1,max=10"`
	Status         IncidentStatus      `json:"status" bson:"status" default:"active"`
	Reporter       Reporter            `json:"reporter" bson:"reporter" validate:"required"`
	DriverID       *primitive.ObjectID `json:"driver_id,omitempty" bson:"driver_id,omitempty"`
	VehicleID      *primitive.ObjectID `json:"vehicle_id,omitempty" bson:"vehicle_id,omitempty"`
	RideID         *primitive.ObjectID `json:"ride_id,omitempty" bson:"ride_id,omitempty"`
	Location       Location            `json:"location" bson:"location" validate:"required"`
	Description    string              `json:"description" bson:"description"`
	Source         TriggerSource       `json:"source" bson:"source"`
	IdempotencyKey string              `json:"idempotency_key" bson:"idempotency_key"`
	TriggeredAt    time.Time           `json:"triggered_at" bson:"triggered_at"`
	CreatedAt      time.Time           `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at" bson:"updated_at"`
}

// ElapsedTime is the time since the incident was triggered. It is never
// persisted; callers compute it on every read.
func (i *Incident) ElapsedTime(now time.Time) time.Duration {
	if now.Before(i.TriggeredAt) {
		return 0
	}
	return now.Sub(i.TriggeredAt)
}

func IsValidEmergencyType(t EmergencyType) bool {
	switch t {
	case EmergencyTypeMedical, EmergencyTypeSecurity, EmergencyTypeAccident,
		EmergencyTypeFire, EmergencyTypeGeneral, EmergencyTypePanic:
		return true
	}
	return false
}
