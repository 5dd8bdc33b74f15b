package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TriggerRequest is the SOS intake payload, possibly replayed from a client
// offline queue. ClientIdempotencyKey makes replays safe.
type TriggerRequest struct {
	EmergencyType        EmergencyType       `json:"emergency_type" validate:"required"`
	Severity             int                 `json:"severity" validate:"omitempty,min=1,max=10"`
	Latitude             float64             `json:"latitude" validate:"min=-90,max=90"`
	Longitude            float64             `json:"longitude" validate:"min=-180,max=180"`
	AccuracyMeters       float64             `json:"accuracy_meters"`
	Region               string              `json:"region"`
	Description          string              `json:"description" validate:"max=2000"`
	Source               TriggerSource       `json:"source"`
	ClientIdempotencyKey string              `json:"client_idempotency_key" validate:"required"`
	RideID               *primitive.ObjectID `json:"ride_id,omitempty"`
	DriverID             *primitive.ObjectID `json:"driver_id,omitempty"`
	VehicleID            *primitive.ObjectID `json:"vehicle_id,omitempty"`

	// Filled server-side from the authenticated session.
	Reporter Reporter `json:"-"`
}

// TriggerResult reports the created (or, on an idempotency-key replay, the
// pre-existing) incident/response pair.
type TriggerResult struct {
	Incident  *Incident `json:"incident"`
	Response  *Response `json:"response"`
	Duplicate bool      `json:"duplicate"`
}

// Operator actions accepted on PATCH response/{id}.
const (
	ActionAcknowledge       = "acknowledge"
	ActionArrived           = "arrived"
	ActionComplete          = "complete"
	ActionEscalate          = "escalate"
	ActionCancel            = "cancel"
	ActionAssignCoordinator = "assign_coordinator"
	ActionAddLog            = "add_log"
	ActionUpdateStatus      = "update_status"
)

type ActionRequest struct {
	Action        string                 `json:"action" validate:"required,oneof=acknowledge arrived complete escalate cancel assign_coordinator add_log update_status"`
	Message       string                 `json:"message" validate:"max=2000"`
	Reason        string                 `json:"reason" validate:"max=500"`
	Outcome       string                 `json:"outcome" validate:"max=2000"`
	Status        ResponseStatus         `json:"status"`
	CoordinatorID *primitive.ObjectID    `json:"coordinator_id,omitempty"`
	Responder     *PrimaryResponder      `json:"responder,omitempty"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

// ServiceCallbackRequest is the inbound webhook from an external emergency
// service, keyed by (sos alert, service type, reference number).
type ServiceCallbackRequest struct {
	SOSCode          string      `json:"sos_code" validate:"required"`
	Service          ServiceType `json:"service" validate:"required"`
	ReferenceNumber  string      `json:"reference_number" validate:"required"`
	Event            string      `json:"event" validate:"required,oneof=acknowledged arrived completed"`
	ResponderName    string      `json:"responder_name"`
	ResponderContact string      `json:"responder_contact"`
	UnitID           string      `json:"unit_id"`
	ETASeconds       int         `json:"eta_seconds"`
}
