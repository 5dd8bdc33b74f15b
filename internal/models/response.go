package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ResponseStatus string
type ServiceType string
type DispatchStatus string

const (
	ResponseStatusInitiated    ResponseStatus = "initiated"
	ResponseStatusDispatching  ResponseStatus = "dispatching"
	ResponseStatusDispatched   ResponseStatus = "dispatched"
	ResponseStatusAcknowledged ResponseStatus = "acknowledged"
	ResponseStatusResponding   ResponseStatus = "responding"
	ResponseStatusOnScene      ResponseStatus = "on_scene"
	ResponseStatusEscalated    ResponseStatus = "escalated"
	ResponseStatusResolved     ResponseStatus = "resolved"
	ResponseStatusCancelled    ResponseStatus = "cancelled"

	ServiceTypeMedical           ServiceType = "medical"
	ServiceTypePolice            ServiceType = "police"
	ServiceTypeFire              ServiceType = "fire"
	ServiceTypeNationalEmergency ServiceType = "national_emergency"

	DispatchStatusPending      DispatchStatus = "pending"
	DispatchStatusDispatched   DispatchStatus = "dispatched"
	DispatchStatusAcknowledged DispatchStatus = "acknowledged"
	DispatchStatusArrived      DispatchStatus = "arrived"
	DispatchStatusCompleted    DispatchStatus = "completed"
	DispatchStatusFailed       DispatchStatus = "failed"
)

// responseTransitions is the legal edge set of the lifecycle state machine.
// escalated is an overlay: it is reachable from every non-terminal state and
// forward progress out of it stays legal.
var responseTransitions = map[ResponseStatus][]ResponseStatus{
	ResponseStatusInitiated:    {ResponseStatusDispatching, ResponseStatusEscalated, ResponseStatusResolved, ResponseStatusCancelled},
	ResponseStatusDispatching:  {ResponseStatusDispatched, ResponseStatusEscalated, ResponseStatusResolved, ResponseStatusCancelled},
	ResponseStatusDispatched:   {ResponseStatusAcknowledged, ResponseStatusEscalated, ResponseStatusResolved, ResponseStatusCancelled},
	ResponseStatusAcknowledged: {ResponseStatusResponding, ResponseStatusOnScene, ResponseStatusEscalated, ResponseStatusResolved},
	ResponseStatusResponding:   {ResponseStatusOnScene, ResponseStatusEscalated, ResponseStatusResolved},
	ResponseStatusOnScene:      {ResponseStatusEscalated, ResponseStatusResolved},
	ResponseStatusEscalated:    {ResponseStatusAcknowledged, ResponseStatusResponding, ResponseStatusOnScene, ResponseStatusEscalated, ResponseStatusResolved},
}

func (s ResponseStatus) IsTerminal() bool {
	return s == ResponseStatusResolved || s == ResponseStatusCancelled
}

func (s ResponseStatus) CanTransitionTo(target ResponseStatus) bool {
	for _, t := range responseTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

var dispatchStatusOrder = map[DispatchStatus]int{
	DispatchStatusPending:      0,
	DispatchStatusDispatched:   1,
	DispatchStatusAcknowledged: 2,
	DispatchStatusArrived:      3,
	DispatchStatusCompleted:    4,
	DispatchStatusFailed:       4,
}

func (s DispatchStatus) IsTerminal() bool {
	return s == DispatchStatusCompleted || s == DispatchStatusFailed
}

// CanAdvanceTo enforces that a ServiceDispatch never regresses. failed is only
// reachable from pending (a dispatch that exhausted its retries).
func (s DispatchStatus) CanAdvanceTo(target DispatchStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if target == DispatchStatusFailed {
		return s == DispatchStatusPending
	}
	return dispatchStatusOrder[target] > dispatchStatusOrder[s]
}

// ServiceDispatch tracks one external emergency service's involvement in a
// Response. Owned exclusively by the Response record.
type ServiceDispatch struct {
	Service          ServiceType    `json:"service" bson:"service"`
	Status           DispatchStatus `json:"status" bson:"status"`
	ReferenceNumber  string         `json:"reference_number" bson:"reference_number"`
	ResponderName    string         `json:"responder_name" bson:"responder_name"`
	ResponderContact string         `json:"responder_contact" bson:"responder_contact"`
	RetryCount       int            `json:"retry_count" bson:"retry_count"`
	LastError        string         `json:"last_error,omitempty" bson:"last_error,omitempty"`
	DispatchedAt     *time.Time     `json:"dispatched_at" bson:"dispatched_at"`
	AcknowledgedAt   *time.Time     `json:"acknowledged_at" bson:"acknowledged_at"`
	ArrivedAt        *time.Time     `json:"arrived_at" bson:"arrived_at"`
	CompletedAt      *time.Time     `json:"completed_at" bson:"completed_at"`
	FailedAt         *time.Time     `json:"failed_at" bson:"failed_at"`
}

type PrimaryResponder struct {
	Service    ServiceType `json:"service" bson:"service"`
	UnitID     string      `json:"unit_id" bson:"unit_id"`
	Name       string      `json:"name" bson:"name"`
	Contact    string      `json:"contact" bson:"contact"`
	ETASeconds int         `json:"eta_seconds" bson:"eta_seconds"`
}

type ResponseLogEntry struct {
	ID        string                 `json:"id" bson:"id"`
	Timestamp time.Time              `json:"timestamp" bson:"timestamp"`
	EventType string                 `json:"event_type" bson:"event_type"`
	Source    string                 `json:"source" bson:"source"`
	Message   string                 `json:"message" bson:"message"`
	Data      map[string]interface{} `json:"data,omitempty" bson:"data,omitempty"`
}

type Attachment struct {
	ID          string             `json:"id" bson:"id"`
	Kind        string             `json:"kind" bson:"kind"` // photo, audio, video
	StorageKey  string             `json:"storage_key" bson:"storage_key"`
	URL         string             `json:"url" bson:"url"`
	ContentType string             `json:"content_type" bson:"content_type"`
	Size        int64              `json:"size" bson:"size"`
	UploadedBy  primitive.ObjectID `json:"uploaded_by" bson:"uploaded_by"`
	UploadedAt  time.Time          `json:"uploaded_at" bson:"uploaded_at"`
}

// Response is the orchestration record for one Incident. It exclusively owns
// its dispatch list, log and attachments; all mutation goes through the store
// adapter's transactional update.
type Response struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Code        string             `json:"code" bson:"code"`
	IncidentID  primitive.ObjectID `json:"incident_id" bson:"incident_id"`
	SOSCode     string             `json:"sos_code" bson:"sos_code"`
	Status      ResponseStatus     `json:"status" bson:"status"`
	Priority    int                `json:"priority" bson:"priority"`
	Region      string             `json:"region" bson:"region"`

	EscalationLevel  int               `json:"escalation_level" bson:"escalation_level"`
	PrimaryResponder *PrimaryResponder `json:"primary_responder,omitempty" bson:"primary_responder,omitempty"`
	Dispatches       []ServiceDispatch `json:"dispatches" bson:"dispatches"`
	Log              []ResponseLogEntry `json:"log" bson:"log"`
	Attachments      []Attachment       `json:"attachments,omitempty" bson:"attachments,omitempty"`

	CoordinatorID *primitive.ObjectID `json:"coordinator_id,omitempty" bson:"coordinator_id,omitempty"`
	Outcome       string              `json:"outcome,omitempty" bson:"outcome,omitempty"`
	CancelReason  string              `json:"cancel_reason,omitempty" bson:"cancel_reason,omitempty"`

	TriggeredAt    time.Time  `json:"triggered_at" bson:"triggered_at"`
	DispatchedAt   *time.Time `json:"dispatched_at" bson:"dispatched_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at" bson:"acknowledged_at"`
	ArrivedAt      *time.Time `json:"arrived_at" bson:"arrived_at"`
	ResolvedAt     *time.Time `json:"resolved_at" bson:"resolved_at"`

	ResponseTimeSeconds *float64 `json:"response_time_seconds,omitempty" bson:"response_time_seconds,omitempty"`
	WithinSLA           *bool    `json:"within_sla,omitempty" bson:"within_sla,omitempty"`

	// Escalation bookkeeping: each SLA boundary fires at most once even when
	// an in-process timer races the cron sweep.
	AckEscalated     bool `json:"ack_escalated" bson:"ack_escalated"`
	ArrivalEscalated bool `json:"arrival_escalated" bson:"arrival_escalated"`

	Version   int64     `json:"version" bson:"version"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Dispatch returns the ServiceDispatch for the given service, or nil.
func (r *Response) Dispatch(service ServiceType) *ServiceDispatch {
	for i := range r.Dispatches {
		if r.Dispatches[i].Service == service {
			return &r.Dispatches[i]
		}
	}
	return nil
}

// AllDispatchesFailed reports whether every required service dispatch ended in
// failed. False while any dispatch is still pending or progressing.
func (r *Response) AllDispatchesFailed() bool {
	if len(r.Dispatches) == 0 {
		return false
	}
	for i := range r.Dispatches {
		if r.Dispatches[i].Status != DispatchStatusFailed {
			return false
		}
	}
	return true
}

// DerivePriority maps severity and emergency type onto the 1-10 response
// priority scale. Panic and fire floor at high priority.
func DerivePriority(severity int, t EmergencyType) int {
	priority := severity
	switch t {
	case EmergencyTypePanic:
		priority = 10
	case EmergencyTypeMedical, EmergencyTypeFire:
		if priority < 8 {
			priority = 8
		}
	case EmergencyTypeSecurity, EmergencyTypeAccident:
		if priority < 6 {
			priority = 6
		}
	}
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}
	return priority
}
