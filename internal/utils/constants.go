package utils

import "time"

// Application Constants
const (
	AppName    = "RideGuard"
	AppVersion = "1.0.0"

	// Pagination
	DefaultPageSize = 20
	MaxPageSize     = 100
	MinPageSize     = 1

	// SOS processing budgets
	DefaultAckBudget     = 60 * time.Second
	DefaultArrivalBudget = 15 * time.Minute
	DefaultDedupWindow   = 5 * time.Second

	// Dispatch defaults
	DefaultDispatchTimeout = 4 * time.Second
	DefaultDispatchRetries = 2
	DefaultDispatchBackoff = 500 * time.Millisecond

	// Broadcast
	SubscriberQueueCapacity = 256

	// File Upload
	MaxImageSize = 5 * 1024 * 1024   // 5MB
	MaxAudioSize = 50 * 1024 * 1024  // 50MB
	MaxVideoSize = 100 * 1024 * 1024 // 100MB

	// Response status values
	StatusSuccess = "success"
	StatusError   = "error"
)

// Common error messages
const (
	ErrUnauthorized = "Unauthorized access"
)

// Log event types appended to the response log
const (
	EventStatusChanged      = "status_changed"
	EventTransitionRejected = "transition_rejected"
	EventServiceDispatched  = "service_dispatched"
	EventServiceAcked       = "service_acknowledged"
	EventServiceArrived     = "service_arrived"
	EventServiceCompleted   = "service_completed"
	EventServiceDegraded    = "service_degraded"
	EventDispatchFailed     = "dispatch_failed"
	EventEscalated          = "escalated"
	EventCommunication      = "communication"
	EventOperatorNote       = "operator_note"
	EventAttachmentAdded    = "attachment_added"
	EventCoordinatorSet     = "coordinator_assigned"
)

// Escalation reasons
const (
	EscalationNoAck     = "no_acknowledgment_within_sla"
	EscalationNoArrival = "no_arrival_within_sla"
	EscalationManual    = "manual"
)
