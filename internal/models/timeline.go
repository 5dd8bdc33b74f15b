package models

import "time"

type TimelineCategory string

const (
	TimelineCategoryTransition    TimelineCategory = "state_transition"
	TimelineCategoryService       TimelineCategory = "service_event"
	TimelineCategoryCommunication TimelineCategory = "communication"
)

// categoryRank breaks timestamp ties: state transitions sort before service
// events, which sort before communications.
var categoryRank = map[TimelineCategory]int{
	TimelineCategoryTransition:    0,
	TimelineCategoryService:       1,
	TimelineCategoryCommunication: 2,
}

func (c TimelineCategory) Rank() int {
	return categoryRank[c]
}

type TimelineEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	Category  TimelineCategory       `json:"category"`
	EventType string                 `json:"event_type"`
	Source    string                 `json:"source"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// TimelineMetrics are deltas from the trigger time to the first occurrence of
// each milestone, in seconds. Nil means the milestone has not happened.
type TimelineMetrics struct {
	DispatchTimeSeconds   *float64 `json:"dispatch_time_seconds,omitempty"`
	ResponseTimeSeconds   *float64 `json:"response_time_seconds,omitempty"`
	ArrivalTimeSeconds    *float64 `json:"arrival_time_seconds,omitempty"`
	ResolutionTimeSeconds *float64 `json:"resolution_time_seconds,omitempty"`
	ElapsedSeconds        float64  `json:"elapsed_seconds"`
	SLAViolation          bool     `json:"sla_violation"`
}

type IncidentTimeline struct {
	IncidentID string          `json:"incident_id"`
	ResponseID string          `json:"response_id"`
	SOSCode    string          `json:"sos_code"`
	Status     ResponseStatus  `json:"status"`
	Events     []TimelineEvent `json:"events"`
	Metrics    TimelineMetrics `json:"metrics"`
}
