package responder

import "context"

// Gateway is one external emergency service integration (medical, police,
// fire, national emergency line). Dispatch issues the outbound call and
// returns the reference number the service assigned; it must respect ctx for
// timeout and cancellation.
type Gateway interface {
	Service() string
	Dispatch(ctx context.Context, request *DispatchRequest) (*DispatchResult, error)
}

type DispatchRequest struct {
	IncidentCode  string  `json:"incident_code"`
	ResponseID    string  `json:"response_id"`
	EmergencyType string  `json:"emergency_type"`
	Severity      int     `json:"severity"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Address       string  `json:"address"`
	Description   string  `json:"description"`
	ReporterName  string  `json:"reporter_name"`
	ReporterPhone string  `json:"reporter_phone"`
}

type DispatchResult struct {
	ReferenceNumber  string `json:"reference_number"`
	ResponderName    string `json:"responder_name"`
	ResponderContact string `json:"responder_contact"`
	ETASeconds       int    `json:"eta_seconds"`
}
