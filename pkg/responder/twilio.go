package responder

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioVoiceGateway bridges a dispatch to the national emergency line as an
// automated voice call carrying the incident details. The call SID serves as
// the reference number.
type TwilioVoiceGateway struct {
	client          *twilio.RestClient
	fromNumber      string
	emergencyNumber string
}

func NewTwilioVoiceGateway(accountSID, authToken, fromNumber, emergencyNumber string) *TwilioVoiceGateway {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	return &TwilioVoiceGateway{
		client:          client,
		fromNumber:      fromNumber,
		emergencyNumber: emergencyNumber,
	}
}

func (g *TwilioVoiceGateway) Service() string {
	return "national_emergency"
}

func (g *TwilioVoiceGateway) Dispatch(ctx context.Context, request *DispatchRequest) (*DispatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	twiml := fmt.Sprintf(
		"<Response><Say>Automated emergency dispatch. Incident %s. Type %s, severity %d. Location latitude %.5f, longitude %.5f. %s</Say></Response>",
		request.IncidentCode, request.EmergencyType, request.Severity,
		request.Latitude, request.Longitude, request.Address,
	)

	params := &api.CreateCallParams{}
	params.SetTo(g.emergencyNumber)
	params.SetFrom(g.fromNumber)
	params.SetTwiml(twiml)

	resp, err := g.client.Api.CreateCall(params)
	if err != nil {
		return nil, fmt.Errorf("emergency line call failed: %w", err)
	}

	result := &DispatchResult{
		ResponderName:    "national emergency line",
		ResponderContact: g.emergencyNumber,
	}
	if resp.Sid != nil {
		result.ReferenceNumber = *resp.Sid
	}
	return result, nil
}
