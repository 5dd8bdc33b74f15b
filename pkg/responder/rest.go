package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RESTGateway dispatches to an emergency service that exposes an HTTP intake
// endpoint (municipal CAD systems, private medical networks).
type RESTGateway struct {
	service  string
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewRESTGateway(service, endpoint, apiKey string) *RESTGateway {
	return &RESTGateway{
		service:  service,
		endpoint: endpoint,
		apiKey:   apiKey,
		client: &http.Client{
			// The per-attempt deadline comes from ctx; this is a hard upper
			// bound against a misconfigured caller.
			Timeout: 30 * time.Second,
		},
	}
}

func (g *RESTGateway) Service() string {
	return g.service
}

func (g *RESTGateway) Dispatch(ctx context.Context, request *DispatchRequest) (*DispatchResult, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dispatch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch call to %s failed: %w", g.service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("dispatch call to %s returned status %d", g.service, resp.StatusCode)
	}

	var result DispatchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode dispatch response from %s: %w", g.service, err)
	}
	if result.ReferenceNumber == "" {
		return nil, fmt.Errorf("dispatch response from %s missing reference number", g.service)
	}
	return &result, nil
}
