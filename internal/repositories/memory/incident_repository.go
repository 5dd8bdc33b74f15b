package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"rideguard/internal/models"
	"rideguard/internal/repositories/interfaces"
	"rideguard/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// incidentRepository is an in-memory Incident Store Adapter with the same
// per-id transactional semantics as the mongo implementation. Used by tests
// and local runs without a database.
type incidentRepository struct {
	mu        sync.RWMutex
	incidents map[primitive.ObjectID]*models.Incident
	responses map[primitive.ObjectID]*models.Response
	byIdemKey map[string]primitive.ObjectID
}

func NewIncidentRepository() interfaces.IncidentRepository {
	return &incidentRepository{
		incidents: make(map[primitive.ObjectID]*models.Incident),
		responses: make(map[primitive.ObjectID]*models.Response),
		byIdemKey: make(map[string]primitive.ObjectID),
	}
}

func (r *incidentRepository) CreateIncidentAndResponse(ctx context.Context, incident *models.Incident, response *models.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if incident.IdempotencyKey != "" {
		if _, exists := r.byIdemKey[incident.IdempotencyKey]; exists {
			return interfaces.ErrDuplicateKey
		}
	}

	now := time.Now()
	if incident.ID.IsZero() {
		incident.ID = primitive.NewObjectID()
	}
	incident.CreatedAt = now
	incident.UpdatedAt = now

	if response.ID.IsZero() {
		response.ID = primitive.NewObjectID()
	}
	response.IncidentID = incident.ID
	response.Version = 1
	response.CreatedAt = now
	response.UpdatedAt = now

	r.incidents[incident.ID] = cloneIncident(incident)
	r.responses[response.ID] = cloneResponse(response)
	if incident.IdempotencyKey != "" {
		r.byIdemKey[incident.IdempotencyKey] = incident.ID
	}
	return nil
}

func (r *incidentRepository) GetIncident(ctx context.Context, id primitive.ObjectID) (*models.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	incident, ok := r.incidents[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return cloneIncident(incident), nil
}

func (r *incidentRepository) GetIncidentByCode(ctx context.Context, code string) (*models.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, incident := range r.incidents {
		if incident.Code == code {
			return cloneIncident(incident), nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (r *incidentRepository) GetIncidentByIdempotencyKey(ctx context.Context, key string) (*models.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byIdemKey[key]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return cloneIncident(r.incidents[id]), nil
}

func (r *incidentRepository) UpdateIncidentStatus(ctx context.Context, id primitive.ObjectID, status models.IncidentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	incident, ok := r.incidents[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	incident.Status = status
	incident.UpdatedAt = time.Now()
	return nil
}

func (r *incidentRepository) GetResponse(ctx context.Context, id primitive.ObjectID) (*models.Response, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	response, ok := r.responses[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return cloneResponse(response), nil
}

func (r *incidentRepository) GetResponseByIncident(ctx context.Context, incidentID primitive.ObjectID) (*models.Response, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, response := range r.responses {
		if response.IncidentID == incidentID {
			return cloneResponse(response), nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (r *incidentRepository) ListServiceDispatches(ctx context.Context, responseID primitive.ObjectID) ([]models.ServiceDispatch, error) {
	response, err := r.GetResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	return response.Dispatches, nil
}

// UpdateResponse holds the store lock across read-transform-commit, which
// gives the same atomicity as the mongo version guard.
func (r *incidentRepository) UpdateResponse(ctx context.Context, id primitive.ObjectID, transform func(*models.Response) error) (*models.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.responses[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}

	working := cloneResponse(current)
	if err := transform(working); err != nil {
		return nil, err
	}
	working.Version = current.Version + 1
	working.UpdatedAt = time.Now()

	r.responses[id] = cloneResponse(working)
	return working, nil
}

func (r *incidentRepository) AppendLog(ctx context.Context, responseID primitive.ObjectID, entry models.ResponseLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	response, ok := r.responses[responseID]
	if !ok {
		return interfaces.ErrNotFound
	}
	response.Log = append(response.Log, entry)
	response.UpdatedAt = time.Now()
	return nil
}

func (r *incidentRepository) GetResponsesByStatus(ctx context.Context, status models.ResponseStatus, params *utils.PaginationParams) ([]*models.Response, int64, error) {
	return r.filterResponses(func(resp *models.Response) bool {
		return resp.Status == status
	}, params)
}

func (r *incidentRepository) GetResponsesByRegion(ctx context.Context, region string, params *utils.PaginationParams) ([]*models.Response, int64, error) {
	return r.filterResponses(func(resp *models.Response) bool {
		return resp.Region == region
	}, params)
}

func (r *incidentRepository) GetOpenResponses(ctx context.Context) ([]*models.Response, error) {
	responses, _, err := r.filterResponses(func(resp *models.Response) bool {
		return !resp.Status.IsTerminal()
	}, &utils.PaginationParams{Page: 1, PageSize: utils.MaxPageSize})
	return responses, err
}

func (r *incidentRepository) filterResponses(match func(*models.Response) bool, params *utils.PaginationParams) ([]*models.Response, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.Response
	for _, response := range r.responses {
		if match(response) {
			matched = append(matched, cloneResponse(response))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (params.Page - 1) * params.PageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + params.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func cloneIncident(in *models.Incident) *models.Incident {
	out := *in
	out.Location.Coordinates = append([]float64(nil), in.Location.Coordinates...)
	return &out
}

func cloneResponse(in *models.Response) *models.Response {
	out := *in
	out.Dispatches = append([]models.ServiceDispatch(nil), in.Dispatches...)
	out.Log = make([]models.ResponseLogEntry, len(in.Log))
	for i, entry := range in.Log {
		out.Log[i] = entry
		if entry.Data != nil {
			data := make(map[string]interface{}, len(entry.Data))
			for k, v := range entry.Data {
				data[k] = v
			}
			out.Log[i].Data = data
		}
	}
	out.Attachments = append([]models.Attachment(nil), in.Attachments...)
	if in.PrimaryResponder != nil {
		pr := *in.PrimaryResponder
		out.PrimaryResponder = &pr
	}
	return &out
}
