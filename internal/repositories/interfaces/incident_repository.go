package interfaces

import (
	"context"
	"errors"

	"rideguard/internal/models"
	"rideguard/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned for lookups and updates against unknown ids.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when an insert collides with a unique index
	// (idempotency key on the incidents collection).
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrConflict is returned when an optimistic update loses too many races.
	ErrConflict = errors.New("update conflict")
)

// IncidentRepository is the Incident Store Adapter: typed access to SOS and
// Response records with transactional update-by-id and append-only log insert.
type IncidentRepository interface {
	// Creation. Incident and Response are created together on trigger; both
	// are queryable before the call returns.
	CreateIncidentAndResponse(ctx context.Context, incident *models.Incident, response *models.Response) error

	// Incident reads
	GetIncident(ctx context.Context, id primitive.ObjectID) (*models.Incident, error)
	GetIncidentByCode(ctx context.Context, code string) (*models.Incident, error)
	GetIncidentByIdempotencyKey(ctx context.Context, key string) (*models.Incident, error)
	UpdateIncidentStatus(ctx context.Context, id primitive.ObjectID, status models.IncidentStatus) error

	// Response reads
	GetResponse(ctx context.Context, id primitive.ObjectID) (*models.Response, error)
	GetResponseByIncident(ctx context.Context, incidentID primitive.ObjectID) (*models.Response, error)
	ListServiceDispatches(ctx context.Context, responseID primitive.ObjectID) ([]models.ServiceDispatch, error)

	// UpdateResponse applies transform atomically against the current record.
	// The transform sees a consistent snapshot; the commit rejects concurrent
	// writers and retries. Returning an error from transform aborts without
	// writing.
	UpdateResponse(ctx context.Context, id primitive.ObjectID, transform func(*models.Response) error) (*models.Response, error)

	// AppendLog appends a single audit entry outside a status transition
	// (rejected transitions are still logged for audit).
	AppendLog(ctx context.Context, responseID primitive.ObjectID, entry models.ResponseLogEntry) error

	// Queries
	GetResponsesByStatus(ctx context.Context, status models.ResponseStatus, params *utils.PaginationParams) ([]*models.Response, int64, error)
	GetResponsesByRegion(ctx context.Context, region string, params *utils.PaginationParams) ([]*models.Response, int64, error)
	GetOpenResponses(ctx context.Context) ([]*models.Response, error)
}
