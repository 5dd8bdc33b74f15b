package mongodb

import (
	"context"
	"fmt"
	"time"

	"rideguard/internal/models"
	"rideguard/internal/repositories/interfaces"
	"rideguard/internal/utils"
	"rideguard/pkg/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const updateRetries = 5

type incidentRepository struct {
	db        *database.MongoDB
	incidents *mongo.Collection
	responses *mongo.Collection
}

func NewIncidentRepository(db *database.MongoDB) interfaces.IncidentRepository {
	return &incidentRepository{
		db:        db,
		incidents: db.Collection("sos_incidents"),
		responses: db.Collection("sos_responses"),
	}
}

// EnsureIndexes creates the unique idempotency-key index and the query indexes
// the orchestration core relies on. Called once at startup.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("sos_incidents").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$gt": ""}}),
		},
		{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create incident indexes: %w", err)
	}

	_, err = db.Collection("sos_responses").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "incident_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "region", Value: 1}, {Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create response indexes: %w", err)
	}
	return nil
}

// CreateIncidentAndResponse inserts the incident and its response inside one
// transaction, so a trigger never leaves an incident without a state machine.
func (r *incidentRepository) CreateIncidentAndResponse(ctx context.Context, incident *models.Incident, response *models.Response) error {
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

	_, err := r.db.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		if _, err := r.incidents.InsertOne(sessCtx, incident); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, interfaces.ErrDuplicateKey
			}
			return nil, fmt.Errorf("failed to create incident: %w", err)
		}
		if _, err := r.responses.InsertOne(sessCtx, response); err != nil {
			return nil, fmt.Errorf("failed to create response: %w", err)
		}
		return nil, nil
	})
	return err
}

func (r *incidentRepository) GetIncident(ctx context.Context, id primitive.ObjectID) (*models.Incident, error) {
	var incident models.Incident
	err := r.incidents.FindOne(ctx, bson.M{"_id": id}).Decode(&incident)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return &incident, nil
}

func (r *incidentRepository) GetIncidentByCode(ctx context.Context, code string) (*models.Incident, error) {
	var incident models.Incident
	err := r.incidents.FindOne(ctx, bson.M{"code": code}).Decode(&incident)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get incident by code: %w", err)
	}
	return &incident, nil
}

func (r *incidentRepository) GetIncidentByIdempotencyKey(ctx context.Context, key string) (*models.Incident, error) {
	var incident models.Incident
	err := r.incidents.FindOne(ctx, bson.M{"idempotency_key": key}).Decode(&incident)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get incident by idempotency key: %w", err)
	}
	return &incident, nil
}

func (r *incidentRepository) UpdateIncidentStatus(ctx context.Context, id primitive.ObjectID, status models.IncidentStatus) error {
	result, err := r.incidents.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"status": status, "updated_at": time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to update incident status: %w", err)
	}
	if result.MatchedCount == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *incidentRepository) GetResponse(ctx context.Context, id primitive.ObjectID) (*models.Response, error) {
	var response models.Response
	err := r.responses.FindOne(ctx, bson.M{"_id": id}).Decode(&response)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	return &response, nil
}

func (r *incidentRepository) GetResponseByIncident(ctx context.Context, incidentID primitive.ObjectID) (*models.Response, error) {
	var response models.Response
	err := r.responses.FindOne(ctx, bson.M{"incident_id": incidentID}).Decode(&response)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get response by incident: %w", err)
	}
	return &response, nil
}

func (r *incidentRepository) ListServiceDispatches(ctx context.Context, responseID primitive.ObjectID) ([]models.ServiceDispatch, error) {
	response, err := r.GetResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	return response.Dispatches, nil
}

// UpdateResponse is an optimistic read-transform-commit loop. The version
// field guards against concurrent writers; losing a race re-reads and retries.
func (r *incidentRepository) UpdateResponse(ctx context.Context, id primitive.ObjectID, transform func(*models.Response) error) (*models.Response, error) {
	for attempt := 0; attempt < updateRetries; attempt++ {
		response, err := r.GetResponse(ctx, id)
		if err != nil {
			return nil, err
		}

		oldVersion := response.Version
		if err := transform(response); err != nil {
			return nil, err
		}
		response.Version = oldVersion + 1
		response.UpdatedAt = time.Now()

		result, err := r.responses.ReplaceOne(ctx,
			bson.M{"_id": id, "version": oldVersion},
			response,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update response: %w", err)
		}
		if result.MatchedCount == 1 {
			return response, nil
		}
	}
	return nil, interfaces.ErrConflict
}

func (r *incidentRepository) AppendLog(ctx context.Context, responseID primitive.ObjectID, entry models.ResponseLogEntry) error {
	result, err := r.responses.UpdateOne(ctx, bson.M{"_id": responseID}, bson.M{
		"$push": bson.M{"log": entry},
		"$set":  bson.M{"updated_at": time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to append response log: %w", err)
	}
	if result.MatchedCount == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *incidentRepository) GetResponsesByStatus(ctx context.Context, status models.ResponseStatus, params *utils.PaginationParams) ([]*models.Response, int64, error) {
	return r.findResponsesWithFilter(ctx, bson.M{"status": status}, params)
}

func (r *incidentRepository) GetResponsesByRegion(ctx context.Context, region string, params *utils.PaginationParams) ([]*models.Response, int64, error) {
	return r.findResponsesWithFilter(ctx, bson.M{"region": region}, params)
}

func (r *incidentRepository) GetOpenResponses(ctx context.Context) ([]*models.Response, error) {
	filter := bson.M{"status": bson.M{"$nin": []models.ResponseStatus{
		models.ResponseStatusResolved,
		models.ResponseStatusCancelled,
	}}}

	cursor, err := r.responses.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to find open responses: %w", err)
	}
	defer cursor.Close(ctx)

	var responses []*models.Response
	for cursor.Next(ctx) {
		var response models.Response
		if err := cursor.Decode(&response); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		responses = append(responses, &response)
	}
	return responses, nil
}

func (r *incidentRepository) findResponsesWithFilter(ctx context.Context, filter bson.M, params *utils.PaginationParams) ([]*models.Response, int64, error) {
	total, err := r.responses.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count responses: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((params.Page - 1) * params.PageSize)).
		SetLimit(int64(params.PageSize))

	cursor, err := r.responses.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find responses: %w", err)
	}
	defer cursor.Close(ctx)

	var responses []*models.Response
	for cursor.Next(ctx) {
		var response models.Response
		if err := cursor.Decode(&response); err != nil {
			return nil, 0, fmt.Errorf("failed to decode response: %w", err)
		}
		responses = append(responses, &response)
	}
	return responses, total, nil
}
