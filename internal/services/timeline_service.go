package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"rideguard/internal/config"
	"rideguard/internal/models"
	"rideguard/internal/repositories/interfaces"
	"rideguard/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TimelineService is the read-only merge view over a response's audit log and
// per-service dispatch timestamps. It never writes.
type TimelineService interface {
	GetTimeline(ctx context.Context, responseID primitive.ObjectID) (*models.IncidentTimeline, error)
	GetTimelineByIncident(ctx context.Context, incidentID primitive.ObjectID) (*models.IncidentTimeline, error)
}

type timelineService struct {
	config *config.SOSConfig
	repo   interfaces.IncidentRepository
	now    func() time.Time
}

func NewTimelineService(cfg *config.SOSConfig, repo interfaces.IncidentRepository) TimelineService {
	return &timelineService{config: cfg, repo: repo, now: time.Now}
}

func (s *timelineService) GetTimeline(ctx context.Context, responseID primitive.ObjectID) (*models.IncidentTimeline, error) {
	response, err := s.repo.GetResponse(ctx, responseID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return s.build(response), nil
}

func (s *timelineService) GetTimelineByIncident(ctx context.Context, incidentID primitive.ObjectID) (*models.IncidentTimeline, error) {
	response, err := s.repo.GetResponseByIncident(ctx, incidentID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return s.build(response), nil
}

func (s *timelineService) build(response *models.Response) *models.IncidentTimeline {
	events := make([]models.TimelineEvent, 0, len(response.Log)+len(response.Dispatches)*4)

	for _, entry := range response.Log {
		events = append(events, models.TimelineEvent{
			Timestamp: entry.Timestamp,
			Category:  categorize(entry.EventType),
			EventType: entry.EventType,
			Source:    entry.Source,
			Message:   entry.Message,
			Data:      entry.Data,
		})
	}

	for i := range response.Dispatches {
		events = append(events, dispatchEvents(&response.Dispatches[i])...)
	}

	// Stable sort keeps insertion order for entries with identical timestamp
	// and category, which preserves log append order.
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Category.Rank() < events[j].Category.Rank()
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	return &models.IncidentTimeline{
		IncidentID: response.IncidentID.Hex(),
		ResponseID: response.ID.Hex(),
		SOSCode:    response.SOSCode,
		Status:     response.Status,
		Events:     events,
		Metrics:    s.metrics(response),
	}
}

func (s *timelineService) metrics(response *models.Response) models.TimelineMetrics {
	now := s.now()
	end := now
	if response.ResolvedAt != nil {
		end = *response.ResolvedAt
	}

	return models.TimelineMetrics{
		DispatchTimeSeconds:   delta(response.TriggeredAt, response.DispatchedAt),
		ResponseTimeSeconds:   delta(response.TriggeredAt, response.AcknowledgedAt),
		ArrivalTimeSeconds:    delta(response.TriggeredAt, response.ArrivedAt),
		ResolutionTimeSeconds: delta(response.TriggeredAt, response.ResolvedAt),
		ElapsedSeconds:        end.Sub(response.TriggeredAt).Seconds(),
		SLAViolation:          Violation(response, s.config, now),
	}
}

// dispatchEvents expands one ServiceDispatch's milestone timestamps into
// service-category timeline events.
func dispatchEvents(dispatch *models.ServiceDispatch) []models.TimelineEvent {
	service := string(dispatch.Service)
	var events []models.TimelineEvent

	add := func(ts *time.Time, eventType, message string) {
		if ts == nil {
			return
		}
		events = append(events, models.TimelineEvent{
			Timestamp: *ts,
			Category:  models.TimelineCategoryService,
			EventType: eventType,
			Source:    service,
			Message:   fmt.Sprintf("%s %s", service, message),
			Data: map[string]interface{}{
				"service":          service,
				"reference_number": dispatch.ReferenceNumber,
			},
		})
	}

	add(dispatch.DispatchedAt, utils.EventServiceDispatched, "dispatched")
	add(dispatch.AcknowledgedAt, utils.EventServiceAcked, "acknowledged")
	add(dispatch.ArrivedAt, utils.EventServiceArrived, "arrived on scene")
	add(dispatch.CompletedAt, utils.EventServiceCompleted, "completed")
	add(dispatch.FailedAt, utils.EventServiceDegraded, "dispatch failed")
	return events
}

func categorize(eventType string) models.TimelineCategory {
	switch eventType {
	case utils.EventStatusChanged, utils.EventTransitionRejected, utils.EventEscalated, utils.EventCoordinatorSet:
		return models.TimelineCategoryTransition
	case utils.EventServiceDispatched, utils.EventServiceAcked, utils.EventServiceArrived,
		utils.EventServiceCompleted, utils.EventServiceDegraded, utils.EventDispatchFailed:
		return models.TimelineCategoryService
	default:
		return models.TimelineCategoryCommunication
	}
}

func delta(from time.Time, to *time.Time) *float64 {
	if to == nil {
		return nil
	}
	seconds := to.Sub(from).Seconds()
	return &seconds
}
