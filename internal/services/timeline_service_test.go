package services

import (
	"context"
	"testing"
	"time"

	"rideguard/internal/models"
	"rideguard/internal/repositories/interfaces"
	"rideguard/internal/repositories/memory"
	"rideguard/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func seedTimelineResponse(t *testing.T, repo interfaces.IncidentRepository, mutate func(*models.Response)) (*models.Incident, *models.Response) {
	t.Helper()
	triggered := time.Now().Add(-10 * time.Minute)
	incident := &models.Incident{
		Code:        utils.GenerateSOSCode("0001"),
		Type:        models.EmergencyTypeMedical,
		Severity:    8,
		Status:      models.IncidentStatusActive,
		Reporter:    models.Reporter{UserID: primitive.NewObjectID()},
		Location:    models.NewLocation(40.7, -74.0, 5),
		TriggeredAt: triggered,
	}
	response := &models.Response{
		Code:        utils.GenerateResponseCode(),
		SOSCode:     incident.Code,
		Status:      models.ResponseStatusDispatching,
		Priority:    8,
		Region:      "nyc",
		TriggeredAt: triggered,
	}
	if mutate != nil {
		mutate(response)
	}
	require.NoError(t, repo.CreateIncidentAndResponse(context.Background(), incident, response))
	return incident, response
}

func TestTimelineMergesAndOrdersEvents(t *testing.T) {
	repo := memory.NewIncidentRepository()
	svc := NewTimelineService(testSOSConfig(), repo)

	base := time.Now().Add(-5 * time.Minute)
	dispatchedAt := base.Add(2 * time.Second)

	_, response := seedTimelineResponse(t, repo, func(resp *models.Response) {
		resp.TriggeredAt = base
		resp.Log = []models.ResponseLogEntry{
			{ID: "1", Timestamp: base, EventType: utils.EventStatusChanged, Source: "system", Message: "response initiated"},
			{ID: "2", Timestamp: base.Add(30 * time.Second), EventType: utils.EventCommunication, Source: "system", Message: "supervisors notified"},
		}
		resp.Dispatches = []models.ServiceDispatch{
			{
				Service:         models.ServiceTypeMedical,
				Status:          models.DispatchStatusDispatched,
				ReferenceNumber: "AMB-1",
				DispatchedAt:    &dispatchedAt,
			},
		}
	})

	timeline, err := svc.GetTimeline(context.Background(), response.ID)
	require.NoError(t, err)

	require.Len(t, timeline.Events, 3)
	assert.Equal(t, utils.EventStatusChanged, timeline.Events[0].EventType)
	assert.Equal(t, utils.EventServiceDispatched, timeline.Events[1].EventType)
	assert.Equal(t, utils.EventCommunication, timeline.Events[2].EventType)

	for i := 1; i < len(timeline.Events); i++ {
		assert.False(t, timeline.Events[i].Timestamp.Before(timeline.Events[i-1].Timestamp))
	}
}

func TestTimelineTieBreakByCategory(t *testing.T) {
	repo := memory.NewIncidentRepository()
	svc := NewTimelineService(testSOSConfig(), repo)

	base := time.Now().Add(-time.Minute).Truncate(time.Second)

	// three events at the identical timestamp, inserted in reverse priority
	_, response := seedTimelineResponse(t, repo, func(resp *models.Response) {
		resp.Log = []models.ResponseLogEntry{
			{ID: "1", Timestamp: base, EventType: utils.EventCommunication, Source: "system", Message: "supervisors notified"},
			{ID: "2", Timestamp: base, EventType: utils.EventStatusChanged, Source: "operator", Message: "acknowledged"},
		}
		resp.Dispatches = []models.ServiceDispatch{
			{
				Service:        models.ServiceTypeMedical,
				Status:         models.DispatchStatusAcknowledged,
				AcknowledgedAt: &base,
			},
		}
	})

	timeline, err := svc.GetTimeline(context.Background(), response.ID)
	require.NoError(t, err)
	require.Len(t, timeline.Events, 3)

	// state transition > service event > communication
	assert.Equal(t, models.TimelineCategoryTransition, timeline.Events[0].Category)
	assert.Equal(t, models.TimelineCategoryService, timeline.Events[1].Category)
	assert.Equal(t, models.TimelineCategoryCommunication, timeline.Events[2].Category)
}

func TestTimelineMetrics(t *testing.T) {
	repo := memory.NewIncidentRepository()
	svc := NewTimelineService(testSOSConfig(), repo)

	triggered := time.Now().Add(-20 * time.Minute)
	dispatchedAt := triggered.Add(3 * time.Second)
	ackAt := triggered.Add(45 * time.Second)
	arrivedAt := triggered.Add(10 * time.Minute)
	resolvedAt := triggered.Add(18 * time.Minute)

	_, response := seedTimelineResponse(t, repo, func(resp *models.Response) {
		resp.TriggeredAt = triggered
		resp.Status = models.ResponseStatusResolved
		resp.DispatchedAt = &dispatchedAt
		resp.AcknowledgedAt = &ackAt
		resp.ArrivedAt = &arrivedAt
		resp.ResolvedAt = &resolvedAt
	})

	timeline, err := svc.GetTimeline(context.Background(), response.ID)
	require.NoError(t, err)

	metrics := timeline.Metrics
	require.NotNil(t, metrics.DispatchTimeSeconds)
	assert.InDelta(t, 3, *metrics.DispatchTimeSeconds, 0.01)
	require.NotNil(t, metrics.ResponseTimeSeconds)
	assert.InDelta(t, 45, *metrics.ResponseTimeSeconds, 0.01)
	require.NotNil(t, metrics.ArrivalTimeSeconds)
	assert.InDelta(t, 600, *metrics.ArrivalTimeSeconds, 0.01)
	require.NotNil(t, metrics.ResolutionTimeSeconds)
	assert.InDelta(t, 1080, *metrics.ResolutionTimeSeconds, 0.01)

	// elapsed is capped at resolution for closed responses
	assert.InDelta(t, 1080, metrics.ElapsedSeconds, 0.01)
	assert.False(t, metrics.SLAViolation)
}

func TestTimelineMetricsOpenResponse(t *testing.T) {
	repo := memory.NewIncidentRepository()
	svc := NewTimelineService(testSOSConfig(), repo)

	// past the ack budget with no acknowledgment
	_, response := seedTimelineResponse(t, repo, nil)

	timeline, err := svc.GetTimeline(context.Background(), response.ID)
	require.NoError(t, err)

	metrics := timeline.Metrics
	assert.Nil(t, metrics.DispatchTimeSeconds)
	assert.Nil(t, metrics.ResponseTimeSeconds)
	assert.Nil(t, metrics.ArrivalTimeSeconds)
	assert.Nil(t, metrics.ResolutionTimeSeconds)
	assert.Greater(t, metrics.ElapsedSeconds, 0.0)
	assert.True(t, metrics.SLAViolation)
}

func TestTimelineByIncident(t *testing.T) {
	repo := memory.NewIncidentRepository()
	svc := NewTimelineService(testSOSConfig(), repo)

	incident, response := seedTimelineResponse(t, repo, nil)

	timeline, err := svc.GetTimelineByIncident(context.Background(), incident.ID)
	require.NoError(t, err)
	assert.Equal(t, response.ID.Hex(), timeline.ResponseID)
	assert.Equal(t, incident.ID.Hex(), timeline.IncidentID)
	assert.Equal(t, response.SOSCode, timeline.SOSCode)
}

func TestTimelineUnknownResponse(t *testing.T) {
	repo := memory.NewIncidentRepository()
	svc := NewTimelineService(testSOSConfig(), repo)

	_, err := svc.GetTimeline(context.Background(), primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrNotFound)
}
