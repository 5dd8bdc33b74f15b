package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"rideguard/internal/config"
	"rideguard/internal/models"
	"rideguard/internal/repositories/interfaces"
	"rideguard/internal/repositories/memory"
	"rideguard/internal/utils"
	"rideguard/pkg/logger"
	"rideguard/pkg/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeBroadcaster struct {
	mu          sync.Mutex
	envelopes   []websocket.Envelope
	channels    [][]string
	subscribers [][]string
}

func (f *fakeBroadcaster) Broadcast(channels []string, subscribers []string, env websocket.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envelopes = append(f.envelopes, env)
	f.channels = append(f.channels, channels)
	f.subscribers = append(f.subscribers, subscribers)
}

func (f *fakeBroadcaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.envelopes)
}

func (f *fakeBroadcaster) subscriberSets() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.subscribers...)
}

type fakeSLA struct {
	mu         sync.Mutex
	registered []string
	acked      []string
	arrived    []string
	cancelled  []string
}

func (f *fakeSLA) Register(response *models.Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, response.ID.Hex())
}

func (f *fakeSLA) OnAcknowledged(responseID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, responseID)
}

func (f *fakeSLA) OnArrived(responseID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.arrived = append(f.arrived, responseID)
}

func (f *fakeSLA) Cancel(responseID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, responseID)
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	cancelled  []string
}

func (f *fakeDispatcher) DispatchIncident(incident *models.Incident, response *models.Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, response.ID.Hex())
}

func (f *fakeDispatcher) HandleServiceCallback(ctx context.Context, callback *models.ServiceCallbackRequest) (*models.Response, error) {
	return nil, nil
}

func (f *fakeDispatcher) CancelDispatch(responseID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, responseID)
}

func testSOSConfig() *config.SOSConfig {
	return &config.SOSConfig{
		AckBudget:        60 * time.Second,
		ArrivalBudget:    15 * time.Minute,
		CriticalPriority: 9,
		DispatchTimeout:  time.Second,
		DispatchRetries:  1,
		DispatchBackoff:  time.Millisecond,
		DedupWindow:      5 * time.Second,
		Shard:            "0001",
	}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Format: "text"})
	require.NoError(t, err)
	return log
}

func newTestService(t *testing.T) (ResponseService, interfaces.IncidentRepository, *fakeBroadcaster, *fakeSLA, *fakeDispatcher) {
	t.Helper()
	repo := memory.NewIncidentRepository()
	broadcaster := &fakeBroadcaster{}
	sla := &fakeSLA{}
	dispatcher := &fakeDispatcher{}
	svc := NewResponseService(testSOSConfig(), repo, utils.NewKeyedMutex(), nil, broadcaster, dispatcher, sla, nil, nil, testLogger(t))
	return svc, repo, broadcaster, sla, dispatcher
}

func triggerRequest(key string) *models.TriggerRequest {
	return &models.TriggerRequest{
		EmergencyType:        models.EmergencyTypeMedical,
		Severity:             7,
		Latitude:             40.7128,
		Longitude:            -74.006,
		Region:               "nyc",
		Description:          "rider unresponsive",
		Source:               models.TriggerSourceApp,
		ClientIdempotencyKey: key,
		Reporter: models.Reporter{
			UserID: primitive.NewObjectID(),
			Role:   "driver",
			Name:   "Test Driver",
			Phone:  "+15550100",
		},
	}
}

func forceStatus(t *testing.T, repo interfaces.IncidentRepository, id primitive.ObjectID, status models.ResponseStatus) {
	t.Helper()
	_, err := repo.UpdateResponse(context.Background(), id, func(resp *models.Response) error {
		resp.Status = status
		return nil
	})
	require.NoError(t, err)
}

func TestTriggerCreatesPairAndStartsDispatching(t *testing.T) {
	svc, repo, broadcaster, sla, dispatcher := newTestService(t)

	result, err := svc.Trigger(context.Background(), triggerRequest("key-1"))
	require.NoError(t, err)
	require.NotNil(t, result.Incident)
	require.NotNil(t, result.Response)
	assert.False(t, result.Duplicate)

	assert.Equal(t, models.ResponseStatusDispatching, result.Response.Status)
	assert.Equal(t, models.IncidentStatusActive, result.Incident.Status)
	assert.NotEmpty(t, result.Incident.Code)
	assert.Equal(t, result.Incident.Code, result.Response.SOSCode)
	assert.Equal(t, 8, result.Response.Priority, "medical floors priority at 8")

	// required services for a medical emergency
	services := make([]models.ServiceType, 0, len(result.Response.Dispatches))
	for _, d := range result.Response.Dispatches {
		services = append(services, d.Service)
		assert.Equal(t, models.DispatchStatusPending, d.Status)
	}
	assert.ElementsMatch(t, []models.ServiceType{models.ServiceTypeMedical, models.ServiceTypeNationalEmergency}, services)

	// pair is queryable
	stored, err := repo.GetResponseByIncident(context.Background(), result.Incident.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Response.ID, stored.ID)

	assert.Len(t, sla.registered, 1)
	assert.Len(t, dispatcher.dispatched, 1)
	assert.GreaterOrEqual(t, broadcaster.count(), 1)
}

func TestTriggerIdempotentReplay(t *testing.T) {
	svc, _, _, sla, dispatcher := newTestService(t)

	first, err := svc.Trigger(context.Background(), triggerRequest("replay-key"))
	require.NoError(t, err)

	second, err := svc.Trigger(context.Background(), triggerRequest("replay-key"))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Incident.ID, second.Incident.ID)
	assert.Equal(t, first.Response.ID, second.Response.ID)

	// no second dispatch or timer registration
	assert.Len(t, sla.registered, 1)
	assert.Len(t, dispatcher.dispatched, 1)
}

func TestTriggerPanicForcesSeverity(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	request := triggerRequest("panic-key")
	request.EmergencyType = models.EmergencyTypePanic
	request.Severity = 2
	request.Source = models.TriggerSourcePanicButton

	result, err := svc.Trigger(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, models.PanicSeverity, result.Incident.Severity)
	assert.Equal(t, 10, result.Response.Priority)
	require.Len(t, result.Response.Dispatches, 1)
	assert.Equal(t, models.ServiceTypeNationalEmergency, result.Response.Dispatches[0].Service)
}

func TestTriggerRejectsUnknownType(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	request := triggerRequest("bad-type")
	request.EmergencyType = "flood"

	_, err := svc.Trigger(context.Background(), request)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAcknowledgeRecordsResponseTime(t *testing.T) {
	svc, repo, _, sla, _ := newTestService(t)

	result, err := svc.Trigger(context.Background(), triggerRequest("ack-key"))
	require.NoError(t, err)
	forceStatus(t, repo, result.Response.ID, models.ResponseStatusDispatched)

	updated, err := svc.Acknowledge(context.Background(), result.Response.ID, "operator", "", &models.PrimaryResponder{
		Service: models.ServiceTypeMedical,
		Name:    "Unit 12",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ResponseStatusAcknowledged, updated.Status)
	require.NotNil(t, updated.AcknowledgedAt)
	require.NotNil(t, updated.ResponseTimeSeconds)
	require.NotNil(t, updated.WithinSLA)
	assert.True(t, *updated.WithinSLA)
	require.NotNil(t, updated.PrimaryResponder)
	assert.Equal(t, "Unit 12", updated.PrimaryResponder.Name)

	assert.Contains(t, sla.acked, result.Response.ID.Hex())
}

func TestFullLifecycleToResolved(t *testing.T) {
	svc, repo, _, sla, dispatcher := newTestService(t)

	result, err := svc.Trigger(context.Background(), triggerRequest("lifecycle-key"))
	require.NoError(t, err)
	id := result.Response.ID
	forceStatus(t, repo, id, models.ResponseStatusDispatched)

	_, err = svc.Acknowledge(context.Background(), id, "operator", "", nil)
	require.NoError(t, err)

	_, err = svc.MarkResponding(context.Background(), id, "operator")
	require.NoError(t, err)

	arrived, err := svc.Arrive(context.Background(), id, "operator")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusOnScene, arrived.Status)
	require.NotNil(t, arrived.ArrivedAt)
	assert.Contains(t, sla.arrived, id.Hex())

	resolved, err := svc.Complete(context.Background(), id, "rider transported to hospital", "operator")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "rider transported to hospital", resolved.Outcome)

	// terminal side effects
	assert.Contains(t, sla.cancelled, id.Hex())
	assert.Contains(t, dispatcher.cancelled, id.Hex())

	incident, err := repo.GetIncident(context.Background(), result.Incident.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentStatusResolved, incident.Status)
}

func TestIllegalTransitionRejected(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	result, err := svc.Trigger(context.Background(), triggerRequest("illegal-key"))
	require.NoError(t, err)

	// dispatching cannot jump straight to on_scene
	_, err = svc.Arrive(context.Background(), result.Response.ID, "operator")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// state unchanged
	current, err := svc.GetResponse(context.Background(), result.Response.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusDispatching, current.Status)
}

func TestTerminalResponseAuditsRejectedRequest(t *testing.T) {
	svc, repo, _, _, _ := newTestService(t)

	result, err := svc.Trigger(context.Background(), triggerRequest("terminal-key"))
	require.NoError(t, err)
	id := result.Response.ID

	_, err = svc.Cancel(context.Background(), id, "false alarm", "operator")
	require.NoError(t, err)

	_, err = svc.Escalate(context.Background(), id, "", "operator")
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	// the rejected request still left an audit entry, state unchanged
	current, err := repo.GetResponse(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusCancelled, current.Status)

	last := current.Log[len(current.Log)-1]
	assert.Equal(t, utils.EventTransitionRejected, last.EventType)
}

func TestCancelIllegalAfterAcknowledgment(t *testing.T) {
	svc, repo, _, _, _ := newTestService(t)

	result, err := svc.Trigger(context.Background(), triggerRequest("cancel-key"))
	require.NoError(t, err)
	id := result.Response.ID
	forceStatus(t, repo, id, models.ResponseStatusDispatched)

	_, err = svc.Acknowledge(context.Background(), id, "operator", "", nil)
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), id, "changed mind", "operator")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDuplicateTransitionDropped(t *testing.T) {
	svc, repo, _, _, _ := newTestService(t)

	result, err := svc.Trigger(context.Background(), triggerRequest("dedup-key"))
	require.NoError(t, err)
	id := result.Response.ID
	forceStatus(t, repo, id, models.ResponseStatusDispatched)

	_, err = svc.Acknowledge(context.Background(), id, "operator", "", nil)
	require.NoError(t, err)

	first, err := svc.MarkResponding(context.Background(), id, "operator")
	require.NoError(t, err)
	logLen := len(first.Log)

	// identical request inside the de-duplication window is dropped, not
	// double-logged
	second, err := svc.MarkResponding(context.Background(), id, "operator")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusResponding, second.Status)
	assert.Len(t, second.Log, logLen)
}

func TestEscalateIncrementsLevel(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	result, err := svc.Trigger(context.Background(), triggerRequest("esc-key"))
	require.NoError(t, err)
	id := result.Response.ID

	first, err := svc.Escalate(context.Background(), id, "operator judgment", "operator")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusEscalated, first.Status)
	assert.Equal(t, 1, first.EscalationLevel)

	// escalated to escalated is legal and bumps the level again
	second, err := svc.Escalate(context.Background(), id, "still no progress", "operator")
	require.NoError(t, err)
	assert.Equal(t, 2, second.EscalationLevel)
}

func TestEscalateIdenticalRequestInsideWindowDropped(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	result, err := svc.Trigger(context.Background(), triggerRequest("esc-dup-key"))
	require.NoError(t, err)
	id := result.Response.ID

	first, err := svc.Escalate(context.Background(), id, "operator judgment", "operator")
	require.NoError(t, err)
	assert.Equal(t, 1, first.EscalationLevel)

	// a retry of the same escalation request inside the window is a no-op
	replay, err := svc.Escalate(context.Background(), id, "operator judgment", "operator")
	require.NoError(t, err)
	assert.Equal(t, 1, replay.EscalationLevel)
}

func TestAutoEscalateFiresOncePerBoundary(t *testing.T) {
	svc, repo, _, _, _ := newTestService(t)

	result, err := svc.Trigger(context.Background(), triggerRequest("auto-key"))
	require.NoError(t, err)
	id := result.Response.ID

	require.NoError(t, svc.AutoEscalate(context.Background(), id, utils.EscalationNoAck))

	current, err := repo.GetResponse(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusEscalated, current.Status)
	assert.Equal(t, 1, current.EscalationLevel)
	assert.True(t, current.AckEscalated)

	// the same boundary firing again (timer/sweep overlap) is a no-op
	require.NoError(t, svc.AutoEscalate(context.Background(), id, utils.EscalationNoAck))
	current, err = repo.GetResponse(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, current.EscalationLevel)

	// the arrival boundary is distinct and escalates again
	require.NoError(t, svc.AutoEscalate(context.Background(), id, utils.EscalationNoArrival))
	current, err = repo.GetResponse(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, current.EscalationLevel)
	assert.True(t, current.ArrivalEscalated)
}

func TestAutoEscalateSkipsMetMilestone(t *testing.T) {
	svc, repo, _, _, _ := newTestService(t)

	result, err := svc.Trigger(context.Background(), triggerRequest("race-key"))
	require.NoError(t, err)
	id := result.Response.ID
	forceStatus(t, repo, id, models.ResponseStatusDispatched)

	_, err = svc.Acknowledge(context.Background(), id, "operator", "", nil)
	require.NoError(t, err)

	// a late ack timer firing after acknowledgment is silently dropped
	require.NoError(t, svc.AutoEscalate(context.Background(), id, utils.EscalationNoAck))

	current, err := repo.GetResponse(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusAcknowledged, current.Status)
	assert.Equal(t, 0, current.EscalationLevel)
}

func TestAutoEscalateTerminalIsNoop(t *testing.T) {
	svc, repo, _, _, _ := newTestService(t)

	result, err := svc.Trigger(context.Background(), triggerRequest("term-race-key"))
	require.NoError(t, err)
	id := result.Response.ID

	_, err = svc.Cancel(context.Background(), id, "false alarm", "operator")
	require.NoError(t, err)

	require.NoError(t, svc.AutoEscalate(context.Background(), id, utils.EscalationNoAck))

	current, err := repo.GetResponse(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusCancelled, current.Status)
	assert.Equal(t, 0, current.EscalationLevel)
}

func TestEscalatedResponseResumesForwardProgress(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	result, err := svc.Trigger(context.Background(), triggerRequest("resume-key"))
	require.NoError(t, err)
	id := result.Response.ID

	require.NoError(t, svc.AutoEscalate(context.Background(), id, utils.EscalationNoAck))

	// a real acknowledgment after escalation still moves the lifecycle
	updated, err := svc.Acknowledge(context.Background(), id, "operator", "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusAcknowledged, updated.Status)
	assert.Equal(t, 1, updated.EscalationLevel, "level survives the resume")
}

func TestAssignCoordinatorAndNotes(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	result, err := svc.Trigger(context.Background(), triggerRequest("coord-key"))
	require.NoError(t, err)
	id := result.Response.ID
	operatorID := primitive.NewObjectID()

	updated, err := svc.AssignCoordinator(context.Background(), id, operatorID)
	require.NoError(t, err)
	require.NotNil(t, updated.CoordinatorID)
	assert.Equal(t, operatorID, *updated.CoordinatorID)

	noted, err := svc.AddLogEntry(context.Background(), id, "operator", "contacted reporter by phone", nil)
	require.NoError(t, err)
	last := noted.Log[len(noted.Log)-1]
	assert.Equal(t, utils.EventOperatorNote, last.EventType)
	assert.Equal(t, "contacted reporter by phone", last.Message)

	// the note did not change lifecycle state
	assert.Equal(t, models.ResponseStatusDispatching, noted.Status)
}

func TestBroadcastOnlyOnCommittedTransitions(t *testing.T) {
	svc, _, broadcaster, _, _ := newTestService(t)

	result, err := svc.Trigger(context.Background(), triggerRequest("bcast-key"))
	require.NoError(t, err)
	committed := broadcaster.count()

	// rejected transition must not broadcast
	_, err = svc.Arrive(context.Background(), result.Response.ID, "operator")
	require.Error(t, err)
	assert.Equal(t, committed, broadcaster.count())

	// committed transition broadcasts with the region channel
	_, err = svc.Escalate(context.Background(), result.Response.ID, "", "operator")
	require.NoError(t, err)
	require.Equal(t, committed+1, broadcaster.count())
	assert.Contains(t, broadcaster.channels[len(broadcaster.channels)-1], "region:nyc")
}

func TestListByStatusAndRegion(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	_, err := svc.Trigger(context.Background(), triggerRequest("list-1"))
	require.NoError(t, err)
	req := triggerRequest("list-2")
	req.Region = "sf"
	_, err = svc.Trigger(context.Background(), req)
	require.NoError(t, err)

	params := &utils.PaginationParams{Page: 1, PageSize: 10}

	byStatus, total, err := svc.ListByStatus(context.Background(), models.ResponseStatusDispatching, params)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, byStatus, 2)

	byRegion, total, err := svc.ListByRegion(context.Background(), "sf", params)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, byRegion, 1)
	assert.Equal(t, "sf", byRegion[0].Region)
}
