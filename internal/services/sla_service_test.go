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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeEscalator struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeEscalator) AutoEscalate(ctx context.Context, responseID primitive.ObjectID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reason)
	return nil
}

func (f *fakeEscalator) reasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func shortBudgetConfig() *config.SOSConfig {
	return &config.SOSConfig{
		AckBudget:        30 * time.Millisecond,
		ArrivalBudget:    80 * time.Millisecond,
		CriticalPriority: 9,
	}
}

func newSLAFixture(t *testing.T, cfg *config.SOSConfig) (*SLAService, *fakeEscalator, interfaces.IncidentRepository) {
	t.Helper()
	repo := memory.NewIncidentRepository()
	svc := NewSLAService(cfg, repo, testLogger(t))
	escalator := &fakeEscalator{}
	svc.SetEscalator(escalator)
	t.Cleanup(svc.Stop)
	return svc, escalator, repo
}

func openResponse(t *testing.T, repo interfaces.IncidentRepository, priority int) *models.Response {
	t.Helper()
	incident := &models.Incident{
		Code:        utils.GenerateSOSCode("0001"),
		Type:        models.EmergencyTypeMedical,
		Severity:    priority,
		Status:      models.IncidentStatusActive,
		Reporter:    models.Reporter{UserID: primitive.NewObjectID()},
		Location:    models.NewLocation(40.7, -74.0, 5),
		TriggeredAt: time.Now(),
	}
	response := &models.Response{
		Code:        utils.GenerateResponseCode(),
		SOSCode:     incident.Code,
		Status:      models.ResponseStatusDispatching,
		Priority:    priority,
		Region:      "nyc",
		TriggeredAt: incident.TriggeredAt,
	}
	require.NoError(t, repo.CreateIncidentAndResponse(context.Background(), incident, response))
	return response
}

func TestAckTimerFires(t *testing.T) {
	svc, escalator, repo := newSLAFixture(t, shortBudgetConfig())

	response := openResponse(t, repo, 5)
	svc.Register(response)

	assert.Eventually(t, func() bool {
		for _, reason := range escalator.reasons() {
			if reason == utils.EscalationNoAck {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestAckTimerCancelledOnAcknowledgment(t *testing.T) {
	svc, escalator, repo := newSLAFixture(t, shortBudgetConfig())

	response := openResponse(t, repo, 5)
	svc.Register(response)
	svc.OnAcknowledged(response.ID.Hex())

	// give the (cancelled) ack timer time to have fired
	time.Sleep(60 * time.Millisecond)
	for _, reason := range escalator.reasons() {
		assert.NotEqual(t, utils.EscalationNoAck, reason)
	}
}

func TestArrivalTimerFiresAfterAck(t *testing.T) {
	svc, escalator, repo := newSLAFixture(t, shortBudgetConfig())

	response := openResponse(t, repo, 5)
	svc.Register(response)
	svc.OnAcknowledged(response.ID.Hex())

	assert.Eventually(t, func() bool {
		for _, reason := range escalator.reasons() {
			if reason == utils.EscalationNoArrival {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestTimersStopOnArrivalAndCancel(t *testing.T) {
	svc, escalator, repo := newSLAFixture(t, shortBudgetConfig())

	arrived := openResponse(t, repo, 5)
	svc.Register(arrived)
	svc.OnArrived(arrived.ID.Hex())

	cancelled := openResponse(t, repo, 5)
	svc.Register(cancelled)
	svc.Cancel(cancelled.ID.Hex())

	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, escalator.reasons())
}

func TestRegisterArmsRemainingWindowOnly(t *testing.T) {
	svc, escalator, repo := newSLAFixture(t, shortBudgetConfig())

	// restart recovery: the response was triggered past its ack budget
	response := openResponse(t, repo, 5)
	response.TriggeredAt = time.Now().Add(-time.Second)
	svc.Register(response)

	assert.Eventually(t, func() bool {
		return len(escalator.reasons()) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestRegisterSkipsMetMilestones(t *testing.T) {
	svc, escalator, repo := newSLAFixture(t, shortBudgetConfig())

	now := time.Now()
	response := openResponse(t, repo, 5)
	response.AcknowledgedAt = &now
	response.ArrivedAt = &now
	svc.Register(response)

	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, escalator.reasons())
}

func TestSweepEscalatesBreachedResponses(t *testing.T) {
	cfg := shortBudgetConfig()
	svc, escalator, repo := newSLAFixture(t, cfg)

	response := openResponse(t, repo, 5)
	_, err := repo.UpdateResponse(context.Background(), response.ID, func(resp *models.Response) error {
		resp.TriggeredAt = time.Now().Add(-time.Second)
		return nil
	})
	require.NoError(t, err)

	// no timer was ever armed for this response; the sweep backstop finds it
	svc.Sweep()

	reasons := escalator.reasons()
	assert.Contains(t, reasons, utils.EscalationNoAck)
	assert.Contains(t, reasons, utils.EscalationNoArrival)
}

func TestSweepSkipsEscalatedBoundaries(t *testing.T) {
	svc, escalator, repo := newSLAFixture(t, shortBudgetConfig())

	response := openResponse(t, repo, 5)
	_, err := repo.UpdateResponse(context.Background(), response.ID, func(resp *models.Response) error {
		resp.TriggeredAt = time.Now().Add(-time.Second)
		resp.AckEscalated = true
		resp.ArrivalEscalated = true
		return nil
	})
	require.NoError(t, err)

	svc.Sweep()
	assert.Empty(t, escalator.reasons())
}

func TestViolationDerivation(t *testing.T) {
	cfg := &config.SOSConfig{
		AckBudget:        60 * time.Second,
		ArrivalBudget:    15 * time.Minute,
		CriticalPriority: 9,
	}
	now := time.Now()

	resp := &models.Response{Priority: 5, TriggeredAt: now.Add(-30 * time.Second)}
	assert.False(t, Violation(resp, cfg, now), "inside ack budget")

	resp.TriggeredAt = now.Add(-90 * time.Second)
	assert.True(t, Violation(resp, cfg, now), "past ack budget without acknowledgment")

	ackAt := now.Add(-50 * time.Second)
	resp.AcknowledgedAt = &ackAt
	assert.False(t, Violation(resp, cfg, now), "acknowledged, inside arrival budget")

	resp.TriggeredAt = now.Add(-20 * time.Minute)
	assert.True(t, Violation(resp, cfg, now), "past arrival budget without arrival")

	arrivedAt := now
	resp.ArrivedAt = &arrivedAt
	assert.False(t, Violation(resp, cfg, now), "all milestones met")
}

func TestViolationMeasuresClosedResponsesAtResolution(t *testing.T) {
	cfg := &config.SOSConfig{
		AckBudget:        60 * time.Second,
		ArrivalBudget:    15 * time.Minute,
		CriticalPriority: 9,
	}
	now := time.Now()

	triggered := now.Add(-time.Hour)
	resolved := triggered.Add(30 * time.Second)
	resp := &models.Response{
		Priority:    5,
		Status:      models.ResponseStatusCancelled,
		TriggeredAt: triggered,
		ResolvedAt:  &resolved,
	}
	assert.False(t, Violation(resp, cfg, now), "cancelled inside the ack budget never flips later")

	lateResolved := triggered.Add(2 * time.Minute)
	resp.ResolvedAt = &lateResolved
	assert.True(t, Violation(resp, cfg, now), "closed after breaching the ack budget")
}

func TestCriticalPriorityBudgets(t *testing.T) {
	cfg := &config.SOSConfig{
		AckBudget:             60 * time.Second,
		ArrivalBudget:         15 * time.Minute,
		CriticalAckBudget:     30 * time.Second,
		CriticalArrivalBudget: 8 * time.Minute,
		CriticalPriority:      9,
	}

	assert.Equal(t, 60*time.Second, cfg.AckBudgetFor(5))
	assert.Equal(t, 30*time.Second, cfg.AckBudgetFor(9))
	assert.Equal(t, 30*time.Second, cfg.AckBudgetFor(10))
	assert.Equal(t, 15*time.Minute, cfg.ArrivalBudgetFor(5))
	assert.Equal(t, 8*time.Minute, cfg.ArrivalBudgetFor(10))
}
