package services

import (
	"context"
	"sync"
	"time"

	"rideguard/internal/config"
	"rideguard/internal/models"
	"rideguard/internal/repositories/interfaces"
	"rideguard/internal/utils"
	"rideguard/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Escalator is the narrow slice of the lifecycle controller the SLA engine
// needs. Wired after construction to break the mutual dependency.
type Escalator interface {
	AutoEscalate(ctx context.Context, responseID primitive.ObjectID, reason string) error
}

type slaTimers struct {
	ack     *time.Timer
	arrival *time.Timer
}

// SLAService owns per-response budget timers. Timers are advisory: firing
// re-checks the persisted record before escalating, and a cron sweep backstops
// timers lost to a process restart.
type SLAService struct {
	config    *config.SOSConfig
	repo      interfaces.IncidentRepository
	logger    *logger.Logger
	escalator Escalator

	cron *cron.Cron

	mu     sync.Mutex
	timers map[string]*slaTimers
}

func NewSLAService(cfg *config.SOSConfig, repo interfaces.IncidentRepository, log *logger.Logger) *SLAService {
	return &SLAService{
		config: cfg,
		repo:   repo,
		logger: log,
		timers: make(map[string]*slaTimers),
	}
}

// SetEscalator wires the lifecycle controller in after both services exist.
func (s *SLAService) SetEscalator(escalator Escalator) {
	s.escalator = escalator
}

// Start schedules the sweep backstop. Optional; timer-based escalation works
// without it.
func (s *SLAService) Start() error {
	if s.config.SweepSchedule == "" {
		return nil
	}
	s.cron = cron.New(cron.WithSeconds())
	if _, err := s.cron.AddFunc(s.config.SweepSchedule, s.Sweep); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *SLAService) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		stopTimers(t)
		delete(s.timers, id)
	}
}

// Register arms both budget timers for a newly triggered response. Budgets
// count from trigger time, so late registration (restart recovery) arms the
// remaining window only.
func (s *SLAService) Register(response *models.Response) {
	id := response.ID
	key := id.Hex()
	elapsed := time.Since(response.TriggeredAt)

	timers := &slaTimers{}
	if response.AcknowledgedAt == nil && !response.AckEscalated {
		ackIn := s.config.AckBudgetFor(response.Priority) - elapsed
		if ackIn < 0 {
			ackIn = 0
		}
		timers.ack = time.AfterFunc(ackIn, func() {
			s.fire(id, utils.EscalationNoAck)
		})
	}
	if response.ArrivedAt == nil && !response.ArrivalEscalated {
		arrivalIn := s.config.ArrivalBudgetFor(response.Priority) - elapsed
		if arrivalIn < 0 {
			arrivalIn = 0
		}
		timers.arrival = time.AfterFunc(arrivalIn, func() {
			s.fire(id, utils.EscalationNoArrival)
		})
	}

	s.mu.Lock()
	if old, ok := s.timers[key]; ok {
		stopTimers(old)
	}
	s.timers[key] = timers
	s.mu.Unlock()
}

// OnAcknowledged cancels the acknowledgment timer the instant the transition
// commits. The arrival timer keeps running.
func (s *SLAService) OnAcknowledged(responseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[responseID]; ok && t.ack != nil {
		t.ack.Stop()
		t.ack = nil
	}
}

// OnArrived cancels the arrival timer and retires the response's entry.
func (s *SLAService) OnArrived(responseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[responseID]; ok {
		stopTimers(t)
		delete(s.timers, responseID)
	}
}

// Cancel drops all timers for a response that reached a terminal state.
func (s *SLAService) Cancel(responseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[responseID]; ok {
		stopTimers(t)
		delete(s.timers, responseID)
	}
}

func (s *SLAService) fire(responseID primitive.ObjectID, reason string) {
	if s.escalator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// AutoEscalate re-checks milestone and terminal state against the record;
	// a raced timer is a silent no-op.
	if err := s.escalator.AutoEscalate(ctx, responseID, reason); err != nil {
		s.logger.WithResponseID(responseID).WithField("reason", reason).WithError(err).Error("Automatic escalation failed")
	}

	if reason == utils.EscalationNoArrival {
		s.mu.Lock()
		if t, ok := s.timers[responseID.Hex()]; ok {
			stopTimers(t)
			delete(s.timers, responseID.Hex())
		}
		s.mu.Unlock()
	}
}

// Sweep scans open responses for breached budgets that have no armed timer,
// typically after a restart dropped the in-process timers. Escalation
// idempotency lives in AutoEscalate, so overlap with a live timer is safe.
func (s *SLAService) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	open, err := s.repo.GetOpenResponses(ctx)
	if err != nil {
		s.logger.WithError(err).Error("SLA sweep failed to load open responses")
		return
	}

	now := time.Now()
	for _, resp := range open {
		elapsed := now.Sub(resp.TriggeredAt)

		if resp.AcknowledgedAt == nil && !resp.AckEscalated && elapsed > s.config.AckBudgetFor(resp.Priority) {
			s.fire(resp.ID, utils.EscalationNoAck)
		}
		if resp.ArrivedAt == nil && !resp.ArrivalEscalated && elapsed > s.config.ArrivalBudgetFor(resp.Priority) {
			s.fire(resp.ID, utils.EscalationNoArrival)
		}
	}
}

// Violation reports whether the response exceeds the budget of its first
// unmet milestone. Derived on every read, never stored. Closed responses are
// measured against their resolution time, not the wall clock.
func Violation(resp *models.Response, cfg *config.SOSConfig, now time.Time) bool {
	if resp.ResolvedAt != nil {
		now = *resp.ResolvedAt
	}
	elapsed := now.Sub(resp.TriggeredAt)
	if resp.AcknowledgedAt == nil {
		return elapsed > cfg.AckBudgetFor(resp.Priority)
	}
	if resp.ArrivedAt == nil {
		return elapsed > cfg.ArrivalBudgetFor(resp.Priority)
	}
	return false
}

func stopTimers(t *slaTimers) {
	if t.ack != nil {
		t.ack.Stop()
		t.ack = nil
	}
	if t.arrival != nil {
		t.arrival.Stop()
		t.arrival = nil
	}
}
