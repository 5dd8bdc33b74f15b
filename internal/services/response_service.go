package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rideguard/internal/config"
	"rideguard/internal/models"
	"rideguard/internal/repositories/interfaces"
	"rideguard/internal/utils"
	"rideguard/pkg/cache"
	"rideguard/pkg/logger"
	"rideguard/pkg/maps"
	"rideguard/pkg/websocket"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// errTimerRace marks an SLA timer firing against a response that already
// moved past the milestone. Silently dropped, never surfaced.
var errTimerRace = errors.New("timer race")

// SLATracker is the escalation engine's registration surface.
type SLATracker interface {
	Register(response *models.Response)
	OnAcknowledged(responseID string)
	OnArrived(responseID string)
	Cancel(responseID string)
}

// SupervisorNotifier delivers the out-of-band escalation notification.
type SupervisorNotifier interface {
	NotifySupervisors(ctx context.Context, incident *models.Incident, response *models.Response, reason string)
}

// ResponseService is the authoritative lifecycle controller for SOS
// responses. All transitions are serialized per response id and committed
// atomically through the store adapter.
type ResponseService interface {
	Trigger(ctx context.Context, request *models.TriggerRequest) (*models.TriggerResult, error)

	Acknowledge(ctx context.Context, responseID primitive.ObjectID, source, message string, responder *models.PrimaryResponder) (*models.Response, error)
	MarkResponding(ctx context.Context, responseID primitive.ObjectID, source string) (*models.Response, error)
	Arrive(ctx context.Context, responseID primitive.ObjectID, source string) (*models.Response, error)
	Complete(ctx context.Context, responseID primitive.ObjectID, outcome, source string) (*models.Response, error)
	Escalate(ctx context.Context, responseID primitive.ObjectID, reason, source string) (*models.Response, error)
	Cancel(ctx context.Context, responseID primitive.ObjectID, reason, source string) (*models.Response, error)

	// AutoEscalate is the SLA timer path: idempotent per budget boundary,
	// silent on races with a late-but-in-time transition.
	AutoEscalate(ctx context.Context, responseID primitive.ObjectID, reason string) error

	AssignCoordinator(ctx context.Context, responseID, operatorID primitive.ObjectID) (*models.Response, error)
	AddLogEntry(ctx context.Context, responseID primitive.ObjectID, source, message string, data map[string]interface{}) (*models.Response, error)
	AddAttachment(ctx context.Context, responseID primitive.ObjectID, attachment models.Attachment) (*models.Response, error)

	GetIncident(ctx context.Context, incidentID primitive.ObjectID) (*models.Incident, error)
	GetResponse(ctx context.Context, responseID primitive.ObjectID) (*models.Response, error)
	GetResponseByIncident(ctx context.Context, incidentID primitive.ObjectID) (*models.Response, error)
	ListByStatus(ctx context.Context, status models.ResponseStatus, params *utils.PaginationParams) ([]*models.Response, int64, error)
	ListByRegion(ctx context.Context, region string, params *utils.PaginationParams) ([]*models.Response, int64, error)
}

// DispatchCoordinator drives the per-service external dispatches for a
// triggered incident.
type DispatchCoordinator interface {
	DispatchIncident(incident *models.Incident, response *models.Response)
	HandleServiceCallback(ctx context.Context, callback *models.ServiceCallbackRequest) (*models.Response, error)
	CancelDispatch(responseID string)
}

type responseService struct {
	config      *config.SOSConfig
	repo        interfaces.IncidentRepository
	locks       *utils.KeyedMutex
	cache       *cache.RedisCache
	broadcaster Broadcaster
	dispatcher  DispatchCoordinator
	sla         SLATracker
	notifier    SupervisorNotifier
	geocoder    maps.Geocoder
	logger      *logger.Logger

	dedupMu sync.Mutex
	dedup   map[string]time.Time
}

func NewResponseService(
	cfg *config.SOSConfig,
	repo interfaces.IncidentRepository,
	locks *utils.KeyedMutex,
	redisCache *cache.RedisCache,
	broadcaster Broadcaster,
	dispatcher DispatchCoordinator,
	sla SLATracker,
	notifier SupervisorNotifier,
	geocoder maps.Geocoder,
	log *logger.Logger,
) ResponseService {
	return &responseService{
		config:      cfg,
		repo:        repo,
		locks:       locks,
		cache:       redisCache,
		broadcaster: broadcaster,
		dispatcher:  dispatcher,
		sla:         sla,
		notifier:    notifier,
		geocoder:    geocoder,
		logger:      log,
		dedup:       make(map[string]time.Time),
	}
}

func (s *responseService) Trigger(ctx context.Context, request *models.TriggerRequest) (*models.TriggerResult, error) {
	if !models.IsValidEmergencyType(request.EmergencyType) {
		return nil, fmt.Errorf("%w: unknown emergency type %q", ErrInvalidInput, request.EmergencyType)
	}
	if request.ClientIdempotencyKey == "" {
		return nil, fmt.Errorf("%w: client idempotency key required", ErrInvalidInput)
	}

	// Replays from an offline queue flush must not create a second pair.
	if result := s.findExistingTrigger(ctx, request.ClientIdempotencyKey); result != nil {
		return result, nil
	}

	severity := request.Severity
	if severity == 0 {
		severity = 5
	}
	if request.Source == models.TriggerSourcePanicButton || request.EmergencyType == models.EmergencyTypePanic {
		severity = models.PanicSeverity
	}

	now := time.Now()
	location := models.NewLocation(request.Latitude, request.Longitude, request.AccuracyMeters)
	location.Region = request.Region
	s.enrichLocation(ctx, &location)

	incident := &models.Incident{
		Code:           utils.GenerateSOSCode(s.config.Shard),
		Type:           request.EmergencyType,
		Severity:       severity,
		Status:         models.IncidentStatusActive,
		Reporter:       request.Reporter,
		DriverID:       request.DriverID,
		VehicleID:      request.VehicleID,
		RideID:         request.RideID,
		Location:       location,
		Description:    request.Description,
		Source:         request.Source,
		IdempotencyKey: request.ClientIdempotencyKey,
		TriggeredAt:    now,
	}

	priority := models.DerivePriority(severity, request.EmergencyType)
	required := RequiredServices(request.EmergencyType)
	dispatches := make([]models.ServiceDispatch, len(required))
	for i, service := range required {
		dispatches[i] = models.ServiceDispatch{
			Service: service,
			Status:  models.DispatchStatusPending,
		}
	}

	response := &models.Response{
		Code:        utils.GenerateResponseCode(),
		SOSCode:     incident.Code,
		Status:      models.ResponseStatusInitiated,
		Priority:    priority,
		Region:      request.Region,
		Dispatches:  dispatches,
		TriggeredAt: now,
		Log: []models.ResponseLogEntry{
			newLogEntry(utils.EventStatusChanged, sourceSystem, "response initiated", map[string]interface{}{
				"to": string(models.ResponseStatusInitiated),
			}),
		},
	}

	if err := s.repo.CreateIncidentAndResponse(ctx, incident, response); err != nil {
		if errors.Is(err, interfaces.ErrDuplicateKey) {
			if result := s.findExistingTrigger(ctx, request.ClientIdempotencyKey); result != nil {
				return result, nil
			}
		}
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}
	s.rememberTrigger(ctx, request.ClientIdempotencyKey, incident.ID)

	// The pair exists and is queryable from here on; nothing below may fail
	// the trigger.
	entry := newLogEntry(utils.EventStatusChanged, sourceSystem, "dispatch coordinator invoked", nil)
	if updated, err := s.transition(ctx, response.ID, models.ResponseStatusDispatching, entry, nil); err == nil {
		response = updated
	} else {
		s.logger.WithResponseID(response.ID).WithError(err).Warn("Failed to enter dispatching state")
	}

	if s.sla != nil {
		s.sla.Register(response)
	}
	if s.dispatcher != nil {
		s.dispatcher.DispatchIncident(incident, response)
	}

	s.logger.WithFields(map[string]interface{}{
		"incident_id": incident.ID.Hex(),
		"sos_code":    incident.Code,
		"type":        string(incident.Type),
		"severity":    incident.Severity,
		"priority":    priority,
		"source":      string(incident.Source),
	}).Info("SOS triggered")

	return &models.TriggerResult{Incident: incident, Response: response, Duplicate: false}, nil
}

func (s *responseService) Acknowledge(ctx context.Context, responseID primitive.ObjectID, source, message string, responder *models.PrimaryResponder) (*models.Response, error) {
	if message == "" {
		message = "response acknowledged"
	}
	entry := newLogEntry(utils.EventStatusChanged, source, message, nil)

	updated, err := s.transition(ctx, responseID, models.ResponseStatusAcknowledged, entry, func(resp *models.Response) error {
		if resp.AcknowledgedAt != nil {
			return fmt.Errorf("%w: response already acknowledged", ErrInvalidTransition)
		}
		now := time.Now()
		resp.AcknowledgedAt = &now

		responseTime := now.Sub(resp.TriggeredAt)
		seconds := responseTime.Seconds()
		resp.ResponseTimeSeconds = &seconds
		within := responseTime <= s.config.AckBudgetFor(resp.Priority)
		resp.WithinSLA = &within

		if responder != nil && resp.PrimaryResponder == nil {
			resp.PrimaryResponder = responder
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.sla != nil {
		s.sla.OnAcknowledged(responseID.Hex())
	}
	return updated, nil
}

func (s *responseService) MarkResponding(ctx context.Context, responseID primitive.ObjectID, source string) (*models.Response, error) {
	entry := newLogEntry(utils.EventStatusChanged, source, "responder en route", nil)
	return s.transition(ctx, responseID, models.ResponseStatusResponding, entry, nil)
}

func (s *responseService) Arrive(ctx context.Context, responseID primitive.ObjectID, source string) (*models.Response, error) {
	entry := newLogEntry(utils.EventStatusChanged, source, "responder on scene", nil)

	updated, err := s.transition(ctx, responseID, models.ResponseStatusOnScene, entry, func(resp *models.Response) error {
		if resp.ArrivedAt != nil {
			return fmt.Errorf("%w: arrival already recorded", ErrInvalidTransition)
		}
		now := time.Now()
		resp.ArrivedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.sla != nil {
		s.sla.OnArrived(responseID.Hex())
	}
	return updated, nil
}

func (s *responseService) Complete(ctx context.Context, responseID primitive.ObjectID, outcome, source string) (*models.Response, error) {
	entry := newLogEntry(utils.EventStatusChanged, source, "response resolved", map[string]interface{}{
		"outcome": outcome,
	})

	updated, err := s.transition(ctx, responseID, models.ResponseStatusResolved, entry, func(resp *models.Response) error {
		now := time.Now()
		resp.ResolvedAt = &now
		resp.Outcome = outcome
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.closeOut(ctx, updated, models.IncidentStatusResolved)
	return updated, nil
}

func (s *responseService) Escalate(ctx context.Context, responseID primitive.ObjectID, reason, source string) (*models.Response, error) {
	if reason == "" {
		reason = utils.EscalationManual
	}
	entry := newLogEntry(utils.EventEscalated, source, "response escalated", map[string]interface{}{
		"reason": reason,
	})

	updated, err := s.transition(ctx, responseID, models.ResponseStatusEscalated, entry, func(resp *models.Response) error {
		resp.EscalationLevel++
		entry.Data["escalation_level"] = resp.EscalationLevel
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifySupervisors(ctx, updated, reason)
	return updated, nil
}

func (s *responseService) AutoEscalate(ctx context.Context, responseID primitive.ObjectID, reason string) error {
	entry := newLogEntry(utils.EventEscalated, sourceSystem, "automatic escalation", map[string]interface{}{
		"reason": reason,
	})

	var updated *models.Response
	var err error
	s.locks.WithLock(responseID.Hex(), func() {
		updated, err = s.repo.UpdateResponse(ctx, responseID, func(resp *models.Response) error {
			if resp.Status.IsTerminal() {
				return errTimerRace
			}
			// Timers are advisory: re-check the milestone and the per-boundary
			// marker before acting.
			switch reason {
			case utils.EscalationNoAck:
				if resp.AcknowledgedAt != nil || resp.AckEscalated {
					return errTimerRace
				}
				resp.AckEscalated = true
			case utils.EscalationNoArrival:
				if resp.ArrivedAt != nil || resp.ArrivalEscalated {
					return errTimerRace
				}
				resp.ArrivalEscalated = true
			}
			if !resp.Status.CanTransitionTo(models.ResponseStatusEscalated) {
				return errTimerRace
			}
			resp.EscalationLevel++
			entry.Data["escalation_level"] = resp.EscalationLevel
			resp.Status = models.ResponseStatusEscalated
			resp.Log = append(resp.Log, entry)
			return nil
		})
	})
	if errors.Is(err, errTimerRace) {
		return nil
	}
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil
		}
		return err
	}

	s.logger.WithResponseID(responseID).WithField("reason", reason).Warn("SLA breach, escalating")
	s.broadcastTransition(ctx, updated, utils.EventEscalated, map[string]interface{}{
		"reason":           reason,
		"escalation_level": updated.EscalationLevel,
	})
	s.notifySupervisors(ctx, updated, reason)
	return nil
}

func (s *responseService) Cancel(ctx context.Context, responseID primitive.ObjectID, reason, source string) (*models.Response, error) {
	entry := newLogEntry(utils.EventStatusChanged, source, "response cancelled", map[string]interface{}{
		"reason": reason,
	})

	updated, err := s.transition(ctx, responseID, models.ResponseStatusCancelled, entry, func(resp *models.Response) error {
		now := time.Now()
		resp.ResolvedAt = &now
		resp.CancelReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.closeOut(ctx, updated, models.IncidentStatusCancelled)
	return updated, nil
}

func (s *responseService) AssignCoordinator(ctx context.Context, responseID, operatorID primitive.ObjectID) (*models.Response, error) {
	entry := newLogEntry(utils.EventCoordinatorSet, "operator", "coordinating operator assigned", map[string]interface{}{
		"operator_id": operatorID.Hex(),
	})
	return s.appendOnly(ctx, responseID, entry, func(resp *models.Response) error {
		resp.CoordinatorID = &operatorID
		return nil
	})
}

func (s *responseService) AddLogEntry(ctx context.Context, responseID primitive.ObjectID, source, message string, data map[string]interface{}) (*models.Response, error) {
	entry := newLogEntry(utils.EventOperatorNote, source, message, data)
	return s.appendOnly(ctx, responseID, entry, nil)
}

func (s *responseService) AddAttachment(ctx context.Context, responseID primitive.ObjectID, attachment models.Attachment) (*models.Response, error) {
	if attachment.ID == "" {
		attachment.ID = uuid.NewString()
	}
	if attachment.UploadedAt.IsZero() {
		attachment.UploadedAt = time.Now()
	}
	entry := newLogEntry(utils.EventAttachmentAdded, "operator", "evidence attached", map[string]interface{}{
		"attachment_id": attachment.ID,
		"kind":          attachment.Kind,
	})
	return s.appendOnly(ctx, responseID, entry, func(resp *models.Response) error {
		resp.Attachments = append(resp.Attachments, attachment)
		return nil
	})
}

func (s *responseService) GetIncident(ctx context.Context, incidentID primitive.ObjectID) (*models.Incident, error) {
	incident, err := s.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return incident, nil
}

func (s *responseService) GetResponse(ctx context.Context, responseID primitive.ObjectID) (*models.Response, error) {
	response, err := s.repo.GetResponse(ctx, responseID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return response, nil
}

func (s *responseService) GetResponseByIncident(ctx context.Context, incidentID primitive.ObjectID) (*models.Response, error) {
	response, err := s.repo.GetResponseByIncident(ctx, incidentID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return response, nil
}

func (s *responseService) ListByStatus(ctx context.Context, status models.ResponseStatus, params *utils.PaginationParams) ([]*models.Response, int64, error) {
	return s.repo.GetResponsesByStatus(ctx, status, params)
}

func (s *responseService) ListByRegion(ctx context.Context, region string, params *utils.PaginationParams) ([]*models.Response, int64, error) {
	return s.repo.GetResponsesByRegion(ctx, region, params)
}

// transition is the single commit path for status changes: per-id lock,
// duplicate-request window, atomic update with a legality check against the
// current persisted state, exactly one log entry, broadcast after commit.
func (s *responseService) transition(ctx context.Context, responseID primitive.ObjectID, target models.ResponseStatus, entry models.ResponseLogEntry, mutate func(*models.Response) error) (*models.Response, error) {
	dedupKey := responseID.Hex() + ":" + string(target)
	if target == models.ResponseStatusEscalated {
		// Repeat escalations with a new reason are deliberate requests, not
		// retries; only identical ones fall inside the window.
		if reason, ok := entry.Data["reason"].(string); ok {
			dedupKey += ":" + reason
		}
	}
	if s.isDuplicateRequest(ctx, dedupKey) {
		current, err := s.repo.GetResponse(ctx, responseID)
		if err != nil {
			return nil, mapRepoErr(err)
		}
		return current, nil
	}

	var updated *models.Response
	var err error
	s.locks.WithLock(responseID.Hex(), func() {
		updated, err = s.repo.UpdateResponse(ctx, responseID, func(resp *models.Response) error {
			if resp.Status.IsTerminal() {
				return ErrAlreadyTerminal
			}
			if !resp.Status.CanTransitionTo(target) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, resp.Status, target)
			}
			entry.Data["from"] = string(resp.Status)
			entry.Data["to"] = string(target)
			if mutate != nil {
				if err := mutate(resp); err != nil {
					return err
				}
			}
			resp.Status = target
			resp.Log = append(resp.Log, entry)
			return nil
		})
	})

	if errors.Is(err, ErrAlreadyTerminal) {
		// No-op on state, but the request is still recorded for audit.
		audit := newLogEntry(utils.EventTransitionRejected, entry.Source, "transition rejected: response terminal", map[string]interface{}{
			"requested": string(target),
		})
		if logErr := s.repo.AppendLog(ctx, responseID, audit); logErr != nil {
			s.logger.WithResponseID(responseID).WithError(logErr).Warn("Failed to audit rejected transition")
		}
		return nil, err
	}
	if err != nil {
		return nil, mapRepoErr(err)
	}

	s.markRequestProcessed(ctx, dedupKey)
	s.broadcastTransition(ctx, updated, entry.EventType, entry.Data)
	return updated, nil
}

// appendOnly commits a non-transition mutation (coordinator, note,
// attachment) with the same per-id serialization and single log entry.
func (s *responseService) appendOnly(ctx context.Context, responseID primitive.ObjectID, entry models.ResponseLogEntry, mutate func(*models.Response) error) (*models.Response, error) {
	var updated *models.Response
	var err error
	s.locks.WithLock(responseID.Hex(), func() {
		updated, err = s.repo.UpdateResponse(ctx, responseID, func(resp *models.Response) error {
			if resp.Status.IsTerminal() {
				return ErrAlreadyTerminal
			}
			if mutate != nil {
				if err := mutate(resp); err != nil {
					return err
				}
			}
			resp.Log = append(resp.Log, entry)
			return nil
		})
	})
	if err != nil {
		return nil, mapRepoErr(err)
	}
	s.broadcastTransition(ctx, updated, entry.EventType, entry.Data)
	return updated, nil
}

// closeOut runs the terminal-state side effects: stop timers and retries,
// settle the incident record.
func (s *responseService) closeOut(ctx context.Context, resp *models.Response, incidentStatus models.IncidentStatus) {
	if s.sla != nil {
		s.sla.Cancel(resp.ID.Hex())
	}
	if s.dispatcher != nil {
		s.dispatcher.CancelDispatch(resp.ID.Hex())
	}
	if err := s.repo.UpdateIncidentStatus(ctx, resp.IncidentID, incidentStatus); err != nil {
		s.logger.WithResponseID(resp.ID).WithError(err).Warn("Failed to settle incident status")
	}
}

func (s *responseService) broadcastTransition(ctx context.Context, resp *models.Response, eventType string, payload map[string]interface{}) {
	if s.broadcaster == nil {
		return
	}

	channels := []string{
		"region:" + resp.Region,
		fmt.Sprintf("priority:%d", resp.Priority),
		"response:" + resp.ID.Hex(),
	}
	var subscribers []string
	if incident, err := s.repo.GetIncident(ctx, resp.IncidentID); err == nil {
		subscribers = append(subscribers, incident.Reporter.UserID.Hex())
	}
	if resp.CoordinatorID != nil {
		subscribers = append(subscribers, resp.CoordinatorID.Hex())
	}

	s.broadcaster.Broadcast(channels, subscribers, websocket.Envelope{
		Type:       eventType,
		IncidentID: resp.IncidentID.Hex(),
		ResponseID: resp.ID.Hex(),
		Status:     string(resp.Status),
		Payload:    payload,
	})
}

func (s *responseService) notifySupervisors(ctx context.Context, resp *models.Response, reason string) {
	if s.notifier == nil {
		return
	}
	incident, err := s.repo.GetIncident(ctx, resp.IncidentID)
	if err != nil {
		s.logger.WithResponseID(resp.ID).WithError(err).Warn("Failed to load incident for supervisor notification")
		return
	}
	// Out-of-band; never blocks or fails the transition.
	go s.notifier.NotifySupervisors(context.WithoutCancel(ctx), incident, resp, reason)
}

func (s *responseService) enrichLocation(ctx context.Context, location *models.Location) {
	if s.geocoder == nil {
		return
	}
	geoCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result, err := s.geocoder.ReverseGeocode(geoCtx, location.Latitude(), location.Longitude())
	if err != nil {
		s.logger.WithError(err).Debug("Reverse geocoding failed, continuing without address")
		return
	}
	location.Address = result.Address
	if location.Region == "" {
		location.Region = result.City
	}
}

func (s *responseService) findExistingTrigger(ctx context.Context, idempotencyKey string) *models.TriggerResult {
	var incidentID primitive.ObjectID

	if s.cache != nil {
		var hex string
		if err := s.cache.Get(ctx, "sos:idem:"+idempotencyKey, &hex); err == nil {
			if id, err := primitive.ObjectIDFromHex(hex); err == nil {
				incidentID = id
			}
		}
	}
	if incidentID.IsZero() {
		incident, err := s.repo.GetIncidentByIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			return nil
		}
		incidentID = incident.ID
	}

	incident, err := s.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return nil
	}
	response, err := s.repo.GetResponseByIncident(ctx, incidentID)
	if err != nil {
		return nil
	}
	return &models.TriggerResult{Incident: incident, Response: response, Duplicate: true}
}

func (s *responseService) rememberTrigger(ctx context.Context, idempotencyKey string, incidentID primitive.ObjectID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, "sos:idem:"+idempotencyKey, incidentID.Hex(), 24*time.Hour); err != nil {
		s.logger.WithError(err).Debug("Failed to cache idempotency key")
	}
}

// isDuplicateRequest reports whether an identical transition request was
// committed inside the de-duplication window.
func (s *responseService) isDuplicateRequest(ctx context.Context, key string) bool {
	window := s.config.DedupWindow
	if window <= 0 {
		return false
	}

	if s.cache != nil {
		exists, err := s.cache.Exists(ctx, "sos:dedup:"+key)
		if err == nil {
			return exists
		}
	}

	s.dedupMu.Lock()
	defer s.dedupMu.Unlock()
	stamp, ok := s.dedup[key]
	return ok && time.Since(stamp) < window
}

func (s *responseService) markRequestProcessed(ctx context.Context, key string) {
	window := s.config.DedupWindow
	if window <= 0 {
		return
	}

	if s.cache != nil {
		if _, err := s.cache.SetNX(ctx, "sos:dedup:"+key, 1, window); err == nil {
			return
		}
	}

	s.dedupMu.Lock()
	defer s.dedupMu.Unlock()
	now := time.Now()
	s.dedup[key] = now
	for k, stamp := range s.dedup {
		if now.Sub(stamp) >= window {
			delete(s.dedup, k)
		}
	}
}

func mapRepoErr(err error) error {
	if errors.Is(err, interfaces.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
