package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rideguard/internal/config"
	"rideguard/internal/models"
	"rideguard/internal/repositories/interfaces"
	"rideguard/internal/utils"
	"rideguard/pkg/logger"
	"rideguard/pkg/responder"
	"rideguard/pkg/websocket"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// requiredServices maps each emergency type onto the external services that
// must be engaged. Pure data, no side effects.
var requiredServices = map[models.EmergencyType][]models.ServiceType{
	models.EmergencyTypeMedical:  {models.ServiceTypeMedical, models.ServiceTypeNationalEmergency},
	models.EmergencyTypeSecurity: {models.ServiceTypePolice},
	models.EmergencyTypeFire:     {models.ServiceTypeFire, models.ServiceTypeNationalEmergency},
	models.EmergencyTypeAccident: {models.ServiceTypeMedical, models.ServiceTypePolice},
	models.EmergencyTypePanic:    {models.ServiceTypeNationalEmergency},
	models.EmergencyTypeGeneral:  {models.ServiceTypeNationalEmergency},
}

// RequiredServices returns the emergency services engaged for an emergency
// type. Unknown types fall back to the national emergency line.
func RequiredServices(t models.EmergencyType) []models.ServiceType {
	if services, ok := requiredServices[t]; ok {
		return services
	}
	return []models.ServiceType{models.ServiceTypeNationalEmergency}
}

type dispatchService struct {
	config      *config.SOSConfig
	repo        interfaces.IncidentRepository
	locks       *utils.KeyedMutex
	gateways    map[models.ServiceType]responder.Gateway
	broadcaster Broadcaster
	sla         SLATracker
	logger      *logger.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewDispatchService builds the coordinator that fans trigger dispatches out
// to external service gateways. Gateways may be missing for services with no
// configured endpoint; those dispatches fail immediately.
func NewDispatchService(
	cfg *config.SOSConfig,
	repo interfaces.IncidentRepository,
	locks *utils.KeyedMutex,
	gateways map[models.ServiceType]responder.Gateway,
	broadcaster Broadcaster,
	sla SLATracker,
	log *logger.Logger,
) DispatchCoordinator {
	return &dispatchService{
		config:      cfg,
		repo:        repo,
		locks:       locks,
		gateways:    gateways,
		broadcaster: broadcaster,
		sla:         sla,
		logger:      log,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// DispatchIncident engages every required service in parallel. Each service
// runs its own attempt/retry loop; one service failing or timing out never
// delays the others. Returns immediately; progress is applied to the response
// record as it happens.
func (s *dispatchService) DispatchIncident(incident *models.Incident, response *models.Response) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.cancels[response.ID.Hex()] = cancel
	s.mu.Unlock()

	request := &responder.DispatchRequest{
		IncidentCode:  incident.Code,
		ResponseID:    response.ID.Hex(),
		EmergencyType: string(incident.Type),
		Severity:      incident.Severity,
		Latitude:      incident.Location.Latitude(),
		Longitude:     incident.Location.Longitude(),
		Address:       incident.Location.Address,
		Description:   incident.Description,
		ReporterName:  incident.Reporter.Name,
		ReporterPhone: incident.Reporter.Phone,
	}

	var wg sync.WaitGroup
	for _, dispatch := range response.Dispatches {
		if dispatch.Status != models.DispatchStatusPending {
			continue
		}
		wg.Add(1)
		go func(service models.ServiceType) {
			defer wg.Done()
			s.dispatchOne(ctx, response.ID, service, request)
		}(dispatch.Service)
	}

	go func() {
		wg.Wait()
		s.mu.Lock()
		delete(s.cancels, response.ID.Hex())
		s.mu.Unlock()
		cancel()
		s.finishDispatching(response.ID)
	}()
}

// CancelDispatch stops any in-flight retry loops for the response.
func (s *dispatchService) CancelDispatch(responseID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[responseID]
	if ok {
		delete(s.cancels, responseID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// dispatchOne runs the attempt loop for a single service: bounded attempt
// timeout, exponential backoff between retries, terminal failed status once
// the budget is exhausted.
func (s *dispatchService) dispatchOne(ctx context.Context, responseID primitive.ObjectID, service models.ServiceType, request *responder.DispatchRequest) {
	gateway := s.gateways[service]
	attempts := s.config.DispatchRetries + 1
	backoff := s.config.DispatchBackoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if gateway == nil {
			lastErr = fmt.Errorf("no gateway configured for %s", service)
			break
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.config.DispatchTimeout)
		result, err := gateway.Dispatch(attemptCtx, request)
		cancel()

		if err == nil {
			s.markDispatched(responseID, service, result, attempt-1)
			return
		}
		lastErr = err
		s.logger.WithFields(map[string]interface{}{
			"response_id": responseID.Hex(),
			"service":     string(service),
			"attempt":     attempt,
		}).WithError(err).Warn("Service dispatch attempt failed")

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	s.markFailed(responseID, service, lastErr, attempts-1)
}

func (s *dispatchService) markDispatched(responseID primitive.ObjectID, service models.ServiceType, result *responder.DispatchResult, retries int) {
	entry := newLogEntry(utils.EventServiceDispatched, string(service), "service dispatched", map[string]interface{}{
		"service":          string(service),
		"reference_number": result.ReferenceNumber,
	})

	updated, err := s.updateDispatch(responseID, service, entry, func(resp *models.Response, dispatch *models.ServiceDispatch) error {
		if !dispatch.Status.CanAdvanceTo(models.DispatchStatusDispatched) {
			return errTimerRace
		}
		now := time.Now()
		dispatch.Status = models.DispatchStatusDispatched
		dispatch.ReferenceNumber = result.ReferenceNumber
		dispatch.ResponderName = result.ResponderName
		dispatch.ResponderContact = result.ResponderContact
		dispatch.RetryCount = retries
		dispatch.DispatchedAt = &now

		// First successful service dispatch moves the response forward.
		if resp.Status == models.ResponseStatusDispatching {
			resp.Status = models.ResponseStatusDispatched
			resp.DispatchedAt = &now
			entry.Data["response_status"] = string(models.ResponseStatusDispatched)
		}
		return nil
	})
	if err != nil {
		return
	}

	s.logger.LogDispatchEvent(responseID, string(service), "dispatched", map[string]interface{}{
		"reference_number": result.ReferenceNumber,
	})
	s.broadcast(updated, utils.EventServiceDispatched, entry.Data)
}

func (s *dispatchService) markFailed(responseID primitive.ObjectID, service models.ServiceType, cause error, retries int) {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	entry := newLogEntry(utils.EventServiceDegraded, string(service), "service dispatch failed", map[string]interface{}{
		"service": string(service),
		"error":   message,
	})

	updated, err := s.updateDispatch(responseID, service, entry, func(resp *models.Response, dispatch *models.ServiceDispatch) error {
		if !dispatch.Status.CanAdvanceTo(models.DispatchStatusFailed) {
			return errTimerRace
		}
		now := time.Now()
		dispatch.Status = models.DispatchStatusFailed
		dispatch.LastError = message
		dispatch.RetryCount = retries
		dispatch.FailedAt = &now
		return nil
	})
	if err != nil {
		return
	}

	s.logger.LogDispatchEvent(responseID, string(service), "failed", map[string]interface{}{
		"error": message,
	})
	s.broadcast(updated, utils.EventServiceDegraded, entry.Data)
}

// finishDispatching runs after every service loop has ended. When all
// dispatches failed, the response stays live for operator intervention with an
// explicit audit entry.
func (s *dispatchService) finishDispatching(responseID primitive.ObjectID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := s.repo.GetResponse(ctx, responseID)
	if err != nil || !resp.AllDispatchesFailed() {
		return
	}

	entry := newLogEntry(utils.EventDispatchFailed, sourceSystem, "all service dispatches failed, operator intervention required", nil)
	if err := s.repo.AppendLog(ctx, responseID, entry); err != nil {
		s.logger.WithResponseID(responseID).WithError(err).Error("Failed to record dispatch exhaustion")
	}
	s.logger.WithResponseID(responseID).Error("All service dispatches failed")
	s.broadcast(resp, utils.EventDispatchFailed, map[string]interface{}{
		"all_failed": true,
	})
}

// HandleServiceCallback applies an external service's progress webhook. The
// first acknowledgment wins the primary responder slot; later acknowledgments
// only advance their own dispatch entry.
func (s *dispatchService) HandleServiceCallback(ctx context.Context, callback *models.ServiceCallbackRequest) (*models.Response, error) {
	incident, err := s.repo.GetIncidentByCode(ctx, callback.SOSCode)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	response, err := s.repo.GetResponseByIncident(ctx, incident.ID)
	if err != nil {
		return nil, mapRepoErr(err)
	}

	switch callback.Event {
	case "acknowledged":
		return s.applyServiceAck(ctx, response.ID, callback)
	case "arrived":
		return s.applyServiceArrival(ctx, response.ID, callback)
	case "completed":
		return s.applyServiceCompletion(ctx, response.ID, callback)
	default:
		return nil, fmt.Errorf("%w: unknown callback event %q", ErrInvalidInput, callback.Event)
	}
}

func (s *dispatchService) applyServiceAck(ctx context.Context, responseID primitive.ObjectID, callback *models.ServiceCallbackRequest) (*models.Response, error) {
	entry := newLogEntry(utils.EventServiceAcked, string(callback.Service), "service acknowledged dispatch", map[string]interface{}{
		"service":          string(callback.Service),
		"reference_number": callback.ReferenceNumber,
	})

	var promoted bool
	updated, err := s.updateDispatchCtx(ctx, responseID, callback.Service, entry, func(resp *models.Response, dispatch *models.ServiceDispatch) error {
		if !dispatch.Status.CanAdvanceTo(models.DispatchStatusAcknowledged) {
			return fmt.Errorf("%w: dispatch %s -> acknowledged", ErrInvalidTransition, dispatch.Status)
		}
		now := time.Now()
		dispatch.Status = models.DispatchStatusAcknowledged
		dispatch.AcknowledgedAt = &now
		if callback.ResponderName != "" {
			dispatch.ResponderName = callback.ResponderName
		}
		if callback.ResponderContact != "" {
			dispatch.ResponderContact = callback.ResponderContact
		}

		if resp.PrimaryResponder == nil && resp.Status.CanTransitionTo(models.ResponseStatusAcknowledged) {
			resp.PrimaryResponder = &models.PrimaryResponder{
				Service:    callback.Service,
				UnitID:     callback.UnitID,
				Name:       callback.ResponderName,
				Contact:    callback.ResponderContact,
				ETASeconds: callback.ETASeconds,
			}
			resp.Status = models.ResponseStatusAcknowledged
			resp.AcknowledgedAt = &now

			responseTime := now.Sub(resp.TriggeredAt)
			seconds := responseTime.Seconds()
			resp.ResponseTimeSeconds = &seconds
			within := responseTime <= s.config.AckBudgetFor(resp.Priority)
			resp.WithinSLA = &within

			entry.Data["primary_responder"] = true
			entry.Data["response_status"] = string(models.ResponseStatusAcknowledged)
			promoted = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if promoted && s.sla != nil {
		s.sla.OnAcknowledged(responseID.Hex())
	}
	s.broadcast(updated, utils.EventServiceAcked, entry.Data)
	return updated, nil
}

func (s *dispatchService) applyServiceArrival(ctx context.Context, responseID primitive.ObjectID, callback *models.ServiceCallbackRequest) (*models.Response, error) {
	entry := newLogEntry(utils.EventServiceArrived, string(callback.Service), "service arrived on scene", map[string]interface{}{
		"service":          string(callback.Service),
		"reference_number": callback.ReferenceNumber,
	})

	var arrived bool
	updated, err := s.updateDispatchCtx(ctx, responseID, callback.Service, entry, func(resp *models.Response, dispatch *models.ServiceDispatch) error {
		if !dispatch.Status.CanAdvanceTo(models.DispatchStatusArrived) {
			return fmt.Errorf("%w: dispatch %s -> arrived", ErrInvalidTransition, dispatch.Status)
		}
		now := time.Now()
		dispatch.Status = models.DispatchStatusArrived
		dispatch.ArrivedAt = &now

		// Only the primary responder's arrival moves the response to on_scene.
		primary := resp.PrimaryResponder != nil && resp.PrimaryResponder.Service == callback.Service
		if primary && resp.ArrivedAt == nil && resp.Status.CanTransitionTo(models.ResponseStatusOnScene) {
			resp.Status = models.ResponseStatusOnScene
			resp.ArrivedAt = &now
			entry.Data["response_status"] = string(models.ResponseStatusOnScene)
			arrived = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if arrived && s.sla != nil {
		s.sla.OnArrived(responseID.Hex())
	}
	s.broadcast(updated, utils.EventServiceArrived, entry.Data)
	return updated, nil
}

func (s *dispatchService) applyServiceCompletion(ctx context.Context, responseID primitive.ObjectID, callback *models.ServiceCallbackRequest) (*models.Response, error) {
	entry := newLogEntry(utils.EventServiceCompleted, string(callback.Service), "service completed involvement", map[string]interface{}{
		"service":          string(callback.Service),
		"reference_number": callback.ReferenceNumber,
	})

	updated, err := s.updateDispatchCtx(ctx, responseID, callback.Service, entry, func(resp *models.Response, dispatch *models.ServiceDispatch) error {
		if !dispatch.Status.CanAdvanceTo(models.DispatchStatusCompleted) {
			return fmt.Errorf("%w: dispatch %s -> completed", ErrInvalidTransition, dispatch.Status)
		}
		now := time.Now()
		dispatch.Status = models.DispatchStatusCompleted
		dispatch.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.broadcast(updated, utils.EventServiceCompleted, entry.Data)
	return updated, nil
}

func (s *dispatchService) updateDispatch(responseID primitive.ObjectID, service models.ServiceType, entry models.ResponseLogEntry, mutate func(*models.Response, *models.ServiceDispatch) error) (*models.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.updateDispatchCtx(ctx, responseID, service, entry, mutate)
}

// updateDispatchCtx is the shared per-service commit path: per-id lock, one
// atomic transform, one log entry. Progress reports against a response that
// already resolved are recorded but change nothing.
func (s *dispatchService) updateDispatchCtx(ctx context.Context, responseID primitive.ObjectID, service models.ServiceType, entry models.ResponseLogEntry, mutate func(*models.Response, *models.ServiceDispatch) error) (*models.Response, error) {
	var updated *models.Response
	var err error
	s.locks.WithLock(responseID.Hex(), func() {
		updated, err = s.repo.UpdateResponse(ctx, responseID, func(resp *models.Response) error {
			dispatch := resp.Dispatch(service)
			if dispatch == nil {
				return fmt.Errorf("%w: service %s not engaged for response", ErrInvalidInput, service)
			}
			if resp.Status.IsTerminal() {
				resp.Log = append(resp.Log, newLogEntry(entry.EventType, entry.Source, "late service report on closed response", entry.Data))
				return nil
			}
			if err := mutate(resp, dispatch); err != nil {
				return err
			}
			resp.Log = append(resp.Log, entry)
			return nil
		})
	})
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return updated, nil
}

func (s *dispatchService) broadcast(resp *models.Response, eventType string, payload map[string]interface{}) {
	if s.broadcaster == nil || resp == nil {
		return
	}
	channels := []string{
		"region:" + resp.Region,
		fmt.Sprintf("priority:%d", resp.Priority),
		"response:" + resp.ID.Hex(),
	}
	var subscribers []string
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
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
