package services

import (
	"context"
	"fmt"
	"time"

	"rideguard/internal/config"
	"rideguard/internal/models"
	"rideguard/internal/repositories/interfaces"
	"rideguard/internal/utils"
	"rideguard/pkg/logger"
	"rideguard/pkg/push"
	"rideguard/pkg/sms"
)

// notificationService delivers out-of-band escalation alerts to supervisors
// over SMS and a push topic. Delivery failures are absorbed: the escalation
// itself has already committed, so a dead SMS provider only costs a log line.
type notificationService struct {
	config *config.SOSConfig
	repo   interfaces.IncidentRepository
	sms    sms.SMSProvider
	push   push.PushProvider
	from   string
	logger *logger.Logger
}

func NewNotificationService(cfg *config.SOSConfig, repo interfaces.IncidentRepository, smsProvider sms.SMSProvider, pushProvider push.PushProvider, fromNumber string, log *logger.Logger) SupervisorNotifier {
	return &notificationService{
		config: cfg,
		repo:   repo,
		sms:    smsProvider,
		push:   pushProvider,
		from:   fromNumber,
		logger: log,
	}
}

func (s *notificationService) NotifySupervisors(ctx context.Context, incident *models.Incident, response *models.Response, reason string) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	body := fmt.Sprintf("SOS %s escalated (%s): %s emergency, priority %d, region %s",
		incident.Code, reason, incident.Type, response.Priority, response.Region)

	var delivered []string

	if s.sms != nil && len(s.config.SupervisorPhones) > 0 {
		requests := make([]*sms.SMSRequest, 0, len(s.config.SupervisorPhones))
		for _, phone := range s.config.SupervisorPhones {
			requests = append(requests, &sms.SMSRequest{
				To:      phone,
				From:    s.from,
				Message: body,
			})
		}
		if _, err := s.sms.SendBulkSMS(ctx, requests); err != nil {
			s.logger.WithResponseID(response.ID).WithError(err).Error("Supervisor SMS delivery failed")
		} else {
			delivered = append(delivered, "sms")
		}
	}

	if s.push != nil && s.config.SupervisorTopic != "" {
		_, err := s.push.SendNotification(ctx, &push.NotificationRequest{
			Topic:    s.config.SupervisorTopic,
			Title:    fmt.Sprintf("SOS escalated: %s", incident.Code),
			Body:     body,
			Priority: "high",
			Data: map[string]string{
				"incident_id": incident.ID.Hex(),
				"response_id": response.ID.Hex(),
				"reason":      reason,
			},
		})
		if err != nil {
			s.logger.WithResponseID(response.ID).WithError(err).Error("Supervisor push delivery failed")
		} else {
			delivered = append(delivered, "push")
		}
	}

	if len(delivered) == 0 {
		return
	}

	entry := newLogEntry(utils.EventCommunication, sourceSystem, "supervisors notified", map[string]interface{}{
		"reason":   reason,
		"channels": delivered,
	})
	if err := s.repo.AppendLog(ctx, response.ID, entry); err != nil {
		s.logger.WithResponseID(response.ID).WithError(err).Warn("Failed to record supervisor notification")
	}
}
