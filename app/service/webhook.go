package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collections/app/entity"
	"github.com/vibast-solutions/ms-go-collections/app/provider"
)

type WebhookResult struct {
	EventID   string
	EventType string
	Handled   bool
	Outcome   *RecordOutcome
}

// HandleWebhook verifies a gateway event and reconciles completed checkout sessions.
// Every other event type is acknowledged without side effects.
func (s *PaymentLinkService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := s.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrInvalidSignature):
			s.recordWebhookEvent(ctx, nil, "", entity.WebhookEventRejected, ErrInvalidSignature, payload)
			s.logger.Warn("Webhook rejected: invalid signature")
			return nil, ErrInvalidSignature
		case errors.Is(err, provider.ErrNotConfigured):
			return nil, err
		default:
			s.recordWebhookEvent(ctx, nil, "", entity.WebhookEventRejected, err, payload)
			return nil, invalidRequest("malformed webhook payload")
		}
	}

	result := &WebhookResult{EventID: event.ID, EventType: event.Type}
	logger := s.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	if event.Kind != provider.EventCheckoutSessionCompleted || event.Session == nil {
		s.recordWebhookEvent(ctx, event, event.Type, entity.WebhookEventIgnored, nil, payload)
		logger.Debug("Webhook event ignored")
		return result, nil
	}

	session := event.Session
	payment := SessionPayment{
		SessionID:     session.ID,
		GatewayLinkID: session.LinkID,
		ClientID:      session.ClientID,
		AmountMinor:   session.AmountTotal,
		PaidAt:        session.CreatedAt,
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}
	if payment.ClientID == 0 && strings.TrimSpace(payment.GatewayLinkID) != "" {
		link, err := s.links.FindByGatewayLinkID(ctx, payment.GatewayLinkID)
		if err != nil {
			return nil, err
		}
		if link != nil {
			payment.ClientID = link.ClientID
		}
	}

	outcome, err := s.reconciler.RecordPayment(ctx, payment)
	if err != nil {
		logger.WithError(err).Error("Webhook reconciliation failed")
		return nil, fmt.Errorf("reconcile session %s: %w", session.ID, err)
	}

	s.recordWebhookEvent(ctx, event, event.Type, entity.WebhookEventProcessed, nil, payload)
	result.Handled = true
	result.Outcome = outcome

	logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"duplicate":  outcome.Duplicate,
	}).Info("Checkout session completed")

	return result, nil
}

func (s *PaymentLinkService) recordWebhookEvent(ctx context.Context, event *provider.Event, eventType, status string, cause error, payload []byte) {
	record := &entity.WebhookEvent{
		EventType:   eventType,
		Status:      status,
		PayloadJSON: truncate(string(payload), 65535),
		CreatedAt:   time.Now().UTC(),
	}
	if event != nil && strings.TrimSpace(event.ID) != "" {
		id := event.ID
		record.ProviderEventID = &id
	}
	if cause != nil {
		msg := truncate(cause.Error(), 1024)
		record.Error = &msg
	}
	_ = s.webhookEvents.Create(ctx, record)
}
