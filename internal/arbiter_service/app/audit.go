package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// EventPublisher is the slice of the NATS client the audit trail needs.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// AuditEvent is the structured record published for every security-relevant
// operation. Payload must never contain secrets or token strings.
type AuditEvent struct {
	EventType  string         `json:"event_type"`
	DomainUUID string         `json:"domain_uuid,omitempty"`
	DeviceID   string         `json:"device_id,omitempty"`
	Note       string         `json:"note,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// AuditTrail publishes audit events on NATS. Publication is best effort:
// a broker outage is logged and the request continues, matching how the
// rest of the system treats event delivery.
type AuditTrail struct {
	publisher EventPublisher
	logger    *slog.Logger
}

func NewAuditTrail(publisher EventPublisher, logger *slog.Logger) *AuditTrail {
	return &AuditTrail{publisher: publisher, logger: logger.With("component", "audit")}
}

func (a *AuditTrail) Emit(ctx context.Context, subject string, event AuditEvent) {
	if a == nil || a.publisher == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	data, err := json.Marshal(event)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to marshal audit event", "error", err, "event_type", event.EventType)
		return
	}
	if err := a.publisher.Publish(ctx, subject, data); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish audit event", "error", err, "subject", subject, "event_type", event.EventType)
	}
}
