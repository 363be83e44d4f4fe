package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/feedlog/internal/db"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// AuditSubject is the NATS subject audit entries are published on.
const AuditSubject = "audit.recorded"

type natsPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NatsAuditSink fans recorded audit entries out to NATS subscribers.
type NatsAuditSink struct {
	nc      natsPublisher
	subject string
}

// NewNatsAuditSink creates a sink publishing on AuditSubject.
func NewNatsAuditSink(nc *nats.Conn) *NatsAuditSink {
	return &NatsAuditSink{nc: nc, subject: AuditSubject}
}

func (s *NatsAuditSink) Write(ctx context.Context, entry db.AuditLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	msg := &nats.Msg{
		Subject: s.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Audit-Action", entry.Action)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	if err := s.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}
