package pgstore

import (
	"context"
	"fmt"

	wardAuth "github.com/MrEthical07/wardAuth"
	"github.com/google/uuid"
)

// AuditSink appends events to audit_events. Events are written from the
// engine's dispatcher goroutine, never on the request path.
type AuditSink struct {
	db DB
}

var _ wardAuth.AuditSink = (*AuditSink)(nil)

func NewAuditSink(db DB) *AuditSink {
	return &AuditSink{db: db}
}

func (s *AuditSink) Record(ctx context.Context, e wardAuth.AuditEvent) error {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		id = uuid.New()
	}
	var meta map[string]string
	if len(e.Metadata) > 0 {
		meta = e.Metadata
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO audit_events (id, occurred_at, event_type, user_id, session_id, ip, success,
			error_code, permission, resource_type, resource_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, e.Timestamp.UTC(), e.EventType, nullable(e.UserID), nullable(e.SessionID), nullable(e.IP), e.Success,
		nullable(e.Error), nullable(e.Permission), nullable(e.ResourceType), nullable(e.ResourceID), meta,
	)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
