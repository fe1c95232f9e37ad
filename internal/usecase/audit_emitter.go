package usecase

import (
	"context"
	"errors"
	"log"
	"time"

	"consentd/internal/domain"
)

// AuditEmitter appends consent lifecycle events to the hash-chained audit
// log. The EmitX helpers are best-effort: by the time they run, the state
// change has already committed, so a failing append is logged and swallowed
// rather than surfaced as a failure of the operation itself.
type AuditEmitter struct {
	Log   AuditLog
	Clock Clock
}

func NewAuditEmitter(auditLog AuditLog, clock Clock) *AuditEmitter {
	return &AuditEmitter{
		Log:   auditLog,
		Clock: clock,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if e == nil || e.Log == nil {
		return domain.AuditEvent{}, errors.New("audit log required")
	}
	if event.EventType == "" || event.ConsentID == "" {
		return domain.AuditEvent{}, errors.New("audit event missing required fields")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = e.now()
	} else {
		event.CreatedAt = event.CreatedAt.UTC()
	}
	if event.PayloadHash == "" {
		event.PayloadHash = event.ComputePayloadHash()
	}
	return e.Log.Append(ctx, event)
}

func (e *AuditEmitter) EmitConsentGranted(ctx context.Context, record domain.ConsentRecord) {
	e.emit(ctx, domain.AuditEvent{
		EventType:    domain.AuditEventConsentGranted,
		ConsentID:    record.ConsentID,
		ActorRef:     record.SubjectRef,
		BeforeStatus: domain.StatusPending,
		AfterStatus:  domain.StatusGranted,
	})
}

func (e *AuditEmitter) EmitConsentRevoked(ctx context.Context, consentID, actorRef string) {
	e.emit(ctx, domain.AuditEvent{
		EventType:    domain.AuditEventConsentRevoked,
		ConsentID:    consentID,
		ActorRef:     actorRef,
		BeforeStatus: domain.StatusGranted,
		AfterStatus:  domain.StatusRevoked,
	})
}

func (e *AuditEmitter) EmitConsentExpired(ctx context.Context, consentID string) {
	e.emit(ctx, domain.AuditEvent{
		EventType:    domain.AuditEventConsentExpired,
		ConsentID:    consentID,
		ActorRef:     "system",
		BeforeStatus: domain.StatusGranted,
		AfterStatus:  domain.StatusExpired,
	})
}

// EmitKeyRegistered targets the principal rather than a consent record;
// the key: prefix keeps those targets out of the consent id namespace.
func (e *AuditEmitter) EmitKeyRegistered(ctx context.Context, principalRef string) {
	e.emit(ctx, domain.AuditEvent{
		EventType: domain.AuditEventKeyRegistered,
		ConsentID: "key:" + principalRef,
		ActorRef:  principalRef,
	})
}

func (e *AuditEmitter) emit(ctx context.Context, event domain.AuditEvent) {
	if _, err := e.Emit(ctx, event); err != nil {
		log.Printf("audit: append %s for %s: %v", event.EventType, event.ConsentID, err)
	}
}

func (e *AuditEmitter) now() time.Time {
	if e != nil && e.Clock != nil {
		return e.Clock().UTC()
	}
	return time.Now().UTC()
}
