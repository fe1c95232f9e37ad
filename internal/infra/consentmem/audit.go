package consentmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"consentd/internal/domain"
)

// AuditLog keeps the hash chain in memory. Append is serialized by a single
// mutex, which is what gives the chain its total order.
type AuditLog struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	now    func() time.Time
}

func NewAuditLog() *AuditLog {
	return NewAuditLogWithClock(nil)
}

func NewAuditLogWithClock(now func() time.Time) *AuditLog {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &AuditLog{now: now}
}

func (l *AuditLog) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return domain.AuditEvent{}, err
	}
	if event.EventType == "" {
		return domain.AuditEvent{}, errors.New("event_type is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.now()
	}
	event.CreatedAt = event.CreatedAt.UTC().Truncate(time.Microsecond)
	if event.PayloadHash == "" {
		event.PayloadHash = event.ComputePayloadHash()
	}

	event.Seq = int64(len(l.events)) + 1
	event.PrevEventHash = domain.ZeroAuditHash()
	if len(l.events) > 0 {
		event.PrevEventHash = l.events[len(l.events)-1].EventHash
	}

	hash, err := event.ComputeEventHash()
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.EventHash = hash

	l.events = append(l.events, event)
	return event, nil
}

func (l *AuditLog) List(ctx context.Context, afterSeq int64, limit int) ([]domain.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.AuditEvent, 0, len(l.events))
	for _, event := range l.events {
		if event.Seq <= afterSeq {
			continue
		}
		out = append(out, event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *AuditLog) ListByConsentID(ctx context.Context, consentID string) ([]domain.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.AuditEvent
	for _, event := range l.events {
		if event.ConsentID == consentID {
			out = append(out, event)
		}
	}
	return out, nil
}

// Len reports the current chain length.
func (l *AuditLog) Len() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.events))
}
