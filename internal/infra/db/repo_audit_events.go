package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"consentd/internal/domain"

	"gorm.io/gorm"
)

const auditChainName = "consent"

type AuditEventRepository struct {
	db *gorm.DB
}

func NewAuditEventRepository(db *gorm.DB) *AuditEventRepository {
	return &AuditEventRepository{db: db}
}

// Append assigns the next sequence number and links the hash chain inside a
// single transaction. The chain cursor row is taken FOR UPDATE, which
// serializes appends across processes.
func (r *AuditEventRepository) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if r.db == nil {
		return domain.AuditEvent{}, errDBUnavailable
	}
	if event.EventType == "" {
		return domain.AuditEvent{}, errors.New("event_type is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.CreatedAt = event.CreatedAt.UTC().Truncate(time.Microsecond)
	if event.PayloadHash == "" {
		event.PayloadHash = event.ComputePayloadHash()
	}

	var out domain.AuditEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, prevHash, err := nextAuditSeq(ctx, tx)
		if err != nil {
			return err
		}
		event.Seq = seq
		event.PrevEventHash = prevHash

		eventHash, err := event.ComputeEventHash()
		if err != nil {
			return err
		}
		event.EventHash = eventHash

		model := auditEventModelFromDomain(event)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		out = event
		return nil
	})
	if err != nil {
		return domain.AuditEvent{}, err
	}
	return out, nil
}

func (r *AuditEventRepository) List(ctx context.Context, afterSeq int64, limit int) ([]domain.AuditEvent, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	query := r.db.WithContext(ctx).
		Where("seq > ?", afterSeq).
		Order("seq ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []AuditEventModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AuditEvent, 0, len(models))
	for _, model := range models {
		out = append(out, auditEventFromModel(model))
	}
	return out, nil
}

func (r *AuditEventRepository) ListByConsentID(ctx context.Context, consentID string) ([]domain.AuditEvent, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AuditEventModel
	if err := r.db.WithContext(ctx).
		Where("consent_id = ?", consentID).
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AuditEvent, 0, len(models))
	for _, model := range models {
		out = append(out, auditEventFromModel(model))
	}
	return out, nil
}

func nextAuditSeq(ctx context.Context, tx *gorm.DB) (int64, string, error) {
	if err := tx.WithContext(ctx).Exec(
		"INSERT INTO audit_seq (chain, seq) VALUES (?, 0) ON CONFLICT (chain) DO NOTHING",
		auditChainName,
	).Error; err != nil {
		return 0, "", err
	}

	var currentSeq int64
	if err := tx.WithContext(ctx).Raw(
		"SELECT seq FROM audit_seq WHERE chain = ? FOR UPDATE",
		auditChainName,
	).Scan(&currentSeq).Error; err != nil {
		return 0, "", err
	}
	nextSeq := currentSeq + 1
	if err := tx.WithContext(ctx).Exec(
		"UPDATE audit_seq SET seq = ? WHERE chain = ?",
		nextSeq,
		auditChainName,
	).Error; err != nil {
		return 0, "", err
	}

	prevHash := domain.ZeroAuditHash()
	if currentSeq > 0 {
		var prev AuditEventModel
		if err := tx.WithContext(ctx).
			Where("seq = ?", currentSeq).
			Take(&prev).Error; err != nil {
			return 0, "", err
		}
		prevHash = prev.EventHash
	}
	if prevHash == "" {
		return 0, "", errors.New("missing previous event hash")
	}
	return nextSeq, prevHash, nil
}

func auditEventModelFromDomain(event domain.AuditEvent) AuditEventModel {
	return AuditEventModel{
		ID:            event.ID,
		Seq:           event.Seq,
		EventType:     string(event.EventType),
		ConsentID:     event.ConsentID,
		ActorRef:      event.ActorRef,
		BeforeStatus:  string(event.BeforeStatus),
		AfterStatus:   string(event.AfterStatus),
		PayloadHash:   event.PayloadHash,
		PrevEventHash: event.PrevEventHash,
		EventHash:     event.EventHash,
		CreatedAt:     event.CreatedAt.UTC(),
	}
}

func auditEventFromModel(model AuditEventModel) domain.AuditEvent {
	return domain.AuditEvent{
		ID:            model.ID,
		Seq:           model.Seq,
		EventType:     domain.AuditEventType(model.EventType),
		ConsentID:     model.ConsentID,
		ActorRef:      model.ActorRef,
		BeforeStatus:  domain.ConsentStatus(model.BeforeStatus),
		AfterStatus:   domain.ConsentStatus(model.AfterStatus),
		PayloadHash:   model.PayloadHash,
		PrevEventHash: model.PrevEventHash,
		EventHash:     model.EventHash,
		CreatedAt:     model.CreatedAt.UTC(),
	}
}
