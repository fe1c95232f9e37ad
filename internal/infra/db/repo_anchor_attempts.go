package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"consentd/internal/domain"

	"gorm.io/gorm"
)

type AnchorAttemptRepository struct {
	db *gorm.DB
}

func NewAnchorAttemptRepository(db *gorm.DB) *AnchorAttemptRepository {
	return &AnchorAttemptRepository{db: db}
}

func (r *AnchorAttemptRepository) Append(ctx context.Context, attempt domain.AnchorAttempt) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if attempt.ConsentID == "" {
		return errors.New("consent_id is required")
	}
	if attempt.Backend == "" {
		return errors.New("backend is required")
	}
	if attempt.Status == "" {
		return errors.New("status is required")
	}
	id := attempt.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := attempt.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := AnchorAttemptModel{
		ID:          id,
		ConsentID:   attempt.ConsentID,
		Backend:     attempt.Backend,
		Kind:        attempt.Kind,
		Status:      attempt.Status,
		ErrorCode:   stringPtrIfNotEmpty(attempt.ErrorCode),
		PayloadHash: attempt.PayloadHash,
		CreatedAt:   createdAt.UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *AnchorAttemptRepository) ListByConsentID(ctx context.Context, consentID string) ([]domain.AnchorAttempt, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AnchorAttemptModel
	if err := r.db.WithContext(ctx).
		Where("consent_id = ?", consentID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AnchorAttempt, 0, len(models))
	for _, model := range models {
		out = append(out, anchorAttemptFromModel(model))
	}
	return out, nil
}

func anchorAttemptFromModel(model AnchorAttemptModel) domain.AnchorAttempt {
	return domain.AnchorAttempt{
		ID:          model.ID,
		ConsentID:   model.ConsentID,
		Backend:     model.Backend,
		Kind:        model.Kind,
		Status:      model.Status,
		ErrorCode:   stringValue(model.ErrorCode),
		PayloadHash: model.PayloadHash,
		CreatedAt:   model.CreatedAt.UTC(),
	}
}
