package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"consentd/internal/domain"

	"gorm.io/gorm"
)

type PrincipalKeyRepository struct {
	db *gorm.DB
}

func NewPrincipalKeyRepository(db *gorm.DB) *PrincipalKeyRepository {
	return &PrincipalKeyRepository{db: db}
}

// Register retires any currently active key for the principal and inserts
// the new one as active, in one transaction. Verifiers never observe two
// active keys for the same principal.
func (r *PrincipalKeyRepository) Register(ctx context.Context, key domain.PrincipalKey) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if key.PrincipalRef == "" || len(key.PublicKey) == 0 {
		return domain.ErrValidation
	}
	if !domain.KnownKeyAlg(key.Alg) {
		return domain.ErrValidation
	}
	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := PrincipalKeyModel{
		ID:           uuid.NewString(),
		PrincipalRef: key.PrincipalRef,
		Alg:          key.Alg,
		PublicKey:    copyBytes(key.PublicKey),
		Status:       string(domain.KeyStatusActive),
		CreatedAt:    createdAt.UTC(),
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&PrincipalKeyModel{}).
			Where("principal_ref = ? AND status = ?", key.PrincipalRef, string(domain.KeyStatusActive)).
			Update("status", string(domain.KeyStatusRevoked)).Error; err != nil {
			return err
		}
		return tx.Create(&model).Error
	})
}

func (r *PrincipalKeyRepository) GetActive(ctx context.Context, principalRef string) (*domain.PrincipalKey, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model PrincipalKeyModel
	err := r.db.WithContext(ctx).
		Where("principal_ref = ? AND status = ?", principalRef, string(domain.KeyStatusActive)).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return principalKeyFromModel(model), nil
}

func principalKeyFromModel(model PrincipalKeyModel) *domain.PrincipalKey {
	return &domain.PrincipalKey{
		PrincipalRef: model.PrincipalRef,
		Alg:          model.Alg,
		PublicKey:    copyBytes(model.PublicKey),
		Status:       domain.KeyStatus(model.Status),
		CreatedAt:    model.CreatedAt.UTC(),
	}
}
