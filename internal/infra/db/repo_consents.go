package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"consentd/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConsentRepository struct {
	db *gorm.DB
}

func NewConsentRepository(db *gorm.DB) *ConsentRepository {
	return &ConsentRepository{db: db}
}

// Create inserts the record unless a row with the same content-derived id
// already exists. The insert races resolve in the database: whoever loses
// the ON CONFLICT gets the stored row back with created=false.
func (r *ConsentRepository) Create(ctx context.Context, record domain.ConsentRecord) (domain.ConsentRecord, bool, error) {
	if r.db == nil {
		return domain.ConsentRecord{}, false, errDBUnavailable
	}
	if record.ConsentID == "" {
		return domain.ConsentRecord{}, false, domain.ErrValidation
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	model, err := consentModelFromDomain(record)
	if err != nil {
		return domain.ConsentRecord{}, false, err
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if result.Error != nil {
		return domain.ConsentRecord{}, false, result.Error
	}
	if result.RowsAffected > 0 {
		return record, true, nil
	}

	var existing ConsentRecordModel
	if err := r.db.WithContext(ctx).
		Where("consent_id = ?", record.ConsentID).
		First(&existing).Error; err != nil {
		return domain.ConsentRecord{}, false, err
	}
	stored, err := consentRecordFromModel(existing)
	if err != nil {
		return domain.ConsentRecord{}, false, err
	}
	return stored, false, nil
}

func (r *ConsentRepository) GetByID(ctx context.Context, consentID string) (*domain.ConsentRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ConsentRecordModel
	err := r.db.WithContext(ctx).
		Where("consent_id = ?", consentID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	record, err := consentRecordFromModel(model)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *ConsentRepository) FindLatestByTriple(ctx context.Context, subjectRef, controllerRef, purposeRef string) (*domain.ConsentRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ConsentRecordModel
	err := r.db.WithContext(ctx).
		Where("subject_ref = ? AND controller_ref = ? AND purpose_ref = ?", subjectRef, controllerRef, purposeRef).
		Order("granted_at DESC, created_at DESC, consent_id DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	record, err := consentRecordFromModel(model)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Revoke flips a granted record to revoked. The row is locked before the
// status check so two concurrent revokes cannot both pass it.
func (r *ConsentRepository) Revoke(ctx context.Context, consentID string, revokedAt time.Time) (*domain.ConsentRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	revokedAt = revokedAt.UTC()
	var out domain.ConsentRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockConsentRow(tx, consentID)
		if err != nil {
			return err
		}
		if model.Status != string(domain.StatusGranted) {
			return domain.ErrInvalidState
		}
		now := time.Now().UTC()
		if err := tx.Model(&ConsentRecordModel{}).
			Where("consent_id = ?", consentID).
			Updates(map[string]any{
				"status":     string(domain.StatusRevoked),
				"revoked_at": revokedAt,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
		model.Status = string(domain.StatusRevoked)
		model.RevokedAt = &revokedAt
		model.UpdatedAt = now
		record, err := consentRecordFromModel(model)
		if err != nil {
			return err
		}
		out = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkExpired persists the derived expired status for a granted record.
func (r *ConsentRepository) MarkExpired(ctx context.Context, consentID string, expiredAt time.Time) (*domain.ConsentRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var out domain.ConsentRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockConsentRow(tx, consentID)
		if err != nil {
			return err
		}
		if model.Status != string(domain.StatusGranted) {
			return domain.ErrInvalidState
		}
		now := time.Now().UTC()
		if err := tx.Model(&ConsentRecordModel{}).
			Where("consent_id = ?", consentID).
			Updates(map[string]any{
				"status":     string(domain.StatusExpired),
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
		model.Status = string(domain.StatusExpired)
		model.UpdatedAt = now
		record, err := consentRecordFromModel(model)
		if err != nil {
			return err
		}
		out = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *ConsentRepository) AttachReceipt(ctx context.Context, consentID string, receipt domain.AnchorReceipt) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockConsentRow(tx, consentID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if receipt.Status != domain.AnchorStatusAnchored || receipt.TxID == domain.PlaceholderAnchorTxID {
			// A placeholder must never clobber a real transaction id.
			if model.AnchorTxID != "" {
				return nil
			}
			return tx.Model(&ConsentRecordModel{}).
				Where("consent_id = ?", consentID).
				Updates(map[string]any{
					"anchor_tx_id": domain.PlaceholderAnchorTxID,
					"updated_at":   now,
				}).Error
		}
		anchoredAt := receipt.AnchoredAt.UTC()
		return tx.Model(&ConsentRecordModel{}).
			Where("consent_id = ?", consentID).
			Updates(map[string]any{
				"anchor_tx_id": receipt.TxID,
				"anchor_proof": receipt.LedgerProof,
				"anchored_at":  anchoredAt,
				"updated_at":   now,
			}).Error
	})
}

// StatusCounts groups records by their status as of now, applying the
// derived-expiry rule in SQL so granted rows past their expiry count as
// expired without a prior mutation.
func (r *ConsentRepository) StatusCounts(ctx context.Context, controllerRef string, now time.Time) (map[domain.ConsentStatus]int64, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	query := r.db.WithContext(ctx).
		Table("consent_records").
		Select(
			"CASE WHEN status = ? AND expires_at IS NOT NULL AND expires_at <= ? THEN ? ELSE status END AS effective_status, COUNT(*) AS total",
			string(domain.StatusGranted), now.UTC(), string(domain.StatusExpired),
		).
		Group("effective_status")
	if controllerRef != "" {
		query = query.Where("controller_ref = ?", controllerRef)
	}
	var rows []statusCountRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[domain.ConsentStatus]int64, len(rows))
	for _, row := range rows {
		counts[domain.ConsentStatus(row.EffectiveStatus)] = row.Total
	}
	return counts, nil
}

func (r *ConsentRepository) AnchoredCount(ctx context.Context, controllerRef string) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	query := r.db.WithContext(ctx).
		Model(&ConsentRecordModel{}).
		Where("anchor_tx_id <> '' AND anchor_tx_id <> ?", domain.PlaceholderAnchorTxID)
	if controllerRef != "" {
		query = query.Where("controller_ref = ?", controllerRef)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

type statusCountRow struct {
	EffectiveStatus string
	Total           int64
}

func lockConsentRow(tx *gorm.DB, consentID string) (ConsentRecordModel, error) {
	var model ConsentRecordModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("consent_id = ?", consentID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ConsentRecordModel{}, domain.ErrNotFound
		}
		return ConsentRecordModel{}, err
	}
	return model, nil
}

func consentModelFromDomain(record domain.ConsentRecord) (ConsentRecordModel, error) {
	categories := record.Categories
	if categories == nil {
		categories = []string{}
	}
	categoriesJSON, err := json.Marshal(categories)
	if err != nil {
		return ConsentRecordModel{}, err
	}
	return ConsentRecordModel{
		ConsentID:      record.ConsentID,
		SubjectRef:     record.SubjectRef,
		ControllerRef:  record.ControllerRef,
		PurposeRef:     record.PurposeRef,
		CategoriesJSON: categoriesJSON,
		LawfulBasis:    record.LawfulBasis,
		Status:         string(record.Status),
		GrantedAt:      record.GrantedAt.UTC(),
		ExpiresAt:      timePtrUTC(record.ExpiresAt),
		RevokedAt:      timePtrUTC(record.RevokedAt),
		AnchorTxID:     record.AnchorTxID,
		AnchorProof:    record.AnchorProof,
		AnchoredAt:     timePtrUTC(record.AnchoredAt),
		CreatedAt:      record.CreatedAt.UTC(),
		UpdatedAt:      record.UpdatedAt.UTC(),
	}, nil
}

func consentRecordFromModel(model ConsentRecordModel) (domain.ConsentRecord, error) {
	var categories []string
	if len(model.CategoriesJSON) > 0 {
		if err := json.Unmarshal(model.CategoriesJSON, &categories); err != nil {
			return domain.ConsentRecord{}, err
		}
	}
	return domain.ConsentRecord{
		ConsentID:     model.ConsentID,
		SubjectRef:    model.SubjectRef,
		ControllerRef: model.ControllerRef,
		PurposeRef:    model.PurposeRef,
		Categories:    categories,
		LawfulBasis:   model.LawfulBasis,
		Status:        domain.ConsentStatus(model.Status),
		GrantedAt:     model.GrantedAt.UTC(),
		ExpiresAt:     timePtrUTC(model.ExpiresAt),
		RevokedAt:     timePtrUTC(model.RevokedAt),
		AnchorTxID:    model.AnchorTxID,
		AnchorProof:   model.AnchorProof,
		AnchoredAt:    timePtrUTC(model.AnchoredAt),
		CreatedAt:     model.CreatedAt.UTC(),
		UpdatedAt:     model.UpdatedAt.UTC(),
	}, nil
}
