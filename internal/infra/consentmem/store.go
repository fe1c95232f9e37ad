// Package consentmem holds the in-memory persistence used when no database is
// configured: single-node deployments, local development and the test suite.
// Semantics mirror the postgres repositories exactly.
package consentmem

import (
	"context"
	"sync"
	"time"

	"consentd/internal/domain"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]domain.ConsentRecord
	now     func() time.Time
}

func NewStore() *Store {
	return NewStoreWithClock(nil)
}

func NewStoreWithClock(now func() time.Time) *Store {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		records: make(map[string]domain.ConsentRecord),
		now:     now,
	}
}

func (s *Store) Create(ctx context.Context, record domain.ConsentRecord) (domain.ConsentRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConsentRecord{}, false, err
	}
	if record.ConsentID == "" {
		return domain.ConsentRecord{}, false, domain.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[record.ConsentID]; ok {
		return cloneRecord(existing), false, nil
	}

	now := s.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	s.records[record.ConsentID] = cloneRecord(record)
	return cloneRecord(record), true, nil
}

func (s *Store) GetByID(ctx context.Context, consentID string) (*domain.ConsentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[consentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneRecord(record)
	return &out, nil
}

func (s *Store) FindLatestByTriple(ctx context.Context, subjectRef, controllerRef, purposeRef string) (*domain.ConsentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.ConsentRecord
	for id := range s.records {
		record := s.records[id]
		if record.SubjectRef != subjectRef || record.ControllerRef != controllerRef || record.PurposeRef != purposeRef {
			continue
		}
		if latest == nil || recordNewer(record, *latest) {
			clone := cloneRecord(record)
			latest = &clone
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

func (s *Store) Revoke(ctx context.Context, consentID string, revokedAt time.Time) (*domain.ConsentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[consentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if record.Status != domain.StatusGranted {
		return nil, domain.ErrInvalidState
	}
	revokedAt = revokedAt.UTC()
	record.Status = domain.StatusRevoked
	record.RevokedAt = &revokedAt
	record.UpdatedAt = s.now()
	s.records[consentID] = cloneRecord(record)
	out := cloneRecord(record)
	return &out, nil
}

func (s *Store) MarkExpired(ctx context.Context, consentID string, expiredAt time.Time) (*domain.ConsentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[consentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if record.Status != domain.StatusGranted {
		return nil, domain.ErrInvalidState
	}
	record.Status = domain.StatusExpired
	record.UpdatedAt = s.now()
	s.records[consentID] = cloneRecord(record)
	out := cloneRecord(record)
	return &out, nil
}

func (s *Store) AttachReceipt(ctx context.Context, consentID string, receipt domain.AnchorReceipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[consentID]
	if !ok {
		return domain.ErrNotFound
	}
	if receipt.Status != domain.AnchorStatusAnchored || receipt.TxID == domain.PlaceholderAnchorTxID {
		// A placeholder must never clobber a real transaction id.
		if record.AnchorTxID == "" {
			record.AnchorTxID = domain.PlaceholderAnchorTxID
			record.UpdatedAt = s.now()
			s.records[consentID] = record
		}
		return nil
	}
	anchoredAt := receipt.AnchoredAt.UTC()
	record.AnchorTxID = receipt.TxID
	record.AnchorProof = receipt.LedgerProof
	record.AnchoredAt = &anchoredAt
	record.UpdatedAt = s.now()
	s.records[consentID] = record
	return nil
}

func (s *Store) StatusCounts(ctx context.Context, controllerRef string, now time.Time) (map[domain.ConsentStatus]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.ConsentStatus]int64)
	for id := range s.records {
		record := s.records[id]
		if controllerRef != "" && record.ControllerRef != controllerRef {
			continue
		}
		counts[record.EffectiveStatus(now)]++
	}
	return counts, nil
}

func (s *Store) AnchoredCount(ctx context.Context, controllerRef string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for id := range s.records {
		record := s.records[id]
		if controllerRef != "" && record.ControllerRef != controllerRef {
			continue
		}
		if record.AnchorTxID != "" && record.AnchorTxID != domain.PlaceholderAnchorTxID {
			count++
		}
	}
	return count, nil
}

func recordNewer(a, b domain.ConsentRecord) bool {
	if !a.GrantedAt.Equal(b.GrantedAt) {
		return a.GrantedAt.After(b.GrantedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ConsentID > b.ConsentID
}

func cloneRecord(record domain.ConsentRecord) domain.ConsentRecord {
	out := record
	if record.Categories != nil {
		out.Categories = append([]string(nil), record.Categories...)
	}
	out.ExpiresAt = cloneTime(record.ExpiresAt)
	out.RevokedAt = cloneTime(record.RevokedAt)
	out.AnchoredAt = cloneTime(record.AnchoredAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
