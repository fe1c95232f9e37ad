package consentmem

import (
	"context"
	"sync"
	"time"

	"consentd/internal/domain"
)

type KeyStore struct {
	mu   sync.RWMutex
	keys map[string][]domain.PrincipalKey
	now  func() time.Time
}

func NewKeyStore() *KeyStore {
	return &KeyStore{
		keys: make(map[string][]domain.PrincipalKey),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *KeyStore) Register(ctx context.Context, key domain.PrincipalKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key.PrincipalRef == "" || len(key.PublicKey) == 0 {
		return domain.ErrValidation
	}
	if !domain.KnownKeyAlg(key.Alg) {
		return domain.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.keys[key.PrincipalRef]
	for i := range history {
		if history[i].Status == domain.KeyStatusActive {
			history[i].Status = domain.KeyStatusRevoked
		}
	}

	key.Status = domain.KeyStatusActive
	if key.CreatedAt.IsZero() {
		key.CreatedAt = s.now()
	}
	key.PublicKey = append([]byte(nil), key.PublicKey...)
	s.keys[key.PrincipalRef] = append(history, key)
	return nil
}

func (s *KeyStore) GetActive(ctx context.Context, principalRef string) (*domain.PrincipalKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.keys[principalRef]
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Status != domain.KeyStatusActive {
			continue
		}
		out := history[i]
		out.PublicKey = append([]byte(nil), history[i].PublicKey...)
		return &out, nil
	}
	return nil, domain.ErrNotFound
}
