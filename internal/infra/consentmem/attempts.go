package consentmem

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"consentd/internal/domain"
)

type AttemptLog struct {
	mu       sync.Mutex
	attempts []domain.AnchorAttempt
}

func NewAttemptLog() *AttemptLog {
	return &AttemptLog{}
}

func (l *AttemptLog) Append(ctx context.Context, attempt domain.AnchorAttempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	l.attempts = append(l.attempts, attempt)
	return nil
}

func (l *AttemptLog) ListByConsentID(ctx context.Context, consentID string) ([]domain.AnchorAttempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.AnchorAttempt
	for _, attempt := range l.attempts {
		if attempt.ConsentID == consentID {
			out = append(out, attempt)
		}
	}
	return out, nil
}
