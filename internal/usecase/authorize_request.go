package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"consentd/internal/domain"
)

const DefaultMaxSkew = 5 * time.Minute

type AuthorizeRequestInput struct {
	Action       domain.Action
	PrincipalRef string
	TargetID     string
	IssuedAt     time.Time
	Signature    []byte
}

// AuthorizeRequest is the gate in front of every state-changing consent
// operation. The checks run in a fixed order and each failure short-circuits:
// freshness, replay reservation, key resolution, message reconstruction,
// signature verification. The signature is reserved in the replay guard
// before any cryptographic work so two concurrent requests carrying the same
// bytes cannot both pass; if a later step fails, the reservation is released
// so a corrected retry stays possible.
type AuthorizeRequest struct {
	Keys    PrincipalKeyRepository
	Replay  ReplayGuard
	Crypto  CryptoService
	MaxSkew time.Duration
	Clock   Clock
}

// Execute validates the request. On success the returned release func is
// handed to the caller: business failures after the gate (missing record,
// wrong state) call it so the signature is not burned; callers that complete
// their mutation simply drop it and the reservation becomes permanent.
func (uc *AuthorizeRequest) Execute(ctx context.Context, in AuthorizeRequestInput) (*domain.AuthorizedRequest, func(), error) {
	if in.Action != domain.ActionRevoke {
		return nil, nil, fmt.Errorf("%w: unsupported action %q", domain.ErrValidation, in.Action)
	}
	if in.PrincipalRef == "" || in.TargetID == "" {
		return nil, nil, fmt.Errorf("%w: principal and target are required", domain.ErrValidation)
	}
	if len(in.Signature) == 0 {
		return nil, nil, fmt.Errorf("%w: signature is required", domain.ErrValidation)
	}
	if in.IssuedAt.IsZero() {
		return nil, nil, fmt.Errorf("%w: issued_at is required", domain.ErrValidation)
	}

	now := uc.now()
	skew := uc.MaxSkew
	if skew <= 0 {
		skew = DefaultMaxSkew
	}
	age := now.Sub(in.IssuedAt.UTC())
	if age > skew || -age > skew {
		return nil, nil, domain.ErrStaleRequest
	}

	reserved, err := uc.Replay.TryReserve(ctx, in.Signature)
	if err != nil {
		// Fail closed: an unreachable guard must not let signatures through.
		return nil, nil, fmt.Errorf("%w: replay guard: %v", domain.ErrInternal, err)
	}
	if !reserved {
		return nil, nil, domain.ErrReplayDetected
	}
	release := uc.releaseOnce(in.Signature)

	key, err := uc.Keys.GetActive(ctx, in.PrincipalRef)
	if err != nil {
		release()
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, domain.ErrKeyUnknown
		}
		return nil, nil, fmt.Errorf("%w: key lookup: %v", domain.ErrInternal, err)
	}

	message, _, err := uc.Crypto.BuildAuthorizationMessage(in.Action, in.PrincipalRef, in.TargetID, in.IssuedAt)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("%w: build message: %v", domain.ErrInternal, err)
	}

	if err := uc.Crypto.VerifySignature(message, key.Alg, key.PublicKey, in.Signature); err != nil {
		release()
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
	}

	authorized := &domain.AuthorizedRequest{
		Action:       in.Action,
		PrincipalRef: in.PrincipalRef,
		TargetID:     in.TargetID,
		IssuedAt:     in.IssuedAt.UTC(),
		Signature:    append([]byte(nil), in.Signature...),
	}
	return authorized, release, nil
}

// releaseOnce wraps the guard release so gate-internal rollback and the
// caller's post-gate rollback cannot double-release a signature another
// request may have legitimately reserved in between.
func (uc *AuthorizeRequest) releaseOnce(signature []byte) func() {
	var once sync.Once
	sig := append([]byte(nil), signature...)
	return func() {
		once.Do(func() {
			if err := uc.Replay.Release(context.Background(), sig); err != nil {
				log.Printf("authorize: release reservation: %v", err)
			}
		})
	}
}

func (uc *AuthorizeRequest) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock()
	}
	return time.Now().UTC()
}
