package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"consentd/internal/domain"
)

type RevokeConsentInput struct {
	ConsentID string
	Subject   string
	Signature []byte
	IssuedAt  time.Time
}

// RevokeConsent is the signed mutation: the authorization gate runs before
// any record is read. Business failures after the gate release the
// signature reservation so the subject can retry with the same signed
// request once the underlying problem is fixed; a completed revoke keeps
// the reservation, which is what makes replaying the used signature fail.
type RevokeConsent struct {
	Consents ConsentRepository
	Gate     *AuthorizeRequest
	Crypto   CryptoService
	Audit    *AuditEmitter
	Anchors  AnchorScheduler
	Clock    Clock
}

func (uc *RevokeConsent) Execute(ctx context.Context, in RevokeConsentInput) (*domain.ConsentRecord, error) {
	if strings.TrimSpace(in.ConsentID) == "" {
		return nil, fmt.Errorf("%w: consent_id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(in.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", domain.ErrValidation)
	}

	principalRef := uc.Crypto.HashRef("subject", in.Subject)
	authorized, release, err := uc.Gate.Execute(ctx, AuthorizeRequestInput{
		Action:       domain.ActionRevoke,
		PrincipalRef: principalRef,
		TargetID:     in.ConsentID,
		IssuedAt:     in.IssuedAt,
		Signature:    in.Signature,
	})
	if err != nil {
		return nil, err
	}

	record, err := uc.Consents.GetByID(ctx, in.ConsentID)
	if err != nil {
		release()
		return nil, err
	}
	// A consent belonging to someone else looks exactly like a missing one.
	if record.SubjectRef != authorized.PrincipalRef {
		release()
		return nil, domain.ErrNotFound
	}

	now := uc.now()
	if status := record.EffectiveStatus(now); status != domain.StatusGranted {
		release()
		return nil, fmt.Errorf("%w: consent is %s", domain.ErrInvalidState, status)
	}

	updated, err := uc.Consents.Revoke(ctx, in.ConsentID, now)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrNotFound) {
			release()
		}
		return nil, err
	}

	uc.Audit.EmitConsentRevoked(ctx, updated.ConsentID, authorized.PrincipalRef)
	if uc.Anchors != nil {
		uc.Anchors.ScheduleStatusChange(updated.ConsentID, domain.StatusRevoked)
	}
	return updated, nil
}

func (uc *RevokeConsent) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock().UTC()
	}
	return time.Now().UTC()
}
