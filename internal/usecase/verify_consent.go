package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"consentd/internal/domain"
)

type VerifyConsentInput struct {
	Subject    string
	Controller string
	Purpose    string
}

// VerifyConsent answers whether a valid consent covers the triple right
// now. It is a read with one sanctioned side effect: a derived expiry
// observed here is persisted best-effort so the stored status catches up
// with the derived one. Every answer carries a proof, including negative
// ones, so callers cannot distinguish "no record" from "not valid" by
// response shape.
type VerifyConsent struct {
	Consents ConsentRepository
	Crypto   CryptoService
	Proofs   ProofIssuer
	Audit    *AuditEmitter
	Anchors  AnchorScheduler
	Clock    Clock
}

func (uc *VerifyConsent) Execute(ctx context.Context, in VerifyConsentInput) (*domain.VerificationResult, error) {
	if strings.TrimSpace(in.Subject) == "" || strings.TrimSpace(in.Controller) == "" || strings.TrimSpace(in.Purpose) == "" {
		return nil, fmt.Errorf("%w: subject, controller and purpose are required", domain.ErrValidation)
	}

	subjectRef := uc.Crypto.HashRef("subject", in.Subject)
	controllerRef := uc.Crypto.HashRef("controller", in.Controller)
	purposeRef := uc.Crypto.HashRef("purpose", in.Purpose)
	now := uc.now()

	record, err := uc.Consents.FindLatestByTriple(ctx, subjectRef, controllerRef, purposeRef)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if record == nil {
		return &domain.VerificationResult{
			IsValid: false,
			Proof:   uc.Proofs.IssueVerificationProof(controllerRef, purposeRef, false, now),
		}, nil
	}

	effective := record.EffectiveStatus(now)
	if effective == domain.StatusExpired && record.Status == domain.StatusGranted {
		if marked, err := uc.Consents.MarkExpired(ctx, record.ConsentID, now); err == nil {
			record = marked
			uc.Audit.EmitConsentExpired(ctx, record.ConsentID)
			if uc.Anchors != nil {
				uc.Anchors.ScheduleStatusChange(record.ConsentID, domain.StatusExpired)
			}
		}
	}

	isValid := effective == domain.StatusGranted
	return &domain.VerificationResult{
		IsValid:   isValid,
		Status:    effective,
		ConsentID: record.ConsentID,
		Proof:     uc.Proofs.IssueVerificationProof(controllerRef, purposeRef, isValid, now),
	}, nil
}

func (uc *VerifyConsent) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock().UTC()
	}
	return time.Now().UTC()
}
