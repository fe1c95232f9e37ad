package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"consentd/internal/domain"
)

type GrantConsentInput struct {
	Subject     string
	Controller  string
	Purpose     string
	Categories  []string
	LawfulBasis string
	ExpiresAt   *time.Time
}

// GrantConsent records a subject's consent for a controller/purpose pair.
// Raw identifiers are hashed into reference form immediately and never
// leave this usecase. Policy is optional; when configured, a deny blocks
// the grant before any state is touched.
type GrantConsent struct {
	Consents ConsentRepository
	Policy   GrantPolicy
	Crypto   CryptoService
	Audit    *AuditEmitter
	Anchors  AnchorScheduler
	Clock    Clock

	// DefaultTTL caps open-ended grants when set; zero leaves grants
	// without an expiry open-ended.
	DefaultTTL time.Duration
}

func (uc *GrantConsent) Execute(ctx context.Context, in GrantConsentInput) (*domain.ConsentRecord, error) {
	now := uc.now()
	if err := validateGrantInput(in, now); err != nil {
		return nil, err
	}

	if uc.Policy != nil {
		result, err := uc.Policy.EvaluateGrant(ctx, domain.GrantPolicyInput{
			LawfulBasis: in.LawfulBasis,
			Categories:  in.Categories,
			HasExpiry:   in.ExpiresAt != nil,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: policy evaluation: %v", domain.ErrInternal, err)
		}
		if !result.Allow {
			return nil, fmt.Errorf("%w: %s", domain.ErrPolicyDenied, denyReasons(result.Deny))
		}
	}

	subjectRef := uc.Crypto.HashRef("subject", in.Subject)
	controllerRef := uc.Crypto.HashRef("controller", in.Controller)
	purposeRef := uc.Crypto.HashRef("purpose", in.Purpose)

	expiresAt := in.ExpiresAt
	if expiresAt == nil && uc.DefaultTTL > 0 {
		capped := now.Add(uc.DefaultTTL)
		expiresAt = &capped
	}

	consentID := uc.Crypto.DeriveConsentID(subjectRef, controllerRef, purposeRef, now)

	existing, err := uc.Consents.FindLatestByTriple(ctx, subjectRef, controllerRef, purposeRef)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		switch existing.EffectiveStatus(now) {
		case domain.StatusGranted:
			// A same-instant retry derives the very id that is already
			// stored; that is the idempotent path, not a conflict.
			if existing.ConsentID == consentID {
				return existing, nil
			}
			return nil, fmt.Errorf("%w: active consent %s already covers this purpose", domain.ErrConflict, existing.ConsentID)
		case domain.StatusExpired:
			// Stored status may still say granted; persist the derived
			// expiry now rather than leaving it to the next reader.
			if existing.Status == domain.StatusGranted {
				uc.markExpired(ctx, existing.ConsentID, now)
			}
		}
	}

	record := domain.ConsentRecord{
		ConsentID:     consentID,
		SubjectRef:    subjectRef,
		ControllerRef: controllerRef,
		PurposeRef:    purposeRef,
		Categories:    normalizeCategories(in.Categories),
		LawfulBasis:   in.LawfulBasis,
		Status:        domain.StatusGranted,
		GrantedAt:     now,
		ExpiresAt:     expiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	stored, created, err := uc.Consents.Create(ctx, record)
	if err != nil {
		return nil, err
	}
	if !created {
		// Same-instant retry derived the same id; the first write already
		// audited and scheduled anchoring.
		return &stored, nil
	}

	uc.Audit.EmitConsentGranted(ctx, stored)
	if uc.Anchors != nil {
		uc.Anchors.ScheduleGrant(stored)
	}
	return &stored, nil
}

func (uc *GrantConsent) markExpired(ctx context.Context, consentID string, now time.Time) {
	if _, err := uc.Consents.MarkExpired(ctx, consentID, now); err != nil {
		return
	}
	uc.Audit.EmitConsentExpired(ctx, consentID)
	if uc.Anchors != nil {
		uc.Anchors.ScheduleStatusChange(consentID, domain.StatusExpired)
	}
}

func (uc *GrantConsent) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock().UTC()
	}
	return time.Now().UTC()
}

func validateGrantInput(in GrantConsentInput, now time.Time) error {
	if strings.TrimSpace(in.Subject) == "" {
		return fmt.Errorf("%w: subject is required", domain.ErrValidation)
	}
	if strings.TrimSpace(in.Controller) == "" {
		return fmt.Errorf("%w: controller is required", domain.ErrValidation)
	}
	if strings.TrimSpace(in.Purpose) == "" {
		return fmt.Errorf("%w: purpose is required", domain.ErrValidation)
	}
	if len(in.Categories) == 0 {
		return fmt.Errorf("%w: at least one data category is required", domain.ErrValidation)
	}
	for _, category := range in.Categories {
		if strings.TrimSpace(category) == "" {
			return fmt.Errorf("%w: empty data category", domain.ErrValidation)
		}
	}
	if !domain.KnownLawfulBasis(in.LawfulBasis) {
		return fmt.Errorf("%w: unknown lawful basis %q", domain.ErrValidation, in.LawfulBasis)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expires_at must be in the future", domain.ErrValidation)
	}
	return nil
}

func normalizeCategories(categories []string) []string {
	out := make([]string, 0, len(categories))
	for _, category := range categories {
		out = append(out, strings.TrimSpace(category))
	}
	return out
}

func denyReasons(denies []domain.PolicyDeny) string {
	if len(denies) == 0 {
		return "denied by policy"
	}
	codes := make([]string, 0, len(denies))
	for _, deny := range denies {
		codes = append(codes, deny.Code)
	}
	return strings.Join(codes, ", ")
}
