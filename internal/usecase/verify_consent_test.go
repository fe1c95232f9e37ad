package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"consentd/internal/domain"
)

func TestVerifyConsent_NoRecord(t *testing.T) {
	s := newStack(t)

	result, err := s.verify.Execute(context.Background(), VerifyConsentInput{
		Subject: "nobody@example.org", Controller: "acme-analytics", Purpose: "usage-metrics",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected invalid")
	}
	if result.Status != "" || result.ConsentID != "" {
		t.Fatalf("no record means no status and no id, got %+v", result)
	}
	if result.Proof.Protocol != "groth16" || len(result.Proof.PublicSignals) != 4 {
		t.Fatalf("negative answers still carry a proof, got %+v", result.Proof)
	}
	if result.Proof.PublicSignals[2] != "0" {
		t.Fatalf("expected exists=0 signal, got %q", result.Proof.PublicSignals[2])
	}
}

func TestVerifyConsent_ValidGrant(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	record, err := s.grant.Execute(ctx, grantInput("alice@example.org"))
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	result, err := s.verify.Execute(ctx, VerifyConsentInput{
		Subject: "alice@example.org", Controller: "acme-analytics", Purpose: "usage-metrics",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.IsValid || result.Status != domain.StatusGranted || result.ConsentID != record.ConsentID {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Proof.PublicSignals[2] != "1" {
		t.Fatalf("expected exists=1 signal, got %q", result.Proof.PublicSignals[2])
	}
}

func TestVerifyConsent_DeterministicProof(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	in := VerifyConsentInput{Subject: "alice@example.org", Controller: "acme-analytics", Purpose: "usage-metrics"}

	if _, err := s.grant.Execute(ctx, grantInput("alice@example.org")); err != nil {
		t.Fatalf("grant: %v", err)
	}
	first, err := s.verify.Execute(ctx, in)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	second, err := s.verify.Execute(ctx, in)
	if err != nil {
		t.Fatalf("verify again: %v", err)
	}
	// Clock is frozen, so both proofs cover identical inputs.
	if !reflect.DeepEqual(first.Proof, second.Proof) {
		t.Fatal("expected identical proofs for identical inputs")
	}
}

func TestVerifyConsent_DerivedExpiryIsPersisted(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	in := grantInput("alice@example.org")
	expiresAt := s.clock.Now().Add(time.Hour)
	in.ExpiresAt = &expiresAt
	record, err := s.grant.Execute(ctx, in)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	s.clock.Advance(2 * time.Hour)
	result, err := s.verify.Execute(ctx, VerifyConsentInput{
		Subject: "alice@example.org", Controller: "acme-analytics", Purpose: "usage-metrics",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.IsValid || result.Status != domain.StatusExpired {
		t.Fatalf("expected expired, got %+v", result)
	}

	stored, err := s.store.GetByID(ctx, record.ConsentID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != domain.StatusExpired {
		t.Fatalf("derived expiry should be persisted, stored status %s", stored.Status)
	}

	events, err := s.audit.ListByConsentID(ctx, record.ConsentID)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	last := events[len(events)-1]
	if last.EventType != domain.AuditEventConsentExpired {
		t.Fatalf("expected a consent_expired event, got %s", last.EventType)
	}

	// A second verify sees the stored terminal status and emits nothing new.
	before := s.audit.Len()
	if _, err := s.verify.Execute(ctx, VerifyConsentInput{
		Subject: "alice@example.org", Controller: "acme-analytics", Purpose: "usage-metrics",
	}); err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if s.audit.Len() != before {
		t.Fatal("verify of an already-expired record must not emit again")
	}
}

func TestVerifyConsent_Validation(t *testing.T) {
	s := newStack(t)
	_, err := s.verify.Execute(context.Background(), VerifyConsentInput{Subject: "alice@example.org"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
