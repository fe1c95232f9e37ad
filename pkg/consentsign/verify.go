package consentsign

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"consentd/internal/domain"
	"consentd/internal/infra/bundles"
)

// BundleSummary is what an offline verifier can assert about an evidence
// bundle without talking to the service.
type BundleSummary struct {
	ConsentID   string
	Status      string
	Digest      string
	AuditEvents int
	Anchored    bool
}

// VerifyEvidenceBundle checks a bundle as served by the evidence endpoint:
// the embedded digest must reproduce from the bundle's own canonical bytes,
// and every audit entry's payload and event hashes must recompute from its
// stored fields. Entries are a per-consent slice of the full chain, so
// prev-hash continuity between entries is not required here; the compliance
// endpoint verifies the full chain.
func VerifyEvidenceBundle(raw []byte) (BundleSummary, error) {
	var bundle bundles.EvidenceBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return BundleSummary{}, fmt.Errorf("decode bundle: %w", err)
	}
	if bundle.Version != bundles.EvidenceBundleVersion {
		return BundleSummary{}, fmt.Errorf("unsupported bundle version %q", bundle.Version)
	}
	digest, err := bundle.ComputeDigest()
	if err != nil {
		return BundleSummary{}, err
	}
	if digest != bundle.BundleDigest {
		return BundleSummary{}, errors.New("bundle digest mismatch")
	}
	consentID := bundle.Consent.ConsentID
	if consentID == "" {
		return BundleSummary{}, errors.New("bundle has no consent record")
	}

	for _, entry := range bundle.AuditTrail {
		if entry.ConsentID != consentID {
			return BundleSummary{}, fmt.Errorf("audit entry seq %d belongs to a different consent", entry.Seq)
		}
		event, err := auditEventFromEntry(entry)
		if err != nil {
			return BundleSummary{}, err
		}
		if event.ComputePayloadHash() != entry.PayloadHash {
			return BundleSummary{}, fmt.Errorf("audit entry seq %d payload hash mismatch", entry.Seq)
		}
		eventHash, err := event.ComputeEventHash()
		if err != nil {
			return BundleSummary{}, fmt.Errorf("audit entry seq %d: %w", entry.Seq, err)
		}
		if eventHash != entry.EventHash {
			return BundleSummary{}, fmt.Errorf("audit entry seq %d event hash mismatch", entry.Seq)
		}
	}
	for _, attempt := range bundle.Attempts {
		if attempt.ConsentID != consentID {
			return BundleSummary{}, fmt.Errorf("anchor attempt %s belongs to a different consent", attempt.ID)
		}
	}
	if bundle.Receipt != nil && bundle.Receipt.TxID == "" {
		return BundleSummary{}, errors.New("anchor receipt has no transaction id")
	}

	summary := BundleSummary{
		ConsentID:   consentID,
		Status:      string(bundle.Consent.Status),
		Digest:      bundle.BundleDigest,
		AuditEvents: len(bundle.AuditTrail),
	}
	if bundle.Receipt != nil && bundle.Receipt.Status == domain.AnchorStatusAnchored {
		summary.Anchored = true
	}
	return summary, nil
}

func auditEventFromEntry(entry bundles.AuditEntry) (domain.AuditEvent, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, entry.CreatedAt)
	if err != nil {
		return domain.AuditEvent{}, fmt.Errorf("audit entry seq %d invalid created_at: %w", entry.Seq, err)
	}
	return domain.AuditEvent{
		ID:            entry.ID,
		Seq:           entry.Seq,
		EventType:     domain.AuditEventType(entry.EventType),
		ConsentID:     entry.ConsentID,
		ActorRef:      entry.ActorRef,
		BeforeStatus:  domain.ConsentStatus(entry.BeforeStatus),
		AfterStatus:   domain.ConsentStatus(entry.AfterStatus),
		PayloadHash:   entry.PayloadHash,
		PrevEventHash: entry.PrevEventHash,
		EventHash:     entry.EventHash,
		CreatedAt:     createdAt,
	}, nil
}
