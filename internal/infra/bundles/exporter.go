package bundles

import (
	"context"
	"errors"
	"sort"
	"time"

	"consentd/internal/domain"
	cryptoinfra "consentd/internal/infra/crypto"
)

const EvidenceBundleVersion = "consent_evidence_v1"

type ConsentReader interface {
	GetByID(ctx context.Context, consentID string) (*domain.ConsentRecord, error)
}

type AuditReader interface {
	ListByConsentID(ctx context.Context, consentID string) ([]domain.AuditEvent, error)
}

type AttemptReader interface {
	ListByConsentID(ctx context.Context, consentID string) ([]domain.AnchorAttempt, error)
}

// Exporter assembles everything the service stored about one consent into
// a self-contained bundle: the record, its full audit trail, every anchor
// attempt and the anchor receipt. The bundle carries a digest over its own
// canonical bytes so a copy handed to an auditor can be re-hashed and
// compared later.
type Exporter struct {
	Consents ConsentReader
	Audit    AuditReader
	Attempts AttemptReader
	Now      func() time.Time
}

type EvidenceBundle struct {
	Version      string               `json:"version"`
	GeneratedAt  string               `json:"generated_at"`
	Consent      domain.ConsentRecord `json:"consent"`
	AuditTrail   []AuditEntry         `json:"audit_trail"`
	Attempts     []AttemptEntry       `json:"anchor_attempts"`
	Receipt      *ReceiptEntry        `json:"anchor_receipt,omitempty"`
	BundleDigest string               `json:"bundle_digest"`
}

// AuditEntry keeps full nanosecond timestamps: the chain hashes cover
// created_at at stored precision, and a verifier recomputing them from the
// bundle must see the exact bytes.
type AuditEntry struct {
	ID            string `json:"id"`
	Seq           int64  `json:"seq"`
	EventType     string `json:"event_type"`
	ConsentID     string `json:"consent_id"`
	ActorRef      string `json:"actor_ref,omitempty"`
	BeforeStatus  string `json:"before_status,omitempty"`
	AfterStatus   string `json:"after_status,omitempty"`
	PayloadHash   string `json:"payload_hash"`
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
	CreatedAt     string `json:"created_at"`
}

type AttemptEntry struct {
	ID          string `json:"id"`
	ConsentID   string `json:"consent_id"`
	Backend     string `json:"backend"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	ErrorCode   string `json:"error_code,omitempty"`
	PayloadHash string `json:"payload_hash,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type ReceiptEntry struct {
	Status     string `json:"status"`
	TxID       string `json:"tx_id"`
	Proof      string `json:"proof,omitempty"`
	AnchoredAt string `json:"anchored_at,omitempty"`
}

func (e *Exporter) Export(ctx context.Context, consentID string) (*EvidenceBundle, error) {
	if e.Consents == nil {
		return nil, errors.New("consent reader is required")
	}
	record, err := e.Consents.GetByID(ctx, consentID)
	if err != nil {
		return nil, err
	}

	var events []domain.AuditEvent
	if e.Audit != nil {
		events, err = e.Audit.ListByConsentID(ctx, consentID)
		if err != nil {
			return nil, err
		}
	}
	var attempts []domain.AnchorAttempt
	if e.Attempts != nil {
		attempts, err = e.Attempts.ListByConsentID(ctx, consentID)
		if err != nil {
			return nil, err
		}
	}

	bundle := EvidenceBundle{
		Version:     EvidenceBundleVersion,
		GeneratedAt: e.now().Format(time.RFC3339Nano),
		Consent:     *record,
		AuditTrail:  buildAuditEntries(events),
		Attempts:    buildAttemptEntries(attempts),
		Receipt:     buildReceiptEntry(*record),
	}
	digest, err := bundle.ComputeDigest()
	if err != nil {
		return nil, err
	}
	bundle.BundleDigest = digest
	return &bundle, nil
}

// ExportJSON exports the bundle as its canonical bytes, the exact form the
// digest was computed against.
func (e *Exporter) ExportJSON(ctx context.Context, consentID string) ([]byte, error) {
	bundle, err := e.Export(ctx, consentID)
	if err != nil {
		return nil, err
	}
	return MarshalEvidenceBundle(*bundle)
}

func MarshalEvidenceBundle(bundle EvidenceBundle) ([]byte, error) {
	return cryptoinfra.Canonicalize(bundle)
}

// ComputeDigest hashes the bundle's canonical bytes with the digest field
// itself zeroed, so re-hashing an exported bundle reproduces the embedded
// value.
func (b EvidenceBundle) ComputeDigest() (string, error) {
	b.BundleDigest = ""
	canonical, err := cryptoinfra.Canonicalize(b)
	if err != nil {
		return "", err
	}
	return domain.Sha256Hex(canonical), nil
}

func (e *Exporter) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func buildAuditEntries(events []domain.AuditEvent) []AuditEntry {
	out := make([]AuditEntry, 0, len(events))
	for _, event := range events {
		out = append(out, AuditEntry{
			ID:            event.ID,
			Seq:           event.Seq,
			EventType:     string(event.EventType),
			ConsentID:     event.ConsentID,
			ActorRef:      event.ActorRef,
			BeforeStatus:  string(event.BeforeStatus),
			AfterStatus:   string(event.AfterStatus),
			PayloadHash:   event.PayloadHash,
			PrevEventHash: event.PrevEventHash,
			EventHash:     event.EventHash,
			CreatedAt:     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func buildAttemptEntries(attempts []domain.AnchorAttempt) []AttemptEntry {
	out := make([]AttemptEntry, 0, len(attempts))
	for _, attempt := range attempts {
		out = append(out, AttemptEntry{
			ID:          attempt.ID,
			ConsentID:   attempt.ConsentID,
			Backend:     attempt.Backend,
			Kind:        attempt.Kind,
			Status:      attempt.Status,
			ErrorCode:   attempt.ErrorCode,
			PayloadHash: attempt.PayloadHash,
			CreatedAt:   attempt.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt == out[j].CreatedAt {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out
}

func buildReceiptEntry(record domain.ConsentRecord) *ReceiptEntry {
	if record.AnchorTxID == "" {
		return nil
	}
	entry := &ReceiptEntry{
		Status: domain.AnchorStatusAnchored,
		TxID:   record.AnchorTxID,
		Proof:  record.AnchorProof,
	}
	if record.AnchorTxID == domain.PlaceholderAnchorTxID {
		entry.Status = domain.AnchorStatusFailed
	}
	if record.AnchoredAt != nil {
		entry.AnchoredAt = record.AnchoredAt.UTC().Format(time.RFC3339Nano)
	}
	return entry
}
