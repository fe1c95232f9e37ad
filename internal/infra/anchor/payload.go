package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"consentd/internal/domain"
	cryptoinfra "consentd/internal/infra/crypto"
)

// payloadScheme versions the canonical anchor payload layout. Changing the
// field set or encoding requires a new scheme string.
const payloadScheme = "consent_anchor_v1"

// Payload is the canonical unit submitted to an anchor backend. CanonicalJSON
// is JCS-encoded so every node derives the same HashHex for the same event.
type Payload struct {
	Kind          string
	ConsentID     string
	Status        domain.ConsentStatus
	CanonicalJSON []byte
	HashHex       string
}

// BuildGrantPayload encodes a freshly granted record for anchoring. The
// payload carries only hashed references, never raw subject identity.
func BuildGrantPayload(record domain.ConsentRecord, at time.Time) (Payload, error) {
	if record.ConsentID == "" {
		return Payload{}, errors.New("consent id is required")
	}
	if record.SubjectRef == "" || record.ControllerRef == "" || record.PurposeRef == "" {
		return Payload{}, errors.New("subject, controller and purpose refs are required")
	}
	fields := map[string]any{
		"v":              payloadScheme,
		"kind":           domain.AnchorKindGrant,
		"consent_id":     record.ConsentID,
		"subject_ref":    record.SubjectRef,
		"controller_ref": record.ControllerRef,
		"purpose_ref":    record.PurposeRef,
		"status":         string(domain.StatusGranted),
		"at":             at.UTC().Format(time.RFC3339),
	}
	return buildPayload(domain.AnchorKindGrant, record.ConsentID, domain.StatusGranted, fields)
}

// BuildStatusPayload encodes a lifecycle transition (revoked, expired) for an
// already anchored consent.
func BuildStatusPayload(consentID string, newStatus domain.ConsentStatus, at time.Time) (Payload, error) {
	if consentID == "" {
		return Payload{}, errors.New("consent id is required")
	}
	if newStatus != domain.StatusRevoked && newStatus != domain.StatusExpired {
		return Payload{}, errors.New("status payloads cover revoked and expired only")
	}
	fields := map[string]any{
		"v":          payloadScheme,
		"kind":       domain.AnchorKindStatus,
		"consent_id": consentID,
		"status":     string(newStatus),
		"at":         at.UTC().Format(time.RFC3339),
	}
	return buildPayload(domain.AnchorKindStatus, consentID, newStatus, fields)
}

func buildPayload(kind, consentID string, status domain.ConsentStatus, fields map[string]any) (Payload, error) {
	canonical, err := cryptoinfra.Canonicalize(fields)
	if err != nil {
		return Payload{}, err
	}
	sum := sha256.Sum256(canonical)
	return Payload{
		Kind:          kind,
		ConsentID:     consentID,
		Status:        status,
		CanonicalJSON: canonical,
		HashHex:       hex.EncodeToString(sum[:]),
	}, nil
}
