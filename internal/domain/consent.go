package domain

import "time"

type ConsentStatus string

const (
	StatusPending ConsentStatus = "pending"
	StatusGranted ConsentStatus = "granted"
	StatusRevoked ConsentStatus = "revoked"
	StatusExpired ConsentStatus = "expired"
)

// Lawful bases for processing, per GDPR art. 6(1).
const (
	BasisConsent            = "consent"
	BasisContract           = "contract"
	BasisLegalObligation    = "legal_obligation"
	BasisVitalInterests     = "vital_interests"
	BasisPublicTask         = "public_task"
	BasisLegitimateInterest = "legitimate_interest"
)

func KnownLawfulBasis(basis string) bool {
	switch basis {
	case BasisConsent, BasisContract, BasisLegalObligation,
		BasisVitalInterests, BasisPublicTask, BasisLegitimateInterest:
		return true
	}
	return false
}

// ConsentRecord is the central entity. Subject, controller and purpose are
// stored only as one-way reference hashes; raw identifiers never persist.
// The consent id is content-derived from the triple plus the grant instant,
// so identical grants at the same instant collapse to one record.
type ConsentRecord struct {
	ConsentID     string        `json:"consent_id"`
	SubjectRef    string        `json:"subject_ref"`
	ControllerRef string        `json:"controller_ref"`
	PurposeRef    string        `json:"purpose_ref"`
	Categories    []string      `json:"categories"`
	LawfulBasis   string        `json:"lawful_basis"`
	Status        ConsentStatus `json:"status"`
	GrantedAt     time.Time     `json:"granted_at"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	RevokedAt     *time.Time    `json:"revoked_at,omitempty"`

	AnchorTxID  string     `json:"anchor_tx_id,omitempty"`
	AnchorProof string     `json:"anchor_proof,omitempty"`
	AnchoredAt  *time.Time `json:"anchored_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveStatus applies the derived-expiry rule: a stored Granted record
// whose expiry has passed reports Expired even before any mutation ran.
func (r ConsentRecord) EffectiveStatus(now time.Time) ConsentStatus {
	if r.Status == StatusGranted && r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return StatusExpired
	}
	return r.Status
}

// CanTransition encodes the one-directional lifecycle
// Pending -> Granted -> {Revoked | Expired}. Terminal states never re-enter
// an earlier one.
func CanTransition(from, to ConsentStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusGranted
	case StatusGranted:
		return to == StatusRevoked || to == StatusExpired
	}
	return false
}
