package domain

import "time"

// AnchorReceipt is the external ledger's acknowledgment of an anchored
// event. It is owned by the anchoring layer and attached to a consent
// record by reference only, after the fact.
type AnchorReceipt struct {
	ConsentID   string    `json:"consent_id"`
	Backend     string    `json:"backend"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	ErrorCode   string    `json:"error_code,omitempty"`
	PayloadHash string    `json:"payload_hash"`
	TxID        string    `json:"tx_id,omitempty"`
	LedgerProof string    `json:"ledger_proof,omitempty"`
	AnchoredAt  time.Time `json:"anchored_at,omitempty"`
}

// AnchorAttempt is one row per anchoring try, recorded whether or not the
// backend accepted the payload.
type AnchorAttempt struct {
	ID          string
	ConsentID   string
	Backend     string
	Kind        string
	Status      string
	ErrorCode   string
	PayloadHash string
	CreatedAt   time.Time
}

// PlaceholderAnchorTxID marks a record whose anchoring terminally failed.
// The record stays queryable and functionally valid without a real receipt.
const PlaceholderAnchorTxID = "unanchored"
