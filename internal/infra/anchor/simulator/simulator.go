// Package simulator is the default anchor backend. It fabricates
// deterministic transaction ids and proofs so the rest of the pipeline
// (receipts, attempts, verification responses) behaves exactly as with a real
// ledger, without any network dependency.
package simulator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"consentd/internal/domain"
	"consentd/internal/infra/anchor"
)

const (
	txScheme    = "consent_anchor_sim_v1"
	proofScheme = "consent_anchor_sim_proof_v1"

	// txBucket coarsens the timestamp folded into the transaction id so
	// rapid resubmissions of the same payload land on the same id.
	txBucket = 10 * time.Minute
)

type Backend struct {
	now func() time.Time
}

func New(now func() time.Time) *Backend {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Backend{now: now}
}

func (b *Backend) Kind() string { return domain.BackendKindSimulator }

func (b *Backend) Submit(ctx context.Context, payload anchor.Payload) domain.AnchorReceipt {
	at := b.now()
	txID := b.txID(payload.HashHex, at)
	proof, _ := b.Proof(ctx, txID)
	return domain.AnchorReceipt{
		Backend:     domain.BackendKindSimulator,
		Status:      domain.AnchorStatusAnchored,
		PayloadHash: payload.HashHex,
		TxID:        txID,
		LedgerProof: proof,
		AnchoredAt:  at,
	}
}

func (b *Backend) Proof(_ context.Context, txID string) (string, error) {
	if txID == "" {
		return "", errors.New("tx id is required")
	}
	sum := sha256.Sum256([]byte(proofScheme + "|" + txID))
	return hex.EncodeToString(sum[:]), nil
}

func (b *Backend) Ping(context.Context) error { return nil }

func (b *Backend) txID(payloadHash string, at time.Time) string {
	bucket := at.UTC().Truncate(txBucket).Unix()
	seed := txScheme + "|" + payloadHash + "|" + strconv.FormatInt(bucket, 10)
	sum := sha256.Sum256([]byte(seed))
	return "sim-" + hex.EncodeToString(sum[:])[:40]
}
