package usecase

import (
	"context"
	"errors"
	"fmt"

	"consentd/internal/domain"
)

const defaultAuditPageSize = 500

// VerifyAuditChain walks the audit log in seq order and re-derives every
// link: seq continuity, prev-hash linkage, payload hash and event hash. It
// pages through the log so verification cost stays bounded per query even
// on long-lived deployments. Returns the number of links checked.
func VerifyAuditChain(ctx context.Context, auditLog AuditLog, pageSize int) (int64, error) {
	if auditLog == nil {
		return 0, errors.New("audit log required")
	}
	if pageSize <= 0 {
		pageSize = defaultAuditPageSize
	}

	var checked int64
	expectedSeq := int64(1)
	prevHash := domain.ZeroAuditHash()
	for {
		events, err := auditLog.List(ctx, expectedSeq-1, pageSize)
		if err != nil {
			return checked, err
		}
		if len(events) == 0 {
			return checked, nil
		}
		for _, event := range events {
			if err := verifyChainLink(event, expectedSeq, prevHash); err != nil {
				return checked, err
			}
			prevHash = event.EventHash
			expectedSeq++
			checked++
		}
		if len(events) < pageSize {
			return checked, nil
		}
	}
}

func verifyChainLink(event domain.AuditEvent, expectedSeq int64, prevHash string) error {
	if event.Seq != expectedSeq {
		return fmt.Errorf("audit chain seq mismatch: expected %d got %d", expectedSeq, event.Seq)
	}
	if event.PrevEventHash != prevHash {
		return fmt.Errorf("audit chain prev hash mismatch at seq %d", event.Seq)
	}
	if event.CreatedAt.IsZero() {
		return fmt.Errorf("audit chain missing created_at at seq %d", event.Seq)
	}
	if event.ComputePayloadHash() != event.PayloadHash {
		return fmt.Errorf("audit chain payload hash mismatch at seq %d", event.Seq)
	}
	eventHash, err := event.ComputeEventHash()
	if err != nil {
		return fmt.Errorf("audit chain hash compute failed at seq %d: %w", event.Seq, err)
	}
	if eventHash != event.EventHash {
		return fmt.Errorf("audit chain hash mismatch at seq %d", event.Seq)
	}
	return nil
}
