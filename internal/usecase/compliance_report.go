package usecase

import (
	"context"
	"log"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"consentd/internal/domain"
)

// ComplianceReport aggregates ledger and audit state into a single
// summary. The three reads are independent and fan out concurrently; the
// report mutates nothing, so a summary taken mid-traffic is a consistent-
// enough snapshot rather than a transaction.
type ComplianceReport struct {
	Consents ComplianceReader
	Audit    AuditLog
	Clock    Clock
}

func (uc *ComplianceReport) Execute(ctx context.Context, controllerRef string) (*domain.ComplianceSummary, error) {
	now := uc.now()

	var (
		counts      map[domain.ConsentStatus]int64
		anchored    int64
		chainLength int64
		chainOK     bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = uc.Consents.StatusCounts(gctx, controllerRef, now)
		return err
	})
	g.Go(func() error {
		var err error
		anchored, err = uc.Consents.AnchoredCount(gctx, controllerRef)
		return err
	})
	g.Go(func() error {
		checked, err := VerifyAuditChain(gctx, uc.Audit, defaultAuditPageSize)
		chainLength = checked
		if err != nil {
			// A broken chain is a finding, not a failure of the report.
			log.Printf("compliance: audit chain verification: %v", err)
			chainOK = false
			return nil
		}
		chainOK = true
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int64
	for _, count := range counts {
		total += count
	}
	// Pending records have nothing to anchor yet, so they stay out of the
	// coverage denominator.
	denominator := total - counts[domain.StatusPending]
	coverage := 1.0
	if denominator > 0 {
		coverage = float64(anchored) / float64(denominator)
		if coverage > 1 {
			coverage = 1
		}
	}

	score := int(math.Round(50 * coverage))
	if chainOK {
		score += 50
	}

	return &domain.ComplianceSummary{
		ControllerRef:    controllerRef,
		TotalRecords:     total,
		StatusCounts:     counts,
		AnchoredRecords:  anchored,
		AnchorCoverage:   coverage,
		AuditChainLength: chainLength,
		AuditChainOK:     chainOK,
		Score:            score,
		GeneratedAt:      now,
	}, nil
}

func (uc *ComplianceReport) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock().UTC()
	}
	return time.Now().UTC()
}
