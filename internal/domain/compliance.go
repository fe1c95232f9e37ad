package domain

import "time"

// ComplianceSummary is a read-only aggregation over ledger and audit
// state. Status counts apply the derived-expiry rule at read time.
type ComplianceSummary struct {
	ControllerRef    string                  `json:"controller_ref,omitempty"`
	TotalRecords     int64                   `json:"total_records"`
	StatusCounts     map[ConsentStatus]int64 `json:"status_counts"`
	AnchoredRecords  int64                   `json:"anchored_records"`
	AnchorCoverage   float64                 `json:"anchor_coverage"`
	AuditChainLength int64                   `json:"audit_chain_length"`
	AuditChainOK     bool                    `json:"audit_chain_ok"`
	Score            int                     `json:"score"`
	GeneratedAt      time.Time               `json:"generated_at"`
}
