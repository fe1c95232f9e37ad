package domain

import "context"

// AnchorService records consent mutations in an external ledger.
// Implementations must not fail core flows on network/backend errors:
// failures degrade the receipt, never the operation that triggered it.
type AnchorService interface {
	AnchorGrant(ctx context.Context, record ConsentRecord) (AnchorReceipt, error)
	AnchorStatusChange(ctx context.Context, consentID string, newStatus ConsentStatus) (AnchorReceipt, error)
	ProofFor(ctx context.Context, consentID string) (string, error)
	NetworkStatus(ctx context.Context) AnchorNetworkStatus
}

type AnchorNetworkStatus struct {
	Connected   bool   `json:"connected"`
	BackendKind string `json:"backend_kind"`
}

const (
	AnchorStatusAnchored = "anchored"
	AnchorStatusFailed   = "failed"
	AnchorStatusSkipped  = "skipped"
)

const (
	AnchorKindGrant  = "grant"
	AnchorKindStatus = "status"
)

const (
	BackendKindSimulator = "simulator"
	BackendKindLedger    = "ledger"
)

const (
	AnchorErrorNetwork        = "NETWORK"
	AnchorErrorTimeout        = "TIMEOUT"
	AnchorErrorRateLimit      = "RATE_LIMIT"
	AnchorErrorBadConfig      = "BAD_CONFIG"
	AnchorErrorBackendError   = "BACKEND_ERROR"
	AnchorErrorBackend5xx     = "BACKEND_5XX"
	AnchorErrorPersistence    = "PERSISTENCE"
	AnchorErrorNotImplemented = "NOT_IMPLEMENTED"
)

type AnchorAttemptRepository interface {
	Append(ctx context.Context, attempt AnchorAttempt) error
	ListByConsentID(ctx context.Context, consentID string) ([]AnchorAttempt, error)
}
