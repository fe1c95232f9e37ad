package usecase

import (
	"context"
	"time"

	"consentd/internal/domain"
)

// Clock is injected into usecases so tests control time; a nil Clock means
// time.Now in UTC.
type Clock func() time.Time

type ConsentRepository interface {
	// Create inserts the record, or returns the already stored row with
	// created=false when the same consent id exists.
	Create(ctx context.Context, record domain.ConsentRecord) (domain.ConsentRecord, bool, error)
	GetByID(ctx context.Context, consentID string) (*domain.ConsentRecord, error)
	FindLatestByTriple(ctx context.Context, subjectRef, controllerRef, purposeRef string) (*domain.ConsentRecord, error)
	// Revoke transitions a stored granted record; ErrInvalidState when the
	// stored status is anything else.
	Revoke(ctx context.Context, consentID string, revokedAt time.Time) (*domain.ConsentRecord, error)
	// MarkExpired persists a derived expiry so later reads and reports see
	// the terminal status without re-deriving.
	MarkExpired(ctx context.Context, consentID string, expiredAt time.Time) (*domain.ConsentRecord, error)
	AttachReceipt(ctx context.Context, consentID string, receipt domain.AnchorReceipt) error
}

type ComplianceReader interface {
	StatusCounts(ctx context.Context, controllerRef string, now time.Time) (map[domain.ConsentStatus]int64, error)
	AnchoredCount(ctx context.Context, controllerRef string) (int64, error)
}

type AuditLog interface {
	// Append assigns Seq, PrevEventHash and EventHash under the log's own
	// serialization and returns the completed link.
	Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
	List(ctx context.Context, afterSeq int64, limit int) ([]domain.AuditEvent, error)
	ListByConsentID(ctx context.Context, consentID string) ([]domain.AuditEvent, error)
}

type PrincipalKeyRepository interface {
	// Register stores a new active key and retires any previously active
	// key for the same principal.
	Register(ctx context.Context, key domain.PrincipalKey) error
	GetActive(ctx context.Context, principalRef string) (*domain.PrincipalKey, error)
}

type ReplayGuard interface {
	TryReserve(ctx context.Context, signature []byte) (bool, error)
	Release(ctx context.Context, signature []byte) error
}

type CryptoService interface {
	HashRef(kind, raw string) string
	DeriveConsentID(subjectRef, controllerRef, purposeRef string, grantedAt time.Time) string
	BuildAuthorizationMessage(action domain.Action, principalRef, targetID string, issuedAt time.Time) (message []byte, messageHash string, err error)
	VerifySignature(message []byte, alg string, publicKey, sig []byte) error
}

type ProofIssuer interface {
	IssueVerificationProof(controllerRef, purposeRef string, exists bool, ts time.Time) domain.Proof
}

type AnchorScheduler interface {
	ScheduleGrant(record domain.ConsentRecord)
	ScheduleStatusChange(consentID string, newStatus domain.ConsentStatus)
}

type GrantPolicy interface {
	EvaluateGrant(ctx context.Context, input domain.GrantPolicyInput) (domain.PolicyResult, error)
}
