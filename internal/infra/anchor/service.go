package anchor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"consentd/internal/domain"
	"consentd/internal/infra/metrics"
)

// Backend is a single anchoring target. Submit never returns an error:
// failures are encoded in the receipt so the caller's flow cannot break.
type Backend interface {
	Kind() string
	Submit(ctx context.Context, payload Payload) domain.AnchorReceipt
	Proof(ctx context.Context, txID string) (string, error)
	Ping(ctx context.Context) error
}

// ConsentReader resolves stored records when a proof is requested after the
// fact.
type ConsentReader interface {
	GetByID(ctx context.Context, consentID string) (domain.ConsentRecord, error)
}

// ReceiptSink persists the outcome of an anchor attempt onto the consent
// record. Implementations must never let a placeholder overwrite a real
// transaction id.
type ReceiptSink interface {
	AttachReceipt(ctx context.Context, consentID string, receipt domain.AnchorReceipt) error
}

const defaultBackendTimeout = 5 * time.Second

// Service drives one configured backend and records every attempt. Anchoring
// is best effort end to end: the worst outcome for the caller is a failed
// receipt with the placeholder transaction id.
type Service struct {
	backend  Backend
	attempts domain.AnchorAttemptRepository
	consents ConsentReader
	sink     ReceiptSink
	timeout  time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
}

func NewService(backend Backend, attempts domain.AnchorAttemptRepository, consents ConsentReader, sink ReceiptSink, timeout time.Duration) (*Service, error) {
	if backend == nil {
		return nil, errors.New("anchor backend is required")
	}
	if timeout <= 0 {
		timeout = defaultBackendTimeout
	}
	return &Service{
		backend:  backend,
		attempts: attempts,
		consents: consents,
		sink:     sink,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithMetrics attaches a collector set. Safe to skip; a nil set records
// nothing.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) AnchorGrant(ctx context.Context, record domain.ConsentRecord) (domain.AnchorReceipt, error) {
	payload, err := BuildGrantPayload(record, s.now())
	if err != nil {
		return domain.AnchorReceipt{}, err
	}
	return s.submit(ctx, payload), nil
}

func (s *Service) AnchorStatusChange(ctx context.Context, consentID string, newStatus domain.ConsentStatus) (domain.AnchorReceipt, error) {
	payload, err := BuildStatusPayload(consentID, newStatus, s.now())
	if err != nil {
		return domain.AnchorReceipt{}, err
	}
	return s.submit(ctx, payload), nil
}

// ProofFor returns the ledger proof for an anchored consent. The stored proof
// wins; otherwise the backend is asked using the stored transaction id.
func (s *Service) ProofFor(ctx context.Context, consentID string) (string, error) {
	if s.consents == nil {
		return "", domain.ErrAnchorUnavailable
	}
	record, err := s.consents.GetByID(ctx, consentID)
	if err != nil {
		return "", err
	}
	if record.AnchorTxID == "" || record.AnchorTxID == domain.PlaceholderAnchorTxID {
		return "", domain.ErrAnchorUnavailable
	}
	if record.AnchorProof != "" {
		return record.AnchorProof, nil
	}
	proofCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	proof, err := s.backend.Proof(proofCtx, record.AnchorTxID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAnchorUnavailable, err)
	}
	return proof, nil
}

func (s *Service) NetworkStatus(ctx context.Context) domain.AnchorNetworkStatus {
	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.backend.Ping(pingCtx)
	if err != nil {
		log.Printf("anchor: ping %s backend: %v", s.backend.Kind(), err)
	}
	return domain.AnchorNetworkStatus{
		Connected:   err == nil,
		BackendKind: s.backend.Kind(),
	}
}

func (s *Service) submit(ctx context.Context, payload Payload) domain.AnchorReceipt {
	if ctx == nil {
		ctx = context.Background()
	}
	backendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	started := s.now()
	receipt := s.backend.Submit(backendCtx, clonePayload(payload))
	timedOut := backendCtx.Err() != nil && errors.Is(backendCtx.Err(), context.DeadlineExceeded)
	cancel()

	receipt.ConsentID = payload.ConsentID
	receipt.Kind = payload.Kind
	receipt.PayloadHash = payload.HashHex
	if receipt.Backend == "" {
		receipt.Backend = s.backend.Kind()
	}
	if receipt.Status == "" {
		receipt.Status = domain.AnchorStatusFailed
		receipt.ErrorCode = domain.AnchorErrorBackendError
	}
	if timedOut && receipt.Status != domain.AnchorStatusAnchored {
		receipt.Status = domain.AnchorStatusFailed
		receipt.ErrorCode = domain.AnchorErrorTimeout
	}
	if receipt.Status == domain.AnchorStatusAnchored && receipt.AnchoredAt.IsZero() {
		receipt.AnchoredAt = s.now()
	}
	if receipt.Status != domain.AnchorStatusAnchored {
		// Failed anchors still mark the record so verifiers can tell
		// "never attempted" from "attempted and degraded".
		receipt.TxID = domain.PlaceholderAnchorTxID
		receipt.LedgerProof = ""
	}

	receipt = s.recordAttempt(ctx, receipt)
	s.attach(ctx, receipt)
	s.metrics.ObserveAnchorSubmission(receipt.Backend, receipt.Status, s.now().Sub(started))
	return receipt
}

// recordAttempt writes the audit row for this submission. A failed write
// downgrades the receipt: an anchor we cannot account for is not reported as
// anchored.
func (s *Service) recordAttempt(ctx context.Context, receipt domain.AnchorReceipt) domain.AnchorReceipt {
	if s.attempts == nil {
		return receipt
	}
	attempt := domain.AnchorAttempt{
		ID:          uuid.NewString(),
		ConsentID:   receipt.ConsentID,
		Backend:     receipt.Backend,
		Kind:        receipt.Kind,
		Status:      receipt.Status,
		ErrorCode:   receipt.ErrorCode,
		PayloadHash: receipt.PayloadHash,
		CreatedAt:   s.now(),
	}
	if err := s.attempts.Append(ctx, attempt); err != nil {
		log.Printf("anchor: record attempt for %s: %v", receipt.ConsentID, err)
		receipt.Status = domain.AnchorStatusFailed
		receipt.ErrorCode = domain.AnchorErrorPersistence
		receipt.TxID = domain.PlaceholderAnchorTxID
		receipt.LedgerProof = ""
	}
	return receipt
}

func (s *Service) attach(ctx context.Context, receipt domain.AnchorReceipt) {
	if s.sink == nil {
		return
	}
	if err := s.sink.AttachReceipt(ctx, receipt.ConsentID, receipt); err != nil {
		log.Printf("anchor: attach receipt to %s: %v", receipt.ConsentID, err)
	}
}

func clonePayload(p Payload) Payload {
	out := p
	if p.CanonicalJSON != nil {
		out.CanonicalJSON = append([]byte(nil), p.CanonicalJSON...)
	}
	return out
}
