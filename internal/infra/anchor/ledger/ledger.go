// Package ledger anchors consent payloads to a remote append-only ledger over
// HTTP. Every submission is signed with the node's ed25519 anchoring key so
// the ledger can attribute entries without trusting transport auth alone.
package ledger

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"consentd/internal/domain"
	"consentd/internal/infra/anchor"
)

// maxProofBytes caps how much ledger proof we are willing to store per
// consent.
const maxProofBytes = 256 * 1024

type Client struct {
	endpoint string
	apiKey   string
	keyID    string
	signKey  ed25519.PrivateKey
	httpDo   func(*http.Request) (*http.Response, error)
}

// NewClient requires the full credential set. Partial configuration is a
// deployment error and must fail startup selection, not degrade silently at
// submit time.
func NewClient(endpoint, apiKey, keyID string, signKey ed25519.PrivateKey, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("ledger endpoint is required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid ledger endpoint: %w", err)
	}
	if apiKey == "" {
		return nil, errors.New("ledger api key is required")
	}
	if keyID == "" {
		return nil, errors.New("ledger signing key id is required")
	}
	if len(signKey) != ed25519.PrivateKeySize {
		return nil, errors.New("ledger signing key is required")
	}
	doer := http.DefaultClient.Do
	if httpClient != nil {
		doer = httpClient.Do
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		keyID:    keyID,
		signKey:  signKey,
		httpDo:   doer,
	}, nil
}

func (c *Client) Kind() string { return domain.BackendKindLedger }

type anchorEntry struct {
	Payload     json.RawMessage `json:"payload"`
	PayloadHash string          `json:"payload_hash"`
	Signature   string          `json:"signature"`
	KeyID       string          `json:"key_id"`
}

type anchorResponse struct {
	TransactionID string `json:"transaction_id"`
	LedgerProof   string `json:"ledger_proof"`
	IntegratedAt  string `json:"integrated_at"`
}

type proofResponse struct {
	LedgerProof string `json:"ledger_proof"`
}

func (c *Client) Submit(ctx context.Context, payload anchor.Payload) domain.AnchorReceipt {
	entry := anchorEntry{
		Payload:     json.RawMessage(payload.CanonicalJSON),
		PayloadHash: payload.HashHex,
		Signature:   base64.StdEncoding.EncodeToString(ed25519.Sign(c.signKey, payload.CanonicalJSON)),
		KeyID:       c.keyID,
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return c.failedReceipt(payload, domain.AnchorErrorBackendError)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/v1/anchors", bytes.NewReader(body))
	if err != nil {
		return c.failedReceipt(payload, domain.AnchorErrorBadConfig)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpDo(req)
	if err != nil {
		return c.failedReceipt(payload, errorToCode(ctx, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxProofBytes+1))
	if err != nil {
		return c.failedReceipt(payload, errorToCode(ctx, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.failedReceipt(payload, statusToErrorCode(resp.StatusCode))
	}

	var decoded anchorResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return c.failedReceipt(payload, domain.AnchorErrorBackendError)
	}
	if decoded.TransactionID == "" {
		return c.failedReceipt(payload, domain.AnchorErrorBackendError)
	}

	receipt := domain.AnchorReceipt{
		Backend:     domain.BackendKindLedger,
		Status:      domain.AnchorStatusAnchored,
		PayloadHash: payload.HashHex,
		TxID:        decoded.TransactionID,
		LedgerProof: truncateProof(decoded.LedgerProof),
	}
	if decoded.IntegratedAt != "" {
		if at, err := time.Parse(time.RFC3339, decoded.IntegratedAt); err == nil {
			receipt.AnchoredAt = at.UTC()
		}
	}
	return receipt
}

func (c *Client) Proof(ctx context.Context, txID string) (string, error) {
	if txID == "" {
		return "", errors.New("tx id is required")
	}
	target := c.endpoint + "/api/v1/anchors/" + url.PathEscape(txID) + "/proof"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpDo(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProofBytes+1))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("ledger proof lookup returned %d", resp.StatusCode)
	}
	var decoded proofResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode ledger proof: %w", err)
	}
	if decoded.LedgerProof == "" {
		return "", errors.New("ledger returned empty proof")
	}
	return truncateProof(decoded.LedgerProof), nil
}

func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/v1/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpDo(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ledger health returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) failedReceipt(payload anchor.Payload, code string) domain.AnchorReceipt {
	return domain.AnchorReceipt{
		Backend:     domain.BackendKindLedger,
		Status:      domain.AnchorStatusFailed,
		ErrorCode:   code,
		PayloadHash: payload.HashHex,
	}
}

func statusToErrorCode(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.AnchorErrorRateLimit
	case status >= 500:
		return domain.AnchorErrorBackend5xx
	default:
		return domain.AnchorErrorBackendError
	}
}

func errorToCode(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.AnchorErrorTimeout
	}
	return domain.AnchorErrorNetwork
}

func truncateProof(proof string) string {
	if len(proof) <= maxProofBytes {
		return proof
	}
	return proof[:maxProofBytes]
}
