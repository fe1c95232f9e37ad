package consentsign

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"time"

	"consentd/internal/domain"
	cryptoinfra "consentd/internal/infra/crypto"
)

// RevocationRequest is the request body for POST /v1/consents/{id}/revoke.
type RevocationRequest struct {
	Subject   string `json:"subject"`
	Signature string `json:"signature"`
	IssuedAt  string `json:"issued_at"`
}

// RevocationMessage builds the canonical bytes a subject signs to revoke a
// consent. issued_at travels as RFC3339, so the message is built at second
// precision; signing anything finer would never verify.
func RevocationMessage(subject, consentID string, issuedAt time.Time) ([]byte, error) {
	if subject == "" {
		return nil, errors.New("subject is required")
	}
	if consentID == "" {
		return nil, errors.New("consent id is required")
	}
	service := cryptoinfra.NewService()
	message, _, err := service.BuildAuthorizationMessage(
		domain.ActionRevoke,
		service.HashRef("subject", subject),
		consentID,
		issuedAt.UTC().Truncate(time.Second),
	)
	return message, err
}

// SignRevocation signs the revocation message and wraps it in the wire form
// the service accepts.
func SignRevocation(subject, consentID string, issuedAt time.Time, privateKey ed25519.PrivateKey) (RevocationRequest, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return RevocationRequest{}, errors.New("invalid ed25519 private key")
	}
	message, err := RevocationMessage(subject, consentID, issuedAt)
	if err != nil {
		return RevocationRequest{}, err
	}
	sig := ed25519.Sign(privateKey, message)
	return RevocationRequest{
		Subject:   subject,
		Signature: base64.StdEncoding.EncodeToString(sig),
		IssuedAt:  issuedAt.UTC().Truncate(time.Second).Format(time.RFC3339),
	}, nil
}

// SubjectRef derives the reference hash the service stores for a subject.
// The derivation is public and unkeyed, so clients can match their own
// identifiers against refs in responses and audit events.
func SubjectRef(subject string) string {
	return cryptoinfra.NewService().HashRef("subject", subject)
}

func ControllerRef(controller string) string {
	return cryptoinfra.NewService().HashRef("controller", controller)
}

func PurposeRef(purpose string) string {
	return cryptoinfra.NewService().HashRef("purpose", purpose)
}
