package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"consentd/internal/domain"
)

// Version tags baked into every derived value. Changing one invalidates
// everything derived under it, which is the point.
const (
	refScheme       = "ref:v1"
	consentIDScheme = "consent:v1"
	authzScheme     = "consent_authz_v1"
)

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// HashRef derives the one-way reference hash stored in place of a raw
// identifier. The derivation is public and unkeyed: signers compute the
// same refs the server does.
func (s *Service) HashRef(kind, raw string) string {
	return sha256Hex([]byte(refScheme + "|" + kind + "|" + raw))
}

// DeriveConsentID is deterministic in its inputs plus the grant instant
// (second precision), so identical grants at the same instant produce the
// same id and retries are idempotent by construction.
func (s *Service) DeriveConsentID(subjectRef, controllerRef, purposeRef string, grantedAt time.Time) string {
	at := grantedAt.UTC().Truncate(time.Second).Format(time.RFC3339)
	return sha256Hex([]byte(consentIDScheme + "|" + subjectRef + "|" + controllerRef + "|" + purposeRef + "|" + at))
}

// BuildAuthorizationMessage reconstructs the exact canonical bytes a
// principal must have signed for a state-changing action. Field order is
// fixed by canonicalization; returns the message and its SHA-256 hex.
func (s *Service) BuildAuthorizationMessage(action domain.Action, principalRef, targetID string, issuedAt time.Time) ([]byte, string, error) {
	payload := map[string]any{
		"v":         authzScheme,
		"action":    string(action),
		"principal": principalRef,
		"target":    targetID,
		"issued_at": issuedAt.UTC().Format(time.RFC3339),
	}
	canonical, err := Canonicalize(payload)
	if err != nil {
		return nil, "", err
	}
	return canonical, sha256Hex(canonical), nil
}

func (s *Service) CanonicalizeAny(v any) ([]byte, error) {
	return Canonicalize(v)
}

func (s *Service) HashHex(b []byte) string {
	return sha256Hex(b)
}

func (s *Service) NewNonce() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// VerifySignature checks message against sig under the named scheme.
// Supported: ed25519 and es256 (ECDSA P-256 over SHA-256, raw r||s or DER
// signatures).
func (s *Service) VerifySignature(message []byte, alg string, publicKey, sig []byte) error {
	switch alg {
	case domain.KeyAlgEd25519:
		return verifyEd25519(message, publicKey, sig)
	case domain.KeyAlgES256:
		return verifyES256(message, publicKey, sig)
	default:
		return fmt.Errorf("unsupported signature algorithm: %s", alg)
	}
}

func (s *Service) Sign(message []byte, priv ed25519.PrivateKey) []byte {
	return ed25519.Sign(priv, message)
}

func verifyEd25519(message, publicKey, sig []byte) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid ed25519 public key length: %d", len(publicKey))
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid ed25519 signature length: %d", len(sig))
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, sig) {
		return errors.New("signature verification failed")
	}
	return nil
}

func verifyES256(message, publicKey, sig []byte) error {
	if len(publicKey) != 65 || publicKey[0] != 0x04 {
		return errors.New("invalid es256 public key encoding")
	}
	curve := elliptic.P256()
	x := new(big.Int).SetBytes(publicKey[1:33])
	y := new(big.Int).SetBytes(publicKey[33:65])
	if !curve.IsOnCurve(x, y) {
		return errors.New("es256 public key not on curve")
	}
	r, sv, err := parseES256Signature(sig)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(message)
	pub := ecdsa.PublicKey{Curve: curve, X: x, Y: y}
	if !ecdsa.Verify(&pub, digest[:], r, sv) {
		return errors.New("signature verification failed")
	}
	return nil
}

func parseES256Signature(sig []byte) (*big.Int, *big.Int, error) {
	if len(sig) == 64 {
		r := new(big.Int).SetBytes(sig[:32])
		s := new(big.Int).SetBytes(sig[32:])
		if r.Sign() <= 0 || s.Sign() <= 0 {
			return nil, nil, errors.New("invalid es256 signature")
		}
		return r, s, nil
	}
	var der struct {
		R *big.Int
		S *big.Int
	}
	rest, err := asn1.Unmarshal(sig, &der)
	if err != nil || len(rest) != 0 || der.R == nil || der.S == nil {
		return nil, nil, errors.New("invalid es256 signature encoding")
	}
	if der.R.Sign() <= 0 || der.S.Sign() <= 0 {
		return nil, nil, errors.New("invalid es256 signature")
	}
	return der.R, der.S, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
