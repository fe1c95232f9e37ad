package usecase

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"
	"time"

	"consentd/internal/domain"
)

type RegisterPrincipalKeyInput struct {
	Subject   string
	Alg       string
	PublicKey []byte
}

// RegisterPrincipalKey puts a subject's public key on file. The stored ref
// is derived from the raw subject exactly as the grant path derives it, so
// a registered subject's revoke requests resolve to this key. Registering
// again rotates: the previous active key is retired by the store.
type RegisterPrincipalKey struct {
	Keys   PrincipalKeyRepository
	Crypto CryptoService
	Audit  *AuditEmitter
	Clock  Clock
}

func (uc *RegisterPrincipalKey) Execute(ctx context.Context, in RegisterPrincipalKeyInput) (*domain.PrincipalKey, error) {
	if strings.TrimSpace(in.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", domain.ErrValidation)
	}
	if !domain.KnownKeyAlg(in.Alg) {
		return nil, fmt.Errorf("%w: unsupported key algorithm %q", domain.ErrValidation, in.Alg)
	}
	if err := validatePublicKey(in.Alg, in.PublicKey); err != nil {
		return nil, err
	}

	key := domain.PrincipalKey{
		PrincipalRef: uc.Crypto.HashRef("subject", in.Subject),
		Alg:          in.Alg,
		PublicKey:    append([]byte(nil), in.PublicKey...),
		Status:       domain.KeyStatusActive,
		CreatedAt:    uc.now(),
	}
	if err := uc.Keys.Register(ctx, key); err != nil {
		return nil, err
	}
	uc.Audit.EmitKeyRegistered(ctx, key.PrincipalRef)
	return &key, nil
}

func validatePublicKey(alg string, publicKey []byte) error {
	switch alg {
	case domain.KeyAlgEd25519:
		if len(publicKey) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: ed25519 public key must be %d bytes", domain.ErrValidation, ed25519.PublicKeySize)
		}
	case domain.KeyAlgES256:
		if len(publicKey) != 65 || publicKey[0] != 0x04 {
			return fmt.Errorf("%w: es256 public key must be a 65-byte uncompressed point", domain.ErrValidation)
		}
	}
	return nil
}

func (uc *RegisterPrincipalKey) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock().UTC()
	}
	return time.Now().UTC()
}
