package domain

import "time"

type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
)

const (
	KeyAlgEd25519 = "ed25519"
	KeyAlgES256   = "es256"
)

func KnownKeyAlg(alg string) bool {
	return alg == KeyAlgEd25519 || alg == KeyAlgES256
}

// PrincipalKey is a principal's on-file public key. Authorization always
// resolves keys from this store; keys arriving in request payloads are
// never trusted.
type PrincipalKey struct {
	PrincipalRef string
	Alg          string
	PublicKey    []byte
	Status       KeyStatus
	CreatedAt    time.Time
}
