package consentsign

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// GenerateKey produces a fresh signing key. The seed is what a subject
// stores; the public key is what an operator registers with the service.
func GenerateKey() (seedHex string, publicKeyBase64 string, err error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(priv.Seed()), PublicKeyBase64(priv), nil
}

// ParseEd25519PrivateKeyHex accepts either a 32-byte seed or a full 64-byte
// private key.
func ParseEd25519PrivateKeyHex(value string) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, err
	}
	return parseEd25519PrivateKey(raw)
}

func ParseEd25519PrivateKeyBase64(value string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	return parseEd25519PrivateKey(raw)
}

// PublicKeyBase64 encodes the public half in the form the key registration
// endpoint accepts.
func PublicKeyBase64(privateKey ed25519.PrivateKey) string {
	if len(privateKey) != ed25519.PrivateKeySize {
		return ""
	}
	return base64.StdEncoding.EncodeToString(privateKey.Public().(ed25519.PublicKey))
}

func parseEd25519PrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		key := ed25519.NewKeyFromSeed(raw)
		return append(ed25519.PrivateKey(nil), key...), nil
	case ed25519.PrivateKeySize:
		return append(ed25519.PrivateKey(nil), raw...), nil
	default:
		return nil, errors.New("invalid ed25519 private key length")
	}
}
