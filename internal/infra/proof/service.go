// Package proof emits groth16-shaped existence proofs for consent lookups.
// The elements are derived deterministically from the public signals rather
// than from a real proving key, which keeps verification responses
// byte-stable across nodes while the circuit itself is still being built.
// Nothing here is cryptographically binding; VerifyProof is a structural
// contract only.
package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
	"time"

	"consentd/internal/domain"
)

const (
	circuitScheme = "consent_existence_circuit_v1"
	inputScheme   = "consent_existence_input_v1"

	protocolGroth16 = "groth16"
	curveBN128      = "bn128"

	signalCount = 4
)

// bn128FieldModulus is the scalar field order of the bn128 pairing curve, the
// same field snark toolchains encode public signals in.
var bn128FieldModulus, _ = new(big.Int).SetString("21888242871839275222246405745257275088548364400416034343698204186575808495617", 10)

type Service struct{}

func NewService() *Service { return &Service{} }

// CircuitHash identifies the circuit revision the proof claims to satisfy.
func CircuitHash() string {
	sum := sha256.Sum256([]byte(circuitScheme))
	return hex.EncodeToString(sum[:])
}

// IssueVerificationProof attests "a valid consent exists (or not) for this
// controller and purpose at this instant" without exposing the subject: the
// subject never enters the public signals. Identical inputs always yield an
// identical proof.
func (s *Service) IssueVerificationProof(controllerRef, purposeRef string, exists bool, ts time.Time) domain.Proof {
	bit := "0"
	if exists {
		bit = "1"
	}
	signals := []string{
		hashToField(controllerRef),
		hashToField(purposeRef),
		bit,
		strconv.FormatInt(ts.UTC().Unix(), 10),
	}
	return buildProof(signals)
}

// VerifyProof checks shape, circuit revision, that the claimed public signals
// match the proof, and that the elements are what those signals determine.
func (s *Service) VerifyProof(p domain.Proof, publicSignals []string) bool {
	if p.Protocol != protocolGroth16 || p.Curve != curveBN128 {
		return false
	}
	if p.CircuitHash != CircuitHash() {
		return false
	}
	if len(p.PublicSignals) != signalCount || len(publicSignals) != signalCount {
		return false
	}
	for i := range publicSignals {
		if p.PublicSignals[i] != publicSignals[i] {
			return false
		}
	}
	if !inField(p.PublicSignals[0]) || !inField(p.PublicSignals[1]) {
		return false
	}
	if p.PublicSignals[2] != "0" && p.PublicSignals[2] != "1" {
		return false
	}
	if _, err := strconv.ParseInt(p.PublicSignals[3], 10, 64); err != nil {
		return false
	}
	expected := buildProof(p.PublicSignals)
	return p.PiA == expected.PiA && p.PiB == expected.PiB && p.PiC == expected.PiC
}

func buildProof(signals []string) domain.Proof {
	seed := circuitScheme + "|" + strings.Join(signals, "|")
	el := func(i int) string { return fieldElement(seed, i) }
	return domain.Proof{
		Protocol:      protocolGroth16,
		Curve:         curveBN128,
		PiA:           [3]string{el(0), el(1), "1"},
		PiB:           [3][2]string{{el(2), el(3)}, {el(4), el(5)}, {"1", "0"}},
		PiC:           [3]string{el(6), el(7), "1"},
		CircuitHash:   CircuitHash(),
		PublicSignals: append([]string(nil), signals...),
	}
}

func fieldElement(seed string, index int) string {
	sum := sha256.Sum256([]byte(seed + "|" + strconv.Itoa(index)))
	n := new(big.Int).SetBytes(sum[:])
	n.Mod(n, bn128FieldModulus)
	return n.String()
}

func hashToField(ref string) string {
	sum := sha256.Sum256([]byte(inputScheme + "|" + ref))
	n := new(big.Int).SetBytes(sum[:])
	n.Mod(n, bn128FieldModulus)
	return n.String()
}

func inField(value string) bool {
	n, ok := new(big.Int).SetString(value, 10)
	if !ok || n.Sign() < 0 {
		return false
	}
	return n.Cmp(bn128FieldModulus) < 0
}
