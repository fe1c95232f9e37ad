package domain

// Proof carries the fixed-shape output of the verification proof layer:
// a groth16-shaped triple of opaque group elements plus public signals.
// The proof is deterministic given its inputs and structurally verifiable,
// but it is a stand-in for a real proving system: callers must not treat
// it as cryptographically binding.
type Proof struct {
	Protocol      string       `json:"protocol"`
	Curve         string       `json:"curve"`
	PiA           [3]string    `json:"pi_a"`
	PiB           [3][2]string `json:"pi_b"`
	PiC           [3]string    `json:"pi_c"`
	CircuitHash   string       `json:"circuit_hash"`
	PublicSignals []string     `json:"public_signals"`
}
