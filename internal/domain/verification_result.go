package domain

// VerificationResult answers "does a valid, unexpired consent exist for
// this triple" without exposing the subject to the relying party.
type VerificationResult struct {
	IsValid   bool          `json:"is_valid"`
	Status    ConsentStatus `json:"status,omitempty"`
	ConsentID string        `json:"consent_id,omitempty"`
	Proof     Proof         `json:"proof"`
}
