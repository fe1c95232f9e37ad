package domain

// GrantPolicyInput is the document evaluated by the grant-time policy
// engine. Only non-identifying attributes of the request are exposed to
// policy; reference hashes stay out of policy inputs.
type GrantPolicyInput struct {
	LawfulBasis string   `json:"lawful_basis"`
	Categories  []string `json:"categories"`
	HasExpiry   bool     `json:"has_expiry"`
}

type PolicyDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type PolicyResult struct {
	Allow bool         `json:"allow"`
	Deny  []PolicyDeny `json:"deny,omitempty"`
}
