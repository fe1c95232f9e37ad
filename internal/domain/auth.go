package domain

import "time"

type Action string

const (
	ActionRevoke Action = "revoke"
)

// AuthorizedRequest is the ephemeral result of a successful authorization.
// It is never persisted. The principal's public key is resolved server-side
// during authorization and deliberately not carried here.
type AuthorizedRequest struct {
	Action       Action
	PrincipalRef string
	TargetID     string
	IssuedAt     time.Time
	Signature    []byte
}
