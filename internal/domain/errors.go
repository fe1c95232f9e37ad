package domain

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrInvalidState      = errors.New("invalid state")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrSignatureInvalid  = errors.New("signature invalid")
	ErrStaleRequest      = errors.New("stale request")
	ErrReplayDetected    = errors.New("replay detected")
	ErrKeyUnknown        = errors.New("key unknown")
	ErrPolicyDenied      = errors.New("policy denied")
	ErrAnchorUnavailable = errors.New("anchor unavailable")
	ErrInternal          = errors.New("internal error")
)
