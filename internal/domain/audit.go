package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

const AuditChainVersion = "consent_audit_v1"

type AuditEventType string

const (
	AuditEventConsentGranted AuditEventType = "consent_granted"
	AuditEventConsentRevoked AuditEventType = "consent_revoked"
	AuditEventConsentExpired AuditEventType = "consent_expired"
	AuditEventKeyRegistered  AuditEventType = "key_registered"
)

// AuditEvent is one link of the append-only, hash-chained audit log.
// EventHash covers the canonicalized event fields plus PrevEventHash, so
// any rewrite of history breaks every later link.
type AuditEvent struct {
	ID            string
	Seq           int64
	EventType     AuditEventType
	ConsentID     string
	ActorRef      string
	BeforeStatus  ConsentStatus
	AfterStatus   ConsentStatus
	PayloadHash   string
	PrevEventHash string
	EventHash     string
	CreatedAt     time.Time
}

// ZeroAuditHash is the genesis PrevEventHash for the first chain link.
func ZeroAuditHash() string {
	return "0000000000000000000000000000000000000000000000000000000000000000"
}

// ComputePayloadHash hashes the domain facts of the event. It depends only on
// stored columns, so a verifier can recompute it without extra payload blobs.
func (e AuditEvent) ComputePayloadHash() string {
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	writeKV(buf, "actor_ref", e.ActorRef, false)
	writeKV(buf, "after_status", string(e.AfterStatus), false)
	writeKV(buf, "before_status", string(e.BeforeStatus), false)
	writeKV(buf, "consent_id", e.ConsentID, false)
	writeKV(buf, "event_type", string(e.EventType), true)
	buf.WriteByte('}')
	return Sha256Hex(buf.Bytes())
}

// ComputeEventHash derives the chain link hash. Seq, PayloadHash,
// PrevEventHash and CreatedAt must already be assigned.
func (e AuditEvent) ComputeEventHash() (string, error) {
	if e.EventType == "" {
		return "", errors.New("event_type is required")
	}
	if e.Seq <= 0 {
		return "", errors.New("seq must be positive")
	}
	if e.PayloadHash == "" || e.PrevEventHash == "" {
		return "", errors.New("payload_hash and prev_event_hash are required")
	}
	if e.CreatedAt.IsZero() {
		return "", errors.New("created_at is required")
	}
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	writeKV(buf, "created_at", e.CreatedAt.UTC().Format(time.RFC3339Nano), false)
	writeKV(buf, "event_type", string(e.EventType), false)
	writeKV(buf, "payload_hash", e.PayloadHash, false)
	writeKV(buf, "prev_event_hash", e.PrevEventHash, false)
	writeKVNumber(buf, "seq", e.Seq, false)
	writeKV(buf, "v", AuditChainVersion, true)
	buf.WriteByte('}')
	return Sha256Hex(buf.Bytes()), nil
}

func writeKV(buf *bytes.Buffer, key, value string, last bool) {
	writeJSONString(buf, key)
	buf.WriteByte(':')
	writeJSONString(buf, value)
	if !last {
		buf.WriteByte(',')
	}
}

func writeKVNumber(buf *bytes.Buffer, key string, value int64, last bool) {
	writeJSONString(buf, key)
	buf.WriteByte(':')
	buf.WriteString(strconv.FormatInt(value, 10))
	if !last {
		buf.WriteByte(',')
	}
}

func writeJSONString(buf *bytes.Buffer, value string) {
	buf.WriteByte('"')
	for _, r := range value {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexLower[r>>4])
				buf.WriteByte(hexLower[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

var hexLower = []byte("0123456789abcdef")

// Sha256Hex is shared by the audit chain and compliance verification paths.
func Sha256Hex(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}
