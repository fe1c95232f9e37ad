package http

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"consentd/internal/domain"
	"consentd/internal/usecase"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type grantRequest struct {
	Subject     string   `json:"subject"`
	Controller  string   `json:"controller"`
	Purpose     string   `json:"purpose"`
	Categories  []string `json:"categories"`
	LawfulBasis string   `json:"lawful_basis"`
	ExpiresAt   string   `json:"expires_at,omitempty"`
}

type revokeRequest struct {
	Subject   string `json:"subject"`
	Signature string `json:"signature"`
	IssuedAt  string `json:"issued_at"`
}

type verifyRequest struct {
	Subject    string `json:"subject"`
	Controller string `json:"controller"`
	Purpose    string `json:"purpose"`
}

type adminKeyRequest struct {
	Subject   string `json:"subject"`
	Alg       string `json:"alg"`
	PublicKey string `json:"public_key"`
}

type consentResponse struct {
	ConsentID     string   `json:"consent_id"`
	SubjectRef    string   `json:"subject_ref"`
	ControllerRef string   `json:"controller_ref"`
	PurposeRef    string   `json:"purpose_ref"`
	Categories    []string `json:"categories"`
	LawfulBasis   string   `json:"lawful_basis"`
	Status        string   `json:"status"`
	GrantedAt     string   `json:"granted_at"`
	ExpiresAt     string   `json:"expires_at,omitempty"`
	RevokedAt     string   `json:"revoked_at,omitempty"`
	AnchorTxID    string   `json:"anchor_tx_id,omitempty"`
	AnchoredAt    string   `json:"anchored_at,omitempty"`
}

type keyResponse struct {
	PrincipalRef string `json:"principal_ref"`
	Alg          string `json:"alg"`
	PublicKey    string `json:"public_key"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

type auditEventResponse struct {
	ID            string `json:"id"`
	Seq           int64  `json:"seq"`
	EventType     string `json:"event_type"`
	ConsentID     string `json:"consent_id"`
	ActorRef      string `json:"actor_ref,omitempty"`
	BeforeStatus  string `json:"before_status,omitempty"`
	AfterStatus   string `json:"after_status,omitempty"`
	PayloadHash   string `json:"payload_hash"`
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
	CreatedAt     string `json:"created_at"`
}

// handleGrant records a consent. The raw subject, controller and purpose
// stay inside the request scope; everything persisted or returned is in
// reference form.
func (s *Server) handleGrant(c *gin.Context) {
	if !s.enforceRateLimit(c, routeConsentsGrant) {
		return
	}
	if s.grantUC == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	input := usecase.GrantConsentInput{
		Subject:     req.Subject,
		Controller:  req.Controller,
		Purpose:     req.Purpose,
		Categories:  req.Categories,
		LawfulBasis: req.LawfulBasis,
	}
	if req.ExpiresAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "VALIDATION", "invalid expires_at")
			return
		}
		parsed = parsed.UTC()
		input.ExpiresAt = &parsed
	}
	record, err := s.grantUC.Execute(c.Request.Context(), input)
	if err != nil {
		s.metrics.ObserveConsentOp("grant", "error")
		writeError(c, err)
		return
	}
	s.metrics.ObserveConsentOp("grant", "ok")
	c.JSON(http.StatusOK, buildConsentResponse(*record))
}

func (s *Server) handleRevoke(c *gin.Context) {
	if !s.enforceRateLimit(c, routeConsentsRevoke) {
		return
	}
	if s.revokeUC == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	consentID := c.Param("consent_id")
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION", "invalid signature encoding")
		return
	}
	issuedAt, err := time.Parse(time.RFC3339, req.IssuedAt)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION", "invalid issued_at")
		return
	}
	record, err := s.revokeUC.Execute(c.Request.Context(), usecase.RevokeConsentInput{
		ConsentID: consentID,
		Subject:   req.Subject,
		Signature: signature,
		IssuedAt:  issuedAt.UTC(),
	})
	if err != nil {
		if reason := authorizeRejectionReason(err); reason != "" {
			s.metrics.IncAuthorizeRejection(reason)
		}
		// The public response collapses key-unknown into signature-invalid;
		// the distinction lives only in this log line.
		if errors.Is(err, domain.ErrKeyUnknown) || errors.Is(err, domain.ErrSignatureInvalid) {
			log.Printf("revoke %s: authorization rejected: %v", consentID, err)
		}
		s.metrics.ObserveConsentOp("revoke", "error")
		writeError(c, err)
		return
	}
	s.metrics.ObserveConsentOp("revoke", "ok")
	c.JSON(http.StatusOK, buildConsentResponse(*record))
}

// handleVerify answers the relying-party question. POST keeps the raw
// identifiers out of URLs and access logs.
func (s *Server) handleVerify(c *gin.Context) {
	if s.verifyUC == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	result, err := s.verifyUC.Execute(c.Request.Context(), usecase.VerifyConsentInput{
		Subject:    req.Subject,
		Controller: req.Controller,
		Purpose:    req.Purpose,
	})
	if err != nil {
		s.metrics.ObserveConsentOp("verify", "error")
		writeError(c, err)
		return
	}
	s.metrics.ObserveConsentOp("verify", "ok")
	c.JSON(http.StatusOK, result)
}

// handleComplianceSummary reports on the ledger. The optional controller
// query is a controller ref, the hash callers got back from grant.
func (s *Server) handleComplianceSummary(c *gin.Context) {
	if s.complianceUC == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	summary, err := s.complianceUC.Execute(c.Request.Context(), c.Query("controller"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleAnchorStatus(c *gin.Context) {
	if s.anchors == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, s.anchors.NetworkStatus(c.Request.Context()))
}

func (s *Server) handleAdminRegisterKey(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if !s.enforceRateLimit(c, routePrincipalKeys) {
		return
	}
	if s.registerUC == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req adminKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	publicKey, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION", "invalid public key encoding")
		return
	}
	key, err := s.registerUC.Execute(c.Request.Context(), usecase.RegisterPrincipalKeyInput{
		Subject:   req.Subject,
		Alg:       req.Alg,
		PublicKey: publicKey,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildKeyResponse(*key))
}

func (s *Server) handleAdminAuditEvents(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.audit == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	afterSeq := int64(0)
	if raw := c.Query("after_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeErrorCode(c, http.StatusBadRequest, "VALIDATION", "invalid after_seq")
			return
		}
		afterSeq = parsed
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeErrorCode(c, http.StatusBadRequest, "VALIDATION", "invalid limit")
			return
		}
		limit = parsed
	}
	if limit > 1000 {
		limit = 1000
	}
	events, err := s.audit.List(c.Request.Context(), afterSeq, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]auditEventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, buildAuditEventResponse(event))
	}
	c.JSON(http.StatusOK, out)
}

// handleAdminEvidence serves the canonical bundle bytes, the exact form
// the embedded digest was computed against.
func (s *Server) handleAdminEvidence(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.evidence == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	raw, err := s.evidence.ExportJSON(c.Request.Context(), c.Param("consent_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func (s *Server) requireAdmin(c *gin.Context) bool {
	if s.adminAPIKey == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "admin key required")
		return false
	}
	key := c.GetHeader("X-Admin-Key")
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
		return false
	}
	return true
}

func buildConsentResponse(record domain.ConsentRecord) consentResponse {
	resp := consentResponse{
		ConsentID:     record.ConsentID,
		SubjectRef:    record.SubjectRef,
		ControllerRef: record.ControllerRef,
		PurposeRef:    record.PurposeRef,
		Categories:    record.Categories,
		LawfulBasis:   record.LawfulBasis,
		Status:        string(record.Status),
		GrantedAt:     record.GrantedAt.UTC().Format(time.RFC3339),
		AnchorTxID:    record.AnchorTxID,
	}
	if record.ExpiresAt != nil {
		resp.ExpiresAt = record.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if record.RevokedAt != nil {
		resp.RevokedAt = record.RevokedAt.UTC().Format(time.RFC3339)
	}
	if record.AnchoredAt != nil {
		resp.AnchoredAt = record.AnchoredAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func buildKeyResponse(key domain.PrincipalKey) keyResponse {
	return keyResponse{
		PrincipalRef: key.PrincipalRef,
		Alg:          key.Alg,
		PublicKey:    base64.StdEncoding.EncodeToString(key.PublicKey),
		Status:       string(key.Status),
		CreatedAt:    key.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func buildAuditEventResponse(event domain.AuditEvent) auditEventResponse {
	return auditEventResponse{
		ID:            event.ID,
		Seq:           event.Seq,
		EventType:     string(event.EventType),
		ConsentID:     event.ConsentID,
		ActorRef:      event.ActorRef,
		BeforeStatus:  string(event.BeforeStatus),
		AfterStatus:   string(event.AfterStatus),
		PayloadHash:   event.PayloadHash,
		PrevEventHash: event.PrevEventHash,
		EventHash:     event.EventHash,
		CreatedAt:     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func authorizeRejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrStaleRequest):
		return "stale"
	case errors.Is(err, domain.ErrReplayDetected):
		return "replay"
	case errors.Is(err, domain.ErrKeyUnknown):
		return "key_unknown"
	case errors.Is(err, domain.ErrSignatureInvalid):
		return "signature_invalid"
	}
	return ""
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION", err.Error())
	case errors.Is(err, domain.ErrPolicyDenied):
		writeErrorCode(c, http.StatusBadRequest, "POLICY_DENIED", err.Error())
	case errors.Is(err, domain.ErrStaleRequest):
		writeErrorCode(c, http.StatusUnauthorized, "STALE_TIMESTAMP", err.Error())
	case errors.Is(err, domain.ErrReplayDetected):
		writeErrorCode(c, http.StatusUnauthorized, "REPLAY_DETECTED", err.Error())
	case errors.Is(err, domain.ErrSignatureInvalid), errors.Is(err, domain.ErrKeyUnknown):
		// One public shape for both: whether a key is on file for a
		// principal is not observable from responses.
		writeErrorCode(c, http.StatusUnauthorized, "SIGNATURE_INVALID", "signature verification failed")
	case errors.Is(err, domain.ErrUnauthorized):
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeErrorCode(c, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		writeErrorCode(c, http.StatusConflict, "INVALID_STATE", err.Error())
	default:
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
