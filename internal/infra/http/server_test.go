package http

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"consentd/internal/config"
	"consentd/internal/domain"
	"consentd/internal/infra/anchor"
	"consentd/internal/infra/anchor/simulator"
	"consentd/internal/infra/bundles"
	"consentd/internal/infra/consentmem"
	"consentd/internal/infra/crypto"
	"consentd/internal/infra/proof"
	"consentd/internal/infra/replay"
	"consentd/internal/usecase"

	"github.com/gin-gonic/gin"
)

const testAdminKey = "secret"

type testServer struct {
	*Server
	consents *consentmem.Store
	audit    *consentmem.AuditLog
	keys     *consentmem.KeyStore
	attempts *consentmem.AttemptLog
	crypto   *crypto.Service
	now      *time.Time
}

func (ts *testServer) advance(d time.Duration) {
	*ts.now = ts.now.Add(d)
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := new(time.Time)
	*now = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	clock := func() time.Time { return *now }

	consents := consentmem.NewStoreWithClock(clock)
	auditLog := consentmem.NewAuditLogWithClock(clock)
	keys := consentmem.NewKeyStore()
	attempts := consentmem.NewAttemptLog()

	cryptoSvc := crypto.NewService()
	guard := replay.NewGuard(10*time.Minute, time.Minute, 5*time.Minute, clock)

	anchorSvc, err := anchor.NewService(simulator.New(clock), attempts, consentReaderAdapter{repo: consents}, consents, time.Second)
	if err != nil {
		t.Fatalf("anchor service: %v", err)
	}
	scheduler := anchor.SyncScheduler{Anchors: anchorSvc}

	emitter := usecase.NewAuditEmitter(auditLog, clock)
	gate := &usecase.AuthorizeRequest{
		Keys:    keys,
		Replay:  guard,
		Crypto:  cryptoSvc,
		MaxSkew: 5 * time.Minute,
		Clock:   clock,
	}

	server := NewServerWithDeps(cfg, ServerDeps{
		Grant: &usecase.GrantConsent{
			Consents: consents,
			Crypto:   cryptoSvc,
			Audit:    emitter,
			Anchors:  scheduler,
			Clock:    clock,
		},
		Revoke: &usecase.RevokeConsent{
			Consents: consents,
			Gate:     gate,
			Crypto:   cryptoSvc,
			Audit:    emitter,
			Anchors:  scheduler,
			Clock:    clock,
		},
		Verify: &usecase.VerifyConsent{
			Consents: consents,
			Crypto:   cryptoSvc,
			Proofs:   proof.NewService(),
			Audit:    emitter,
			Anchors:  scheduler,
			Clock:    clock,
		},
		Compliance: &usecase.ComplianceReport{
			Consents: consents,
			Audit:    auditLog,
			Clock:    clock,
		},
		Register: &usecase.RegisterPrincipalKey{
			Keys:   keys,
			Crypto: cryptoSvc,
			Audit:  emitter,
			Clock:  clock,
		},
		Audit:   auditLog,
		Anchors: anchorSvc,
		Evidence: &bundles.Exporter{
			Consents: consents,
			Audit:    auditLog,
			Attempts: attempts,
			Now:      clock,
		},
		AdminAPIKey: testAdminKey,
	})

	return &testServer{
		Server:   server,
		consents: consents,
		audit:    auditLog,
		keys:     keys,
		attempts: attempts,
		crypto:   cryptoSvc,
		now:      now,
	}
}

func (ts *testServer) request(t *testing.T, method, path string, body []byte, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("X-Admin-Key", testAdminKey)
	}
	ts.r.ServeHTTP(w, req)
	return w
}

func (ts *testServer) grantRaw(t *testing.T, subject, controller, purpose string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(grantRequest{
		Subject:     subject,
		Controller:  controller,
		Purpose:     purpose,
		Categories:  []string{"contact"},
		LawfulBasis: domain.BasisConsent,
	})
	return ts.request(t, http.MethodPost, "/v1/consents", body, false)
}

func (ts *testServer) grant(t *testing.T, subject, controller, purpose string) consentResponse {
	t.Helper()
	w := ts.grantRaw(t, subject, controller, purpose)
	if w.Code != http.StatusOK {
		t.Fatalf("grant: expected 200, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var resp consentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode grant response: %v", err)
	}
	return resp
}

func (ts *testServer) registerSubjectKey(t *testing.T, subject string) ed25519.PrivateKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	body, _ := json.Marshal(adminKeyRequest{
		Subject:   subject,
		Alg:       domain.KeyAlgEd25519,
		PublicKey: base64.StdEncoding.EncodeToString(pub),
	})
	w := ts.request(t, http.MethodPost, "/v1/principals/keys", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("register key: expected 200, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	return priv
}

// signRevoke builds the same authorization message the gate reconstructs,
// at RFC3339 precision since that is what survives the wire format.
func (ts *testServer) signRevoke(t *testing.T, priv ed25519.PrivateKey, subject, consentID string, issuedAt time.Time) revokeRequest {
	t.Helper()
	issuedAt = issuedAt.UTC().Truncate(time.Second)
	principalRef := ts.crypto.HashRef("subject", subject)
	message, _, err := ts.crypto.BuildAuthorizationMessage(domain.ActionRevoke, principalRef, consentID, issuedAt)
	if err != nil {
		t.Fatalf("build authorization message: %v", err)
	}
	return revokeRequest{
		Subject:   subject,
		Signature: base64.StdEncoding.EncodeToString(ts.crypto.Sign(message, priv)),
		IssuedAt:  issuedAt.Format(time.RFC3339),
	}
}

func (ts *testServer) revoke(t *testing.T, consentID string, req revokeRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	return ts.request(t, http.MethodPost, "/v1/consents/"+consentID+"/revoke", body, false)
}

func assertErrorCode(t *testing.T, body []byte, expected string) {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Code != expected {
		t.Fatalf("expected code %s, got %s (%s)", expected, resp.Code, resp.Message)
	}
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	w := ts.request(t, http.MethodGet, "/healthz", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if resp["status"] != "ok" || resp["mode"] != "no-db" {
		t.Fatalf("unexpected healthz payload: %v", resp)
	}
}

func TestGrantEndpoint_Success(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	resp := ts.grant(t, "alice@example.com", "acme-corp", "newsletter")

	if !isHexDigest(resp.ConsentID) {
		t.Fatalf("consent_id is not a hex digest: %q", resp.ConsentID)
	}
	if resp.Status != string(domain.StatusGranted) {
		t.Fatalf("expected status granted, got %s", resp.Status)
	}
	if resp.SubjectRef == "alice@example.com" || !isHexDigest(resp.SubjectRef) {
		t.Fatalf("subject_ref must be a reference hash, got %q", resp.SubjectRef)
	}
	if resp.GrantedAt != "2026-03-14T09:30:00Z" {
		t.Fatalf("unexpected granted_at: %s", resp.GrantedAt)
	}

	// Anchoring ran inline, so the stored record already carries a receipt.
	stored, err := ts.consents.GetByID(context.Background(), resp.ConsentID)
	if err != nil {
		t.Fatalf("read stored record: %v", err)
	}
	if stored.AnchorTxID == "" || stored.AnchorTxID == domain.PlaceholderAnchorTxID {
		t.Fatalf("expected a real anchor tx id, got %q", stored.AnchorTxID)
	}
}

func TestGrantEndpoint_InvalidJSON(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	w := ts.request(t, http.MethodPost, "/v1/consents", []byte("{"), false)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	assertErrorCode(t, w.Body.Bytes(), "INVALID_JSON")
}

func TestGrantEndpoint_Validation(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	body, _ := json.Marshal(grantRequest{
		Subject:     "alice@example.com",
		Controller:  "acme-corp",
		Categories:  []string{"contact"},
		LawfulBasis: domain.BasisConsent,
	})
	w := ts.request(t, http.MethodPost, "/v1/consents", body, false)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing purpose: expected 400, got %d", w.Code)
	}
	assertErrorCode(t, w.Body.Bytes(), "VALIDATION")

	body, _ = json.Marshal(grantRequest{
		Subject:     "alice@example.com",
		Controller:  "acme-corp",
		Purpose:     "newsletter",
		Categories:  []string{"contact"},
		LawfulBasis: "vibes",
	})
	w = ts.request(t, http.MethodPost, "/v1/consents", body, false)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown lawful basis: expected 400, got %d", w.Code)
	}
	assertErrorCode(t, w.Body.Bytes(), "VALIDATION")

	w = ts.request(t, http.MethodPost, "/v1/consents", []byte(`{"subject":"a","controller":"b","purpose":"c","categories":["contact"],"lawful_basis":"consent","expires_at":"soon"}`), false)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad expires_at: expected 400, got %d", w.Code)
	}
	assertErrorCode(t, w.Body.Bytes(), "VALIDATION")
}

func TestGrantEndpoint_SameInstantRetryIsIdempotent(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	first := ts.grant(t, "alice@example.com", "acme-corp", "newsletter")
	second := ts.grant(t, "alice@example.com", "acme-corp", "newsletter")
	if first.ConsentID != second.ConsentID {
		t.Fatalf("same-instant retry must return the stored record: %s vs %s", first.ConsentID, second.ConsentID)
	}
}

func TestGrantEndpoint_ActiveConsentConflicts(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.grant(t, "alice@example.com", "acme-corp", "newsletter")
	ts.advance(time.Minute)

	body, _ := json.Marshal(grantRequest{
		Subject:     "alice@example.com",
		Controller:  "acme-corp",
		Purpose:     "newsletter",
		Categories:  []string{"contact"},
		LawfulBasis: domain.BasisConsent,
	})
	w := ts.request(t, http.MethodPost, "/v1/consents", body, false)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	assertErrorCode(t, w.Body.Bytes(), "CONFLICT")
}

func TestVerifyEndpoint_AnswersWithProof(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	granted := ts.grant(t, "alice@example.com", "acme-corp", "newsletter")

	body, _ := json.Marshal(verifyRequest{Subject: "alice@example.com", Controller: "acme-corp", Purpose: "newsletter"})
	w := ts.request(t, http.MethodPost, "/v1/consents/verify", body, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var result domain.VerificationResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode verify response: %v", err)
	}
	if !result.IsValid {
		t.Fatal("expected is_valid true for a granted consent")
	}
	if result.ConsentID != granted.ConsentID {
		t.Fatalf("unexpected consent_id: %s", result.ConsentID)
	}
	if result.Proof.Protocol != "groth16" {
		t.Fatalf("unexpected proof protocol: %s", result.Proof.Protocol)
	}
	if len(result.Proof.PublicSignals) != 4 || result.Proof.PublicSignals[2] != "1" {
		t.Fatalf("unexpected public signals: %v", result.Proof.PublicSignals)
	}

	body, _ = json.Marshal(verifyRequest{Subject: "alice@example.com", Controller: "acme-corp", Purpose: "profiling"})
	w = ts.request(t, http.MethodPost, "/v1/consents/verify", body, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var missing domain.VerificationResult
	if err := json.Unmarshal(w.Body.Bytes(), &missing); err != nil {
		t.Fatalf("decode verify response: %v", err)
	}
	if missing.IsValid || missing.ConsentID != "" {
		t.Fatalf("expected a negative answer without a consent id, got %+v", missing)
	}
	if len(missing.Proof.PublicSignals) != 4 || missing.Proof.PublicSignals[2] != "0" {
		t.Fatalf("negative answers still carry a proof: %v", missing.Proof.PublicSignals)
	}
}

func TestVerifyEndpoint_DerivedExpiryIsPersisted(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	expires := ts.now.Add(time.Hour).Format(time.RFC3339)
	body, _ := json.Marshal(grantRequest{
		Subject:     "alice@example.com",
		Controller:  "acme-corp",
		Purpose:     "newsletter",
		Categories:  []string{"contact"},
		LawfulBasis: domain.BasisConsent,
		ExpiresAt:   expires,
	})
	w := ts.request(t, http.MethodPost, "/v1/consents", body, false)
	if w.Code != http.StatusOK {
		t.Fatalf("grant: expected 200, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var granted consentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &granted); err != nil {
		t.Fatalf("decode grant response: %v", err)
	}

	ts.advance(2 * time.Hour)

	body, _ = json.Marshal(verifyRequest{Subject: "alice@example.com", Controller: "acme-corp", Purpose: "newsletter"})
	w = ts.request(t, http.MethodPost, "/v1/consents/verify", body, false)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", w.Code)
	}
	var result domain.VerificationResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode verify response: %v", err)
	}
	if result.IsValid || result.Status != domain.StatusExpired {
		t.Fatalf("expected an expired answer, got %+v", result)
	}

	stored, err := ts.consents.GetByID(context.Background(), granted.ConsentID)
	if err != nil {
		t.Fatalf("read stored record: %v", err)
	}
	if stored.Status != domain.StatusExpired {
		t.Fatalf("derived expiry was not persisted, stored status %s", stored.Status)
	}
}

func TestRevokeEndpoint_Success(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	priv := ts.registerSubjectKey(t, "alice@example.com")
	granted := ts.grant(t, "alice@example.com", "acme-corp", "newsletter")

	w := ts.revoke(t, granted.ConsentID, ts.signRevoke(t, priv, "alice@example.com", granted.ConsentID, *ts.now))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var resp consentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode revoke response: %v", err)
	}
	if resp.Status != string(domain.StatusRevoked) || resp.RevokedAt == "" {
		t.Fatalf("expected a revoked record, got %+v", resp)
	}

	body, _ := json.Marshal(verifyRequest{Subject: "alice@example.com", Controller: "acme-corp", Purpose: "newsletter"})
	w = ts.request(t, http.MethodPost, "/v1/consents/verify", body, false)
	var result domain.VerificationResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode verify response: %v", err)
	}
	if result.IsValid || result.Status != domain.StatusRevoked {
		t.Fatalf("expected revoked verification answer, got %+v", result)
	}
}

func TestRevokeEndpoint_ReplayedSignatureRejected(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	priv := ts.registerSubjectKey(t, "alice@example.com")
	granted := ts.grant(t, "alice@example.com", "acme-corp", "newsletter")

	req := ts.signRevoke(t, priv, "alice@example.com", granted.ConsentID, *ts.now)
	if w := ts.revoke(t, granted.ConsentID, req); w.Code != http.StatusOK {
		t.Fatalf("first revoke: expected 200, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}

	w := ts.revoke(t, granted.ConsentID, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	assertErrorCode(t, w.Body.Bytes(), "REPLAY_DETECTED")
}

func TestRevokeEndpoint_AlreadyRevoked(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	priv := ts.registerSubjectKey(t, "alice@example.com")
	granted := ts.grant(t, "alice@example.com", "acme-corp", "newsletter")

	if w := ts.revoke(t, granted.ConsentID, ts.signRevoke(t, priv, "alice@example.com", granted.ConsentID, *ts.now)); w.Code != http.StatusOK {
		t.Fatalf("first revoke: expected 200, got %d", w.Code)
	}

	// Fresh signature over a later issued_at; the gate passes, the state
	// machine refuses.
	ts.advance(time.Second)
	w := ts.revoke(t, granted.ConsentID, ts.signRevoke(t, priv, "alice@example.com", granted.ConsentID, *ts.now))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	assertErrorCode(t, w.Body.Bytes(), "INVALID_STATE")
}

func TestRevokeEndpoint_StaleTimestamp(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	priv := ts.registerSubjectKey(t, "alice@example.com")
	granted := ts.grant(t, "alice@example.com", "acme-corp", "newsletter")

	w := ts.revoke(t, granted.ConsentID, ts.signRevoke(t, priv, "alice@example.com", granted.ConsentID, ts.now.Add(-20*time.Minute)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	assertErrorCode(t, w.Body.Bytes(), "STALE_TIMESTAMP")
}

func TestRevokeEndpoint_UnknownKeyLooksLikeBadSignature(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	granted := ts.grant(t, "alice@example.com", "acme-corp", "newsletter")

	// No key on file for the subject.
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	unknown := ts.revoke(t, granted.ConsentID, ts.signRevoke(t, priv, "alice@example.com", granted.ConsentID, *ts.now))
	if unknown.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", unknown.Code)
	}

	// Key on file, signed with a different one.
	ts.registerSubjectKey(t, "bob@example.com")
	grantedBob := ts.grant(t, "bob@example.com", "acme-corp", "newsletter")
	_, wrong, _ := ed25519.GenerateKey(rand.Reader)
	ts.advance(time.Second)
	mismatch := ts.revoke(t, grantedBob.ConsentID, ts.signRevoke(t, wrong, "bob@example.com", grantedBob.ConsentID, *ts.now))
	if mismatch.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", mismatch.Code)
	}

	// The two failures must be indistinguishable on the wire.
	var a, b errorResponse
	if err := json.Unmarshal(unknown.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if err := json.Unmarshal(mismatch.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if a.Code != "SIGNATURE_INVALID" || b.Code != "SIGNATURE_INVALID" {
		t.Fatalf("expected SIGNATURE_INVALID for both, got %s and %s", a.Code, b.Code)
	}
	if a.Message != b.Message {
		t.Fatalf("key existence leaks through the message: %q vs %q", a.Message, b.Message)
	}
}

func TestRevokeEndpoint_MissingConsentReleasesSignature(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	priv := ts.registerSubjectKey(t, "alice@example.com")
	bogus := strings.Repeat("ab", 32)

	req := ts.signRevoke(t, priv, "alice@example.com", bogus, *ts.now)
	if w := ts.revoke(t, bogus, req); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	// The reservation was released, so the same signed request fails the
	// same way instead of tripping the replay guard.
	w := ts.revoke(t, bogus, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on retry, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	assertErrorCode(t, w.Body.Bytes(), "NOT_FOUND")
}

func TestRevokeEndpoint_ForeignConsentLooksMissing(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	granted := ts.grant(t, "alice@example.com", "acme-corp", "newsletter")
	priv := ts.registerSubjectKey(t, "mallory@example.com")

	w := ts.revoke(t, granted.ConsentID, ts.signRevoke(t, priv, "mallory@example.com", granted.ConsentID, *ts.now))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	assertErrorCode(t, w.Body.Bytes(), "NOT_FOUND")
}

func TestRevokeEndpoint_BadSignatureEncoding(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	granted := ts.grant(t, "alice@example.com", "acme-corp", "newsletter")

	body, _ := json.Marshal(revokeRequest{
		Subject:   "alice@example.com",
		Signature: "%%%not-base64%%%",
		IssuedAt:  ts.now.Format(time.RFC3339),
	})
	w := ts.request(t, http.MethodPost, "/v1/consents/"+granted.ConsentID+"/revoke", body, false)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	assertErrorCode(t, w.Body.Bytes(), "VALIDATION")
}

func TestComplianceEndpoint_Summary(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	priv := ts.registerSubjectKey(t, "alice@example.com")
	first := ts.grant(t, "alice@example.com", "acme-corp", "newsletter")
	ts.grant(t, "alice@example.com", "acme-corp", "analytics")

	if w := ts.revoke(t, first.ConsentID, ts.signRevoke(t, priv, "alice@example.com", first.ConsentID, *ts.now)); w.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}

	w := ts.request(t, http.MethodGet, "/v1/compliance/summary?controller="+first.ControllerRef, nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var summary domain.ComplianceSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.ControllerRef != first.ControllerRef {
		t.Fatalf("unexpected controller_ref: %s", summary.ControllerRef)
	}
	if summary.TotalRecords != 2 {
		t.Fatalf("expected 2 records, got %d", summary.TotalRecords)
	}
	if summary.StatusCounts[domain.StatusGranted] != 1 || summary.StatusCounts[domain.StatusRevoked] != 1 {
		t.Fatalf("unexpected status counts: %v", summary.StatusCounts)
	}
	if summary.AnchoredRecords != 2 {
		t.Fatalf("expected both records anchored, got %d", summary.AnchoredRecords)
	}
	if !summary.AuditChainOK || summary.AuditChainLength == 0 {
		t.Fatalf("expected an intact audit chain, got ok=%v length=%d", summary.AuditChainOK, summary.AuditChainLength)
	}
	if summary.Score <= 0 || summary.Score > 100 {
		t.Fatalf("score out of range: %d", summary.Score)
	}
}

func TestAnchorStatusEndpoint(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	w := ts.request(t, http.MethodGet, "/v1/anchor/status", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var status domain.AnchorNetworkStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Connected || status.BackendKind != domain.BackendKindSimulator {
		t.Fatalf("unexpected network status: %+v", status)
	}
}

func TestAdminEndpoints_Unauthorized(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/principals/keys"},
		{http.MethodGet, "/v1/audit/events"},
		{http.MethodGet, "/v1/consents/" + strings.Repeat("ab", 32) + "/evidence"},
	} {
		w := ts.request(t, route.method, route.path, []byte("{}"), false)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", route.method, route.path, w.Code)
		}
		assertErrorCode(t, w.Body.Bytes(), "UNAUTHORIZED")
	}

	// A wrong key is rejected the same way.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/audit/events", nil)
	req.Header.Set("X-Admin-Key", "wrong")
	ts.r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAdminEndpoints_NoKeyConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServerWithDeps(config.Config{}, ServerDeps{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/audit/events", nil)
	req.Header.Set("X-Admin-Key", "")
	server.r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	assertErrorCode(t, w.Body.Bytes(), "UNAUTHORIZED")
}

func TestAdminRegisterKey(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	body, _ := json.Marshal(adminKeyRequest{
		Subject:   "alice@example.com",
		Alg:       domain.KeyAlgEd25519,
		PublicKey: base64.StdEncoding.EncodeToString(pub),
	})
	w := ts.request(t, http.MethodPost, "/v1/principals/keys", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var resp keyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode key response: %v", err)
	}
	if resp.PrincipalRef != ts.crypto.HashRef("subject", "alice@example.com") {
		t.Fatalf("unexpected principal_ref: %s", resp.PrincipalRef)
	}
	if resp.Status != string(domain.KeyStatusActive) || resp.Alg != domain.KeyAlgEd25519 {
		t.Fatalf("unexpected key response: %+v", resp)
	}

	body, _ = json.Marshal(adminKeyRequest{Subject: "alice@example.com", Alg: domain.KeyAlgEd25519, PublicKey: "!!!"})
	w = ts.request(t, http.MethodPost, "/v1/principals/keys", body, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad encoding: expected 400, got %d", w.Code)
	}
	assertErrorCode(t, w.Body.Bytes(), "VALIDATION")

	body, _ = json.Marshal(adminKeyRequest{
		Subject:   "alice@example.com",
		Alg:       "rot13",
		PublicKey: base64.StdEncoding.EncodeToString(pub),
	})
	w = ts.request(t, http.MethodPost, "/v1/principals/keys", body, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown alg: expected 400, got %d", w.Code)
	}
	assertErrorCode(t, w.Body.Bytes(), "VALIDATION")
}

func TestAuditEventsEndpoint(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	priv := ts.registerSubjectKey(t, "alice@example.com")
	granted := ts.grant(t, "alice@example.com", "acme-corp", "newsletter")
	if w := ts.revoke(t, granted.ConsentID, ts.signRevoke(t, priv, "alice@example.com", granted.ConsentID, *ts.now)); w.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d", w.Code)
	}

	w := ts.request(t, http.MethodGet, "/v1/audit/events", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var events []auditEventResponse
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected key_registered, consent_granted and consent_revoked, got %d events", len(events))
	}
	types := []string{events[0].EventType, events[1].EventType, events[2].EventType}
	want := []string{
		string(domain.AuditEventKeyRegistered),
		string(domain.AuditEventConsentGranted),
		string(domain.AuditEventConsentRevoked),
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("unexpected event order: %v", types)
		}
	}
	for i, event := range events {
		if event.Seq != int64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, event.Seq)
		}
		if event.EventHash == "" {
			t.Fatalf("event %d is missing its hash", i)
		}
		if i > 0 && event.PrevEventHash != events[i-1].EventHash {
			t.Fatalf("event %d does not chain to its predecessor", i)
		}
	}

	w = ts.request(t, http.MethodGet, "/v1/audit/events?after_seq=2&limit=10", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var tail []auditEventResponse
	if err := json.Unmarshal(w.Body.Bytes(), &tail); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(tail) != 1 || tail[0].Seq != 3 {
		t.Fatalf("after_seq filter broken: %+v", tail)
	}

	w = ts.request(t, http.MethodGet, "/v1/audit/events?after_seq=-1", nil, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	assertErrorCode(t, w.Body.Bytes(), "VALIDATION")
}

func TestEvidenceEndpoint(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	granted := ts.grant(t, "alice@example.com", "acme-corp", "newsletter")

	w := ts.request(t, http.MethodGet, "/v1/consents/"+granted.ConsentID+"/evidence", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("unexpected content type: %s", ct)
	}

	var bundle bundles.EvidenceBundle
	if err := json.Unmarshal(w.Body.Bytes(), &bundle); err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	if bundle.Version != bundles.EvidenceBundleVersion {
		t.Fatalf("unexpected bundle version: %s", bundle.Version)
	}
	if bundle.Consent.ConsentID != granted.ConsentID {
		t.Fatalf("bundle is for the wrong consent: %s", bundle.Consent.ConsentID)
	}
	if len(bundle.AuditTrail) == 0 || len(bundle.Attempts) == 0 {
		t.Fatalf("expected audit trail and attempts, got %d/%d", len(bundle.AuditTrail), len(bundle.Attempts))
	}
	if bundle.Receipt == nil || bundle.Receipt.Status != domain.AnchorStatusAnchored {
		t.Fatalf("expected an anchored receipt, got %+v", bundle.Receipt)
	}

	// The served bytes are the canonical form: re-deriving the digest from
	// the decoded bundle must reproduce the embedded value.
	recomputed, err := bundle.ComputeDigest()
	if err != nil {
		t.Fatalf("recompute digest: %v", err)
	}
	if recomputed != bundle.BundleDigest {
		t.Fatalf("digest mismatch: %s vs %s", recomputed, bundle.BundleDigest)
	}

	w = ts.request(t, http.MethodGet, "/v1/consents/"+strings.Repeat("ab", 32)+"/evidence", nil, true)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown consent: expected 404, got %d", w.Code)
	}
	assertErrorCode(t, w.Body.Bytes(), "NOT_FOUND")
}

func TestRateLimit_GrantEndpoint(t *testing.T) {
	ts := newTestServer(t, config.Config{
		RateLimitRequests:      2,
		RateLimitWindowSeconds: 60,
		RateLimitMaxKeys:       16,
	})

	first := ts.grantRaw(t, "alice@example.com", "acme-corp", "newsletter")
	if first.Code != http.StatusOK {
		t.Fatalf("first grant: expected 200, got %d", first.Code)
	}
	if first.Header().Get("RateLimit-Limit") != "2" || first.Header().Get("RateLimit-Remaining") != "1" {
		t.Fatalf("unexpected rate limit headers: limit=%s remaining=%s",
			first.Header().Get("RateLimit-Limit"), first.Header().Get("RateLimit-Remaining"))
	}

	if w := ts.grantRaw(t, "alice@example.com", "acme-corp", "analytics"); w.Code != http.StatusOK {
		t.Fatalf("second grant: expected 200, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}

	w := ts.grantRaw(t, "alice@example.com", "acme-corp", "profiling")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third grant: expected 429, got %d", w.Code)
	}
	assertErrorCode(t, w.Body.Bytes(), "RATE_LIMITED")
	if w.Header().Get("RateLimit-Remaining") != "0" {
		t.Fatalf("expected zero remaining, got %s", w.Header().Get("RateLimit-Remaining"))
	}
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter < 0 || retryAfter > 60 {
		t.Fatalf("unexpected Retry-After: %q", w.Header().Get("Retry-After"))
	}

	// Reads stay open while writes are limited.
	if h := ts.request(t, http.MethodGet, "/healthz", nil, false); h.Code != http.StatusOK {
		t.Fatalf("healthz should not be limited, got %d", h.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	w := ts.request(t, http.MethodGet, "/metrics", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatal("expected the default collectors on /metrics")
	}
}

func TestNoRoute(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	w := ts.request(t, http.MethodGet, "/v1/nope", nil, false)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	assertErrorCode(t, w.Body.Bytes(), "NOT_FOUND")
}

// TestNewServerRunsWithoutDatabase exercises the production wiring path with
// no store: in-memory repositories, the in-process replay guard and the
// simulator backend.
func TestNewServerRunsWithoutDatabase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := NewServer(config.Config{HTTPAddr: ":0", AdminAPIKey: testAdminKey}, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "no-db") {
		t.Fatalf("unexpected healthz: %d %s", w.Code, w.Body.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.RunBackground(ctx) }()

	body, _ := json.Marshal(grantRequest{
		Subject:     "alice@example.com",
		Controller:  "acme-corp",
		Purpose:     "newsletter",
		Categories:  []string{"contact"},
		LawfulBasis: domain.BasisConsent,
	})
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/consents", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("grant: expected 200, got %d: %s", w.Code, strings.TrimSpace(w.Body.String()))
	}

	body, _ = json.Marshal(verifyRequest{Subject: "alice@example.com", Controller: "acme-corp", Purpose: "newsletter"})
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/consents/verify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", w.Code)
	}
	var result domain.VerificationResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode verify response: %v", err)
	}
	if !result.IsValid {
		t.Fatal("expected the grant to verify")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected background error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("background workers did not stop")
	}
}
