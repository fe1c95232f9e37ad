package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"consentd/internal/config"
	"consentd/internal/domain"
	"consentd/internal/infra/anchor"
	"consentd/internal/infra/anchor/ledger"
	"consentd/internal/infra/anchor/simulator"
	"consentd/internal/infra/bundles"
	"consentd/internal/infra/consentmem"
	"consentd/internal/infra/crypto"
	"consentd/internal/infra/db"
	"consentd/internal/infra/metrics"
	"consentd/internal/infra/policyopa"
	"consentd/internal/infra/proof"
	"consentd/internal/infra/ratelimit"
	"consentd/internal/infra/replay"
	"consentd/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	cfg   config.Config
	store *db.Store
	r     *gin.Engine

	grantUC      *usecase.GrantConsent
	revokeUC     *usecase.RevokeConsent
	verifyUC     *usecase.VerifyConsent
	complianceUC *usecase.ComplianceReport
	registerUC   *usecase.RegisterPrincipalKey

	audit    usecase.AuditLog
	anchors  domain.AnchorService
	evidence *bundles.Exporter
	metrics  *metrics.Metrics

	// Background pieces started by RunBackground. The sweeper is only set
	// when the in-process replay guard is active; the Redis guard expires
	// reservations by TTL and needs no sweep loop.
	sweeper    *replay.Guard
	dispatcher *anchor.Dispatcher

	adminAPIKey string

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

func NewServer(cfg config.Config, store *db.Store) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{cfg: cfg, store: store, r: r}
	s.initDeps()
	s.routes()
	return s
}

type ServerDeps struct {
	Grant      *usecase.GrantConsent
	Revoke     *usecase.RevokeConsent
	Verify     *usecase.VerifyConsent
	Compliance *usecase.ComplianceReport
	Register   *usecase.RegisterPrincipalKey

	Audit    usecase.AuditLog
	Anchors  domain.AnchorService
	Evidence *bundles.Exporter

	AdminAPIKey string
	RateLimiter domain.RateLimiter
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:          cfg,
		r:            r,
		grantUC:      deps.Grant,
		revokeUC:     deps.Revoke,
		verifyUC:     deps.Verify,
		complianceUC: deps.Compliance,
		registerUC:   deps.Register,
		audit:        deps.Audit,
		anchors:      deps.Anchors,
		evidence:     deps.Evidence,
		adminAPIKey:  deps.AdminAPIKey,
	}
	if s.audit == nil && s.complianceUC != nil {
		s.audit = s.complianceUC.Audit
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initDeps() {
	s.adminAPIKey = s.cfg.AdminAPIKey
	s.metrics = metrics.New()

	cryptoSvc := crypto.NewService()
	proofSvc := proof.NewService()

	var (
		consents         usecase.ConsentRepository
		compliance       usecase.ComplianceReader
		auditLog         usecase.AuditLog
		keys             usecase.PrincipalKeyRepository
		attempts         domain.AnchorAttemptRepository
		evidenceConsents bundles.ConsentReader
		evidenceAudit    bundles.AuditReader
		evidenceAttempts bundles.AttemptReader
	)
	if s.store != nil && s.store.DB != nil {
		consentRepo := db.NewConsentRepository(s.store.DB)
		auditRepo := db.NewAuditEventRepository(s.store.DB)
		keyRepo := db.NewPrincipalKeyRepository(s.store.DB)
		attemptRepo := db.NewAnchorAttemptRepository(s.store.DB)
		consents, compliance = consentRepo, consentRepo
		auditLog = auditRepo
		keys = keyRepo
		attempts = attemptRepo
		evidenceConsents, evidenceAudit, evidenceAttempts = consentRepo, auditRepo, attemptRepo
	} else {
		memConsents := consentmem.NewStore()
		memAudit := consentmem.NewAuditLog()
		memKeys := consentmem.NewKeyStore()
		memAttempts := consentmem.NewAttemptLog()
		consents, compliance = memConsents, memConsents
		auditLog = memAudit
		keys = memKeys
		attempts = memAttempts
		evidenceConsents, evidenceAudit, evidenceAttempts = memConsents, memAudit, memAttempts
	}

	var guard usecase.ReplayGuard
	if s.cfg.RedisAddr != "" {
		redisGuard, err := replay.NewRedisGuard(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, s.cfg.ReplayRetention(), s.cfg.MaxSkew())
		if err != nil {
			log.Printf("redis replay guard unavailable, falling back to in-process guard: %v", err)
		} else {
			guard = redisGuard
		}
	}
	if guard == nil {
		memGuard := replay.NewGuard(s.cfg.ReplayRetention(), s.cfg.ReplaySweepInterval(), s.cfg.MaxSkew(), nil).WithMetrics(s.metrics)
		s.sweeper = memGuard
		guard = memGuard
	}

	var policy usecase.GrantPolicy
	if s.cfg.PolicyBundlePath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(context.Background(), s.cfg.PolicyBundlePath)
		if err != nil {
			log.Printf("policy bundle %q not loaded, grants proceed ungated: %v", s.cfg.PolicyBundlePath, err)
		} else {
			policy = engine
		}
	}

	var scheduler usecase.AnchorScheduler
	backend := s.selectAnchorBackend()
	anchorSvc, err := anchor.NewService(backend, attempts, consentReaderAdapter{repo: consents}, consents, s.cfg.AnchorTimeout())
	if err != nil {
		log.Printf("anchoring disabled: %v", err)
	} else {
		s.anchors = anchorSvc.WithMetrics(s.metrics)
		s.dispatcher = anchor.NewDispatcher(s.anchors, s.cfg.AnchorQueueSize)
		scheduler = s.dispatcher
	}

	emitter := usecase.NewAuditEmitter(auditLog, nil)
	gate := &usecase.AuthorizeRequest{
		Keys:    keys,
		Replay:  guard,
		Crypto:  cryptoSvc,
		MaxSkew: s.cfg.MaxSkew(),
	}
	s.grantUC = &usecase.GrantConsent{
		Consents:   consents,
		Policy:     policy,
		Crypto:     cryptoSvc,
		Audit:      emitter,
		Anchors:    scheduler,
		DefaultTTL: s.cfg.DefaultExpiry(),
	}
	s.revokeUC = &usecase.RevokeConsent{
		Consents: consents,
		Gate:     gate,
		Crypto:   cryptoSvc,
		Audit:    emitter,
		Anchors:  scheduler,
	}
	s.verifyUC = &usecase.VerifyConsent{
		Consents: consents,
		Crypto:   cryptoSvc,
		Proofs:   proofSvc,
		Audit:    emitter,
		Anchors:  scheduler,
	}
	s.complianceUC = &usecase.ComplianceReport{
		Consents: compliance,
		Audit:    auditLog,
	}
	s.registerUC = &usecase.RegisterPrincipalKey{
		Keys:   keys,
		Crypto: cryptoSvc,
		Audit:  emitter,
	}
	s.audit = auditLog
	s.evidence = &bundles.Exporter{
		Consents: evidenceConsents,
		Audit:    evidenceAudit,
		Attempts: evidenceAttempts,
	}

	s.initRateLimit(nil)
}

// selectAnchorBackend returns the ledger client only when the full
// credential set parses; anything less falls back to the simulator with a
// log line. A half-configured ledger must not look like working anchoring.
func (s *Server) selectAnchorBackend() anchor.Backend {
	cfg := s.cfg
	if cfg.AnchorLedgerEndpoint == "" && cfg.AnchorLedgerAPIKey == "" &&
		cfg.AnchorSigningKeySeedHex == "" && cfg.AnchorSigningKeyID == "" {
		return simulator.New(nil)
	}
	signingKey, err := crypto.Ed25519PrivateFromHex(cfg.AnchorSigningKeySeedHex)
	if err != nil {
		log.Printf("anchor ledger signing key rejected, using simulator backend: %v", err)
		return simulator.New(nil)
	}
	client, err := ledger.NewClient(cfg.AnchorLedgerEndpoint, cfg.AnchorLedgerAPIKey, cfg.AnchorSigningKeyID, signingKey, nil)
	if err != nil {
		log.Printf("anchor ledger config rejected, using simulator backend: %v", err)
		return simulator.New(nil)
	}
	return client
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			if limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil); err == nil {
				s.rateLimiter = limiter
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	if s.cfg.RateLimitWindowSeconds > 0 {
		s.rateLimitWindow = time.Duration(s.cfg.RateLimitWindowSeconds) * time.Second
	}
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		status := "ok"
		dbMode := "no-db"
		if s.store != nil && s.store.DB != nil {
			dbMode = "db"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "mode": dbMode})
	})
	s.r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.r.Group("/v1")
	{
		v1.POST("/consents", s.handleGrant)
		v1.POST("/consents/verify", s.handleVerify)
		v1.POST("/consents/:consent_id/revoke", s.handleRevoke)
		v1.GET("/compliance/summary", s.handleComplianceSummary)
		v1.GET("/anchor/status", s.handleAnchorStatus)

		v1.POST("/principals/keys", s.handleAdminRegisterKey)
		v1.GET("/audit/events", s.handleAdminAuditEvents)
		v1.GET("/consents/:consent_id/evidence", s.handleAdminEvidence)
	}

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}

// Handler exposes the router for callers that manage their own http.Server.
func (s *Server) Handler() http.Handler { return s.r }

// RunBackground drives the pieces that live outside the request path: the
// replay sweeper and the anchor dispatcher. It blocks until ctx is cancelled
// and both have stopped.
func (s *Server) RunBackground(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if s.sweeper != nil {
		g.Go(func() error { return s.sweeper.Run(gctx) })
	}
	if s.dispatcher != nil {
		g.Go(func() error { return s.dispatcher.Run(gctx) })
	}
	return g.Wait()
}

// consentReaderAdapter narrows the full repository to the by-value read the
// anchor service wants.
type consentReaderAdapter struct {
	repo usecase.ConsentRepository
}

func (a consentReaderAdapter) GetByID(ctx context.Context, consentID string) (domain.ConsentRecord, error) {
	rec, err := a.repo.GetByID(ctx, consentID)
	if err != nil {
		return domain.ConsentRecord{}, err
	}
	return *rec, nil
}
