package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/thenexusengine/tne_dooh/internal/adapters"
	"github.com/thenexusengine/tne_dooh/internal/adapters/hivestack"
	"github.com/thenexusengine/tne_dooh/internal/adapters/vistar"
	dconfig "github.com/thenexusengine/tne_dooh/internal/config"
	"github.com/thenexusengine/tne_dooh/internal/creative"
	"github.com/thenexusengine/tne_dooh/internal/endpoints"
	"github.com/thenexusengine/tne_dooh/internal/exchange"
	"github.com/thenexusengine/tne_dooh/internal/identity"
	"github.com/thenexusengine/tne_dooh/internal/metrics"
	"github.com/thenexusengine/tne_dooh/internal/middleware"
	"github.com/thenexusengine/tne_dooh/internal/partner"
	"github.com/thenexusengine/tne_dooh/internal/storage"
	"github.com/thenexusengine/tne_dooh/internal/sweep"
	"github.com/thenexusengine/tne_dooh/internal/token"
	"github.com/thenexusengine/tne_dooh/internal/transport"
	"github.com/thenexusengine/tne_dooh/internal/vast"
	"github.com/thenexusengine/tne_dooh/pkg/logger"
	"github.com/thenexusengine/tne_dooh/pkg/redis"
)

// Server represents the DOOH proxy
type Server struct {
	config      *ServerConfig
	httpServer  *http.Server
	metrics     *metrics.Metrics
	router      *exchange.Router
	rateLimiter *middleware.RateLimiter
	db          *sql.DB
	redisClient *redis.Client
	identity    *identity.Store
	dedup       *creative.DedupCache
	relay       *endpoints.LossRelay
	breakers    []*transport.Breaker
	schedulers  []*sweep.Scheduler
	cancel      context.CancelFunc
}

// NewServer creates a new server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	s := &Server{
		config: cfg,
	}

	if err := s.initialize(); err != nil {
		return nil, err
	}

	return s, nil
}

// initialize sets up all server components
func (s *Server) initialize() error {
	log := logger.Log

	log.Info().
		Str("port", s.config.Port).
		Str("context_path", s.config.ContextPath).
		Dur("timeout", s.config.Timeout).
		Bool("vistar", s.config.Partners.Vistar).
		Bool("vistar_french", s.config.Partners.VistarFrench).
		Bool("hivestack", s.config.Partners.Hivestack).
		Msg("Initializing DOOH proxy")

	s.metrics = metrics.NewMetrics("dooh")

	// The device registry is the only hard dependency
	if err := s.initDatabase(); err != nil {
		return err
	}

	// Redis failures are non-fatal; documents and dedup fall back to memory
	if err := s.initRedis(); err != nil {
		log.Warn().Err(err).Msg("Redis initialization failed, continuing with in-process caches only")
	}

	h, err := s.initComponents()
	if err != nil {
		return err
	}

	s.rateLimiter = middleware.NewRateLimiter(&middleware.RateLimitConfig{
		Enabled:           s.config.RateLimitRPS > 0,
		RequestsPerSecond: s.config.RateLimitRPS,
		BurstSize:         s.config.RateLimitBurst,
		CleanupInterval:   time.Minute,
		IdleTimeout:       time.Minute,
		TrustedProxies:    middleware.ParseTrustedProxies(s.config.TrustedProxies),
	}, s.metrics)

	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.buildHandler(h.routes()),
		ReadTimeout:  dconfig.ServerReadTimeout,
		WriteTimeout: dconfig.ServerWriteTimeout,
		IdleTimeout:  dconfig.ServerIdleTimeout,
	}

	return nil
}

// initDatabase opens the registry database
func (s *Server) initDatabase() error {
	if s.config.DatabaseConfig == nil {
		return fmt.Errorf("DB_HOST is required for the device registry")
	}

	dbCfg := s.config.DatabaseConfig
	db, err := storage.NewDBConnection(dbCfg.Host, dbCfg.Port, dbCfg.User, dbCfg.Password, dbCfg.Name, dbCfg.SSLMode)
	if err != nil {
		return fmt.Errorf("failed to connect to registry database: %w", err)
	}
	s.db = db
	return nil
}

// initRedis initializes the Redis client
func (s *Server) initRedis() error {
	if s.config.RedisURL == "" {
		logger.Log.Info().Msg("REDIS_URL not set, Redis-backed features disabled")
		return nil
	}

	client, err := redis.New(s.config.RedisURL)
	if err != nil {
		return err
	}
	s.redisClient = client
	return nil
}

// initComponents builds the bid path, the background sweeps and the handlers
func (s *Server) initComponents() (*handlers, error) {
	log := logger.Log
	cfg := s.config

	playlogs := storage.NewPlaylogStore(s.db)
	ledger := storage.NewCreativeStore(s.db)
	s.identity = identity.NewStore(playlogs)

	client := transport.NewClient(dconfig.DefaultPartnerTimeout)
	tokens := token.NewCache(cfg.ToTokenConfig(), client, s.metrics)

	var shared creative.SharedSet
	if s.redisClient != nil {
		shared = s.redisClient
	}
	s.dedup = creative.NewDedupCache(ledger, shared)

	ids, err := creative.NewIDGenerator(cfg.Creative.Namespace)
	if err != nil {
		return nil, err
	}
	var thumbor *creative.Thumbor
	if cfg.Thumbor.Enabled {
		thumbor = creative.NewThumbor(cfg.Thumbor.Server, cfg.Thumbor.Key)
	}
	builder := creative.NewBuilder(cfg.ToMetadata(), ids, thumbor)
	registrar := creative.NewRegistrar(creative.RegistrarConfig{
		BaseURL:      cfg.Reach.BaseURL,
		CreativePath: cfg.Reach.CreativePath,
	}, client, tokens, s.dedup, s.metrics)

	tiers := []vast.Store{vast.NewLocalStore(cfg.VastCacheSize, dconfig.VastDocumentTTL)}
	if s.redisClient != nil {
		tiers = append(tiers, vast.NewRedisStore(s.redisClient, dconfig.VastDocumentTTL))
	}
	documents := vast.NewTieredStore(s.metrics, tiers...)

	bidder := adapters.NewBidder(cfg.ToBidderConfig(), registrar, builder, documents, s.metrics)
	hs := hivestack.New(cfg.Hivestack)
	en, err := vistar.New(partner.Vistar, cfg.VistarAdapterConfig(partner.Vistar))
	if err != nil {
		return nil, err
	}
	fr, err := vistar.New(partner.VistarFrench, cfg.VistarAdapterConfig(partner.VistarFrench))
	if err != nil {
		return nil, err
	}

	partners := []struct {
		partner    partner.Partner
		adapter    adapters.Adapter
		discoverer adapters.Discoverer
		enabled    bool
	}{
		{partner.Hivestack, hs, hs, cfg.Partners.Hivestack},
		{partner.Vistar, en, en, cfg.Partners.Vistar},
		{partner.VistarFrench, fr, fr, cfg.Partners.VistarFrench},
	}

	var sources []sweep.Source
	for _, p := range partners {
		guarded := s.guard(client, p.partner)
		bidder.Register(p.partner, p.adapter, guarded)
		if p.enabled {
			sources = append(sources, sweep.Source{Partner: p.partner, Discoverer: p.discoverer, Client: guarded})
		}
	}

	s.router = exchange.New(bidder, s.identity, cfg.ToExchangeConfig(), s.metrics)
	s.relay = endpoints.NewLossRelay(client, dconfig.LossNotifyWorkers, dconfig.LossNotifyQueueSize, dconfig.LossNotifyTimeout, s.metrics)

	discovery := sweep.NewDiscovery(sweep.DiscoveryConfig{}, playlogs, tokens, builder, registrar, sources...)
	s.schedulers = []*sweep.Scheduler{
		sweep.NewScheduler("identity_rebuild", sweep.IdentityRebuild(s.identity), cfg.SweepInterval, cfg.SweepInitialDelay, s.metrics),
		sweep.NewScheduler("creative_discovery", discovery.Run, cfg.SweepInterval, cfg.SweepInitialDelay, s.metrics),
	}

	checks := map[string]endpoints.Pinger{"postgres": endpoints.PingFunc(s.db.PingContext)}
	if s.redisClient != nil {
		checks["redis"] = s.redisClient
	}

	log.Info().Int("discovery_sources", len(sources)).Msg("Partners registered")

	return &handlers{
		contextPath: cfg.ContextPath,
		bids:        endpoints.NewBidHandler(s.router),
		events:      endpoints.NewEventHandler(s.relay, s.metrics),
		documents:   endpoints.NewDocumentHandler(documents),
		health:      endpoints.NewHealthHandler(checks),
		metrics:     s.metrics.Handler(),
		admin:       s.circuitBreakerHandler,
	}, nil
}

// guard wraps client with a breaker for p whose transitions feed the
// circuit state gauge
func (s *Server) guard(client transport.Doer, p partner.Partner) transport.Doer {
	bcfg := transport.DefaultBreakerConfig()
	bcfg.OnStateChange = func(name string, from, to transport.BreakerState) {
		s.metrics.SetCircuitState(name, string(to))
		log := logger.Partner(name)
		log.Warn().
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("Partner circuit breaker state changed")
	}
	breaker := transport.NewBreaker(p.String(), bcfg)
	s.metrics.SetCircuitState(p.String(), string(transport.StateClosed))
	s.breakers = append(s.breakers, breaker)
	return transport.Guard(client, breaker)
}

// handlers is the route table of the service
type handlers struct {
	contextPath string
	bids        *endpoints.BidHandler
	events      *endpoints.EventHandler
	documents   *endpoints.DocumentHandler
	health      *endpoints.HealthHandler
	metrics     http.Handler
	admin       httprouter.Handle
}

// routes registers every endpoint. Routes are relative to the context path,
// which is stripped before routing so metric labels stay stable.
func (h *handlers) routes() http.Handler {
	r := httprouter.New()
	r.POST("/bids/:partner", h.bids.Handle)
	r.GET("/win", h.events.Win)
	r.GET("/loss", h.events.Loss)
	r.GET("/cachedDocuments/:deviceKey/:impressionId", h.documents.Handle)
	r.GET("/health", h.health.Live)
	r.GET("/health/ready", h.health.Ready)
	r.Handler(http.MethodGet, "/metrics", h.metrics)
	if h.admin != nil {
		r.GET("/admin/circuit-breaker", h.admin)
	}

	if h.contextPath == "" {
		return r
	}
	return http.StripPrefix(h.contextPath, r)
}

// buildHandler builds the middleware chain
func (s *Server) buildHandler(routes http.Handler) http.Handler {
	sizeLimiter := middleware.NewSizeLimiter(middleware.DefaultSizeLimitConfig())
	gzipMiddleware := middleware.NewGzip(middleware.DefaultGzipConfig())

	// Chain: Logging -> Size Limit -> Rate Limit -> Metrics -> Gzip -> Routes
	handler := gzipMiddleware.Middleware(routes)
	handler = s.metrics.Middleware(handler)
	handler = s.rateLimiter.Middleware(handler)
	handler = sizeLimiter.Middleware(handler)
	handler = loggingMiddleware(handler)

	logger.Log.Info().
		Int("rate_limit_rps", s.config.RateLimitRPS).
		Int64("max_body_size", sizeLimiter.GetConfig().MaxBodySize).
		Msg("Middleware chain built")

	return handler
}

// circuitBreakerHandler returns partner breaker and loss relay stats
func (s *Server) circuitBreakerHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stats := make([]transport.BreakerStats, 0, len(s.breakers))
	for _, b := range s.breakers {
		stats = append(stats, b.Stats())
	}

	response := map[string]interface{}{
		"partners":   stats,
		"loss_relay": s.relay.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Log.Error().Err(err).Msg("failed to encode circuit breaker stats")
	}
}

// warmUp builds the first identity snapshot and loads the creative ledger
// before traffic is accepted
func (s *Server) warmUp(ctx context.Context) {
	log := logger.Log

	if err := s.identity.Rebuild(ctx); err != nil {
		log.Error().Err(err).Msg("Initial identity rebuild failed, bids will no-fill until the next sweep")
	}

	n, err := s.dedup.Preload(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to preload creative ledger")
		return
	}
	log.Info().Int("creatives", n).Msg("Creative ledger preloaded")
}

// Start warms caches, starts the sweeps and serves HTTP
func (s *Server) Start() error {
	log := logger.Log

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	warmCtx, warmCancel := context.WithTimeout(ctx, dconfig.ShutdownTimeout)
	s.warmUp(warmCtx)
	warmCancel()

	for _, sch := range s.schedulers {
		sch.Start(ctx)
	}

	log.Info().Str("addr", s.httpServer.Addr).Msg("Server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown performs graceful shutdown
func (s *Server) Shutdown(ctx context.Context) error {
	log := logger.Log
	log.Info().Msg("Starting graceful shutdown")

	if s.cancel != nil {
		s.cancel()
	}
	for _, sch := range s.schedulers {
		sch.Stop()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	// Handlers are done; flush queued loss relays
	if s.relay != nil {
		s.relay.Close()
		log.Info().Interface("stats", s.relay.Stats()).Msg("Loss relay drained")
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing Redis client")
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
	}

	log.Info().Msg("Server stopped gracefully")
	return nil
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests with structured logging
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(wrapped, r)

		event := logger.Log.Debug()
		if wrapped.statusCode >= 400 {
			event = logger.Log.Warn()
		}
		if wrapped.statusCode >= 500 {
			event = logger.Log.Error()
		}

		event.
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration_ms", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP request")
	})
}
