// Package routes exposes the HTTP API: the song catalog, play recording
// with revenue distribution, ownership claims, analytics, the strategy
// catalog, royalty reports, and the live play feed. Writes are authorized
// through gateway/auth; canonical messages are rebuilt server-side from
// the request body, never taken from the client.
package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mycelix/cache"
	"mycelix/gateway/auth"
	"mycelix/gateway/middleware"
	"mycelix/native/economics"
	"mycelix/reports"
	"mycelix/storage"
)

// ChainStatus reports indexer progress for the health endpoint. The chain
// package satisfies it; a nil value means no indexer is running.
type ChainStatus interface {
	LastIndexedBlock() uint64
}

// Config carries the dependencies for a Server. Store and Verifier are
// required; everything else degrades gracefully when absent.
type Config struct {
	Store    *storage.Store
	Verifier *auth.Verifier
	Sessions *auth.Sessions
	Catalog  *economics.Catalog
	Cache    *cache.Client
	Reports  *reports.Reporter
	Chain    ChainStatus
	Metrics  *middleware.Metrics

	RateLimit middleware.RateLimit
	CORS      middleware.CORSConfig

	// ChainID scopes EIP-712 signatures to one network.
	ChainID int64
	Logger  *slog.Logger
	Now     func() time.Time
}

// Server is the HTTP API.
type Server struct {
	store    *storage.Store
	verifier *auth.Verifier
	sessions *auth.Sessions
	catalog  *economics.Catalog
	cache    *cache.Client
	reports  *reports.Reporter
	chain    ChainStatus
	metrics  *middleware.Metrics
	limiter  *middleware.RateLimiter
	chainID  int64
	logger   *slog.Logger
	nowFn    func() time.Time
	live     *liveHub
	router   chi.Router
}

// New wires the server and its router.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("routes: store is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("routes: verifier is required")
	}
	catalog := cfg.Catalog
	if catalog == nil {
		var err error
		catalog, err = economics.NewCatalog(economics.BuiltinCatalog())
		if err != nil {
			return nil, err
		}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = middleware.NewMetrics("mycelix")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	s := &Server{
		store:    cfg.Store,
		verifier: cfg.Verifier,
		sessions: cfg.Sessions,
		catalog:  catalog,
		cache:    cfg.Cache,
		reports:  cfg.Reports,
		chain:    cfg.Chain,
		metrics:  metrics,
		limiter:  middleware.NewRateLimiter(cfg.RateLimit),
		chainID:  cfg.ChainID,
		logger:   logger,
		nowFn:    nowFn,
		live:     newLiveHub(),
	}
	s.router = s.buildRouter(cfg.CORS)
	return s, nil
}

// Handler returns the root handler for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// RateLimiter exposes the limiter so the daemon can run its janitor.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.limiter
}

func (s *Server) buildRouter(cors middleware.CORSConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cors))
	r.Use(s.limiter.Middleware)
	r.Use(s.metrics.Middleware)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/session", s.handleCreateSession)

		r.Get("/songs", s.handleListSongs)
		r.Post("/songs", s.handleRegisterSong)
		r.Get("/songs/{id}", s.handleGetSong)
		r.Post("/songs/{id}/play", s.handleRecordPlay)
		r.Post("/songs/{id}/claim", s.handleCreateClaim)
		r.Get("/songs/{id}/claims", s.handleListClaims)
		r.Post("/claims/{id}/resolve", s.handleResolveClaim)

		r.Get("/artists/{address}", s.handleArtistProfile)
		r.Get("/artists/{address}/songs", s.handleArtistSongs)

		r.Get("/analytics/artist/{address}", s.handleArtistAnalytics)
		r.Get("/analytics/song/{id}", s.handleSongAnalytics)
		r.Get("/analytics/top-songs", s.handleTopSongs)

		r.Get("/strategies", s.handleListStrategies)
		r.Post("/strategies", s.handleCreateStrategy)
		r.Get("/strategies/{id}", s.handleGetStrategy)
		r.Post("/strategies/{id}/preview", s.handlePreviewStrategy)

		r.Get("/live/plays", s.handleLivePlays)

		r.Post("/reports/royalties/{address}", s.handleGenerateReport)
		r.Get("/reports/royalties/{address}", s.handleReportArtifacts)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type healthResponse struct {
		Status       string `json:"status"`
		Database     string `json:"database"`
		Cache        string `json:"cache"`
		IndexedBlock uint64 `json:"indexed_block,omitempty"`
		Sessions     bool   `json:"sessions"`
		Reports      bool   `json:"reports"`
		Time         string `json:"time"`
	}
	resp := healthResponse{
		Status:   "ok",
		Database: "ok",
		Cache:    "disabled",
		Sessions: s.sessions.Enabled(),
		Reports:  s.reports != nil,
		Time:     s.nowFn().UTC().Format(time.RFC3339),
	}
	if err := s.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = "unavailable"
	}
	if s.cache != nil {
		resp.Cache = "ok"
		if err := s.cache.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Cache = "unavailable"
		}
	}
	if s.chain != nil {
		resp.IndexedBlock = s.chain.LastIndexedBlock()
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
