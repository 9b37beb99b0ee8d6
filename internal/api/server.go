// Package api assembles the HTTP + WebSocket surface spec §4.7/§6
// describe: the /vault control-plane routes, the /v1 inference-compatible
// routes, /metrics, and four WebSocket endpoints. Grounded on
// cmd/gateway/main.go's router/middleware-chaining shape (gorilla/mux,
// ordered middleware wrapping, explicit Server timeouts) — the enclave,
// Neo-wallet and Supabase specifics that router wires are excluded
// entirely, since none of them exist on an air-gapped appliance.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vault-ai/control-plane/internal/adaptermanager"
	"github.com/vault-ai/control-plane/internal/auth"
	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/devmode"
	"github.com/vault-ai/control-plane/internal/diagnostics"
	"github.com/vault-ai/control-plane/internal/gpuscheduler"
	"github.com/vault-ai/control-plane/internal/jobrunner"
	"github.com/vault-ai/control-plane/internal/audit"
	"github.com/vault-ai/control-plane/internal/middleware"
	"github.com/vault-ai/control-plane/internal/proxy"
	"github.com/vault-ai/control-plane/internal/quarantine"
	"github.com/vault-ai/control-plane/internal/servicemgr"
	"github.com/vault-ai/control-plane/internal/store"
	"github.com/vault-ai/control-plane/internal/uptime"
	"github.com/vault-ai/control-plane/internal/updateengine"
	"github.com/vault-ai/control-plane/pkg/logger"
)

// Server wires every subsystem manager to the HTTP surface. Each field is a
// dependency already built by cmd/vault-backend/main.go; Server only adds
// routing, auth gating and response shaping around them.
type Server struct {
	cfg *config.Config
	log *logger.Logger

	store       *store.Store
	authSvc     *auth.Service
	auditLog    *audit.Logger
	scheduler   *gpuscheduler.Scheduler
	training    *jobrunner.Runner
	eval        *jobrunner.Runner
	quarantine  *quarantine.Driver
	updates     *updateengine.Engine
	services    *servicemgr.Manager
	uptimeMon   *uptime.Monitor
	adapters    *adaptermanager.Manager
	devmode     *devmode.Manager
	inference   *proxy.Proxy
	diagnostics *diagnostics.Service
	signatures  *quarantine.SignatureManager

	upgrader websocket.Upgrader
	metrics  *metricsSet

	bodyLimit       *middleware.BodyLimit
	securityHeaders *middleware.SecurityHeaders
	rateLimiter     *middleware.RateLimiter
}

// Deps bundles every dependency Server needs. Passed as one struct rather
// than a long positional argument list, the way cmd/gateway assembles its
// handlers from one fully-built dependency set before registering routes.
type Deps struct {
	Cfg         *config.Config
	Log         *logger.Logger
	Store       *store.Store
	Auth        *auth.Service
	Audit       *audit.Logger
	Scheduler   *gpuscheduler.Scheduler
	Training    *jobrunner.Runner
	Eval        *jobrunner.Runner
	Quarantine  *quarantine.Driver
	Updates     *updateengine.Engine
	Services    *servicemgr.Manager
	Uptime      *uptime.Monitor
	Adapters    *adaptermanager.Manager
	DevMode     *devmode.Manager
	Inference   *proxy.Proxy
	Diagnostics *diagnostics.Service
	Signatures  *quarantine.SignatureManager
}

func NewServer(d Deps) *Server {
	return &Server{
		cfg:         d.Cfg,
		log:         d.Log,
		store:       d.Store,
		authSvc:     d.Auth,
		auditLog:    d.Audit,
		scheduler:   d.Scheduler,
		training:    d.Training,
		eval:        d.Eval,
		quarantine:  d.Quarantine,
		updates:     d.Updates,
		services:    d.Services,
		uptimeMon:   d.Uptime,
		adapters:    d.Adapters,
		devmode:     d.DevMode,
		inference:   d.Inference,
		diagnostics: d.Diagnostics,
		signatures:  d.Signatures,
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }},
		metrics:     newMetricsSet(),

		bodyLimit:       middleware.NewBodyLimit(d.Cfg.Security.MaxRequestBodyBytes),
		securityHeaders: middleware.NewSecurityHeaders(nil),
		rateLimiter:     middleware.NewRateLimiterWithWindow(d.Cfg.Security.RateLimitPerMinute, time.Minute, d.Cfg.Security.RateLimitBurst),
	}
}

// Router builds the full mux.Router with every route registered and the
// ambient middleware chain (recovery, logging, metrics, per-IP rate limit,
// body-size limit, security headers, CORS) applied outermost-in, matching
// the order cmd/gateway/main.go chains its own middleware.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)

	r.HandleFunc("/vault/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.registerAuthRoutes(r)
	s.registerSystemRoutes(r)
	s.registerTrainingRoutes(r)
	s.registerAdapterRoutes(r)
	s.registerEvalRoutes(r)
	s.registerQuarantineRoutes(r)
	s.registerUpdateRoutes(r)
	s.registerAdminRoutes(r)
	s.registerInferenceRoutes(r)
	s.registerWebSocketRoutes(r)

	var handler http.Handler = r
	handler = s.corsMiddleware(handler)
	handler = s.securityHeaders.Handler(handler)
	handler = s.bodyLimit.Handler(handler)
	handler = s.rateLimiter.Handler(handler)
	handler = s.metricsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	return handler
}

// protect wraps a handler requiring any authenticated principal (session or
// API key).
func (s *Server) protect(h http.HandlerFunc) http.Handler {
	return s.authSvc.Middleware(h)
}

// admin wraps a handler requiring an admin-scoped principal.
func (s *Server) admin(h http.HandlerFunc) http.Handler {
	return s.authSvc.Middleware(auth.RequireAdmin(h))
}

// NewHTTPServer builds the *http.Server with the explicit timeouts and
// header limit spec §5's resource model expects of a long-running control
// plane process — streaming inference responses are exempted from
// WriteTimeout by ResponseWriter flushing incrementally rather than the
// server imposing a hard wall-clock cutoff on the whole connection.
func NewHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:           cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:        handler,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   0, // streaming inference responses can run indefinitely
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

