// Package httpserver exposes the process surface: the per-call WebSocket
// endpoint, the health probe, and Prometheus metrics.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/agent"
	"voiceagent-server/pkg/call"
	"voiceagent-server/pkg/config"
	"voiceagent-server/pkg/pipeline"
	"voiceagent-server/pkg/providers"
	"voiceagent-server/pkg/session"
	"voiceagent-server/pkg/version"
)

// upgrader configures inbound WebSocket upgrades. The telephony platform
// does not send an Origin header, so origin checks are disabled.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server hosts the call WebSocket endpoint and the operational endpoints.
type Server struct {
	logger       *logrus.Logger
	cfg          config.HTTPConfig
	callCfg      call.Config
	orchestrator *pipeline.Orchestrator
	store        *session.Store
	resolver     agent.Resolver
	finalizer    call.Finalizer
	registry     *providers.Registry
	httpServer   *http.Server
	startTime    time.Time
}

// NewServer wires the endpoints and builds the underlying http.Server.
func NewServer(logger *logrus.Logger, cfg config.HTTPConfig, callCfg call.Config, orchestrator *pipeline.Orchestrator, store *session.Store, resolver agent.Resolver, finalizer call.Finalizer, registry *providers.Registry) *Server {
	s := &Server{
		logger:       logger,
		cfg:          cfg,
		callCfg:      callCfg,
		orchestrator: orchestrator,
		store:        store,
		resolver:     resolver,
		finalizer:    finalizer,
		registry:     registry,
		startTime:    time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/calls/{callSid}", s.callHandler)
	mux.HandleFunc("GET /healthz", s.healthHandler)
	if cfg.EnableMetrics {
		mux.Handle("GET /metrics", promhttp.Handler())
		logger.Info("Prometheus metrics endpoint enabled at /metrics")
	}

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     mux,
		ReadTimeout: cfg.ReadTimeout,
		// WriteTimeout stays unset: call sockets outlive any sane value.
	}

	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.logger.WithField("port", s.cfg.Port).Info("Starting HTTP server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// callHandler upgrades the connection and runs one call lifecycle on it.
func (s *Server) callHandler(w http.ResponseWriter, r *http.Request) {
	callSID := r.PathValue("callSid")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).WithField("call_sid", callSID).Error("Failed to upgrade call connection")
		return
	}

	s.logger.WithField("call_sid", callSID).Info("Call socket accepted")

	handler := call.NewHandler(s.logger, s.orchestrator, s.store, s.resolver, s.finalizer, s.callCfg, callSID)
	handler.Serve(r.Context(), conn)
}

type healthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	ActiveCalls   int               `json:"active_calls"`
	Providers     map[string]string `json:"providers"`
}

// healthHandler reports process liveness and per-provider probe results.
// Any provider failure degrades the status but still returns 200: a broken
// fallback must not take the process out of rotation.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	providerStatus := s.registry.HealthStatus(ctx)
	status := "healthy"
	for _, v := range providerStatus {
		if v != "ok" {
			status = "degraded"
			break
		}
	}

	resp := healthResponse{
		Status:        status,
		Version:       version.Version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		ActiveCalls:   s.store.Count(),
		Providers:     providerStatus,
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Server", version.ServerHeader())
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithError(err).Error("Failed to write health response")
	}
}
