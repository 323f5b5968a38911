// Package admin exposes the optional operator surfaces of a running
// coordinator: Prometheus metrics, liveness and node status over HTTP, and
// the standard gRPC health service.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"fragstore/pkg/types"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StatusSource is the coordinator state reported by the admin surfaces.
type StatusSource interface {
	Serving() bool
	NodeStatuses() []types.NodeStatus
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status         string `json:"status"`
	NodesTotal     int    `json:"nodes_total"`
	NodesReachable int    `json:"nodes_reachable"`
	Timestamp      string `json:"timestamp"`
}

// HTTPServer serves /metrics, /healthz and /nodes
type HTTPServer struct {
	source   StatusSource
	gatherer prometheus.Gatherer
	logger   *zap.Logger

	router   *mux.Router
	server   *http.Server
	listener net.Listener
}

// NewHTTPServer creates the admin HTTP server. A nil gatherer exposes the
// default Prometheus registry.
func NewHTTPServer(address string, source StatusSource, gatherer prometheus.Gatherer, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &HTTPServer{
		source:   source,
		gatherer: gatherer,
		logger:   logger,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *HTTPServer) setupRoutes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/nodes", s.listNodes).Methods("GET")
	s.router.HandleFunc("/nodes/{index:[0-9]+}", s.getNode).Methods("GET")
}

// Handler returns the router, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = listener

	go func() {
		s.logger.Info("Starting admin HTTP server", zap.String("address", listener.Addr().String()))
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *HTTPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down gracefully.
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth reports 200 while the coordinator serves, 503 otherwise.
// Unreachable nodes degrade the status but do not fail it: list and delete
// still work without them.
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.source.NodeStatuses()
	reachable := 0
	for _, status := range statuses {
		if status.Reachable {
			reachable++
		}
	}

	response := HealthResponse{
		Status:         "healthy",
		NodesTotal:     len(statuses),
		NodesReachable: reachable,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	statusCode := http.StatusOK

	switch {
	case !s.source.Serving():
		response.Status = "stopped"
		statusCode = http.StatusServiceUnavailable
	case reachable < len(statuses):
		response.Status = "degraded"
	}

	s.writeJSON(w, statusCode, response)
}

func (s *HTTPServer) listNodes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.source.NodeStatuses())
}

func (s *HTTPServer) getNode(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		http.Error(w, "invalid node index", http.StatusBadRequest)
		return
	}

	statuses := s.source.NodeStatuses()
	if index < 0 || index >= len(statuses) {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, statuses[index])
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}
