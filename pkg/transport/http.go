package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/specai/graphsync/pkg/engine"
	"github.com/specai/graphsync/pkg/log"
	"github.com/specai/graphsync/pkg/metrics"
	"github.com/specai/graphsync/pkg/protocol"
)

// peerHeader names the instance id of the caller, used by the server
// side to know who it is syncing with without trusting the payload body
// for that (the body only carries session/graph/clock, not identity).
const peerHeader = "X-Graphsync-Instance-Id"

// HTTPClient is the requester-side Transport implementation: a thin
// net/http.Client wrapper shipping JSON bodies.
type HTTPClient struct {
	InstanceID string
	Client     *http.Client
}

// NewHTTPClient builds an HTTPClient with sane request timeouts.
func NewHTTPClient(instanceID string) *HTTPClient {
	return &HTTPClient{
		InstanceID: instanceID,
		Client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) do(ctx context.Context, addr, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(peerHeader, c.InstanceID)

	timer := metrics.NewTimer()
	resp, err := c.Client.Do(req)
	timer.ObserveDurationVec(metrics.TransportRequestDuration, path)
	if err != nil {
		metrics.TransportRequestsTotal.WithLabelValues(path, "error").Inc()
		return fmt.Errorf("sending request to %s: %w", addr, err)
	}
	defer resp.Body.Close()

	metrics.TransportRequestsTotal.WithLabelValues(path, fmt.Sprintf("%d", resp.StatusCode)).Inc()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer %s returned status %d for %s", addr, resp.StatusCode, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response from %s: %w", addr, err)
		}
	}
	return nil
}

// RequestSync implements Transport.
func (c *HTTPClient) RequestSync(ctx context.Context, addr string, req protocol.Payload) (protocol.Payload, error) {
	var resp protocol.Payload
	if err := c.do(ctx, addr, "/sync/request", req, &resp); err != nil {
		return protocol.Payload{}, err
	}
	return resp, nil
}

// Apply implements Transport.
func (c *HTTPClient) Apply(ctx context.Context, addr string, payload protocol.Payload) (protocol.Ack, error) {
	var ack protocol.Ack
	if err := c.do(ctx, addr, "/sync/apply", payload, &ack); err != nil {
		return protocol.Ack{}, err
	}
	return ack, nil
}

// Server is the receiver-side HTTP surface: the sync endpoints above,
// plus the operator-facing /health, /ready, /live, and /metrics
// endpoints from pkg/metrics.
type Server struct {
	engine *engine.Engine
	logger zerolog.Logger
	mux    *http.ServeMux
}

// NewServer wires eng's RunSync/ApplySync onto an http.ServeMux.
func NewServer(eng *engine.Engine) *Server {
	mux := http.NewServeMux()
	s := &Server{
		engine: eng,
		logger: log.WithComponent("transport"),
		mux:    mux,
	}

	mux.HandleFunc("/sync/request", s.handleRequest)
	mux.HandleFunc("/sync/apply", s.handleApply)
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	return s
}

// Handler exposes the underlying mux so tests can drive it with
// httptest.NewServer without binding a real listener.
func (s *Server) Handler() http.Handler { return s.mux }

// Start blocks serving addr until the listener fails.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req protocol.Payload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	peer := r.Header.Get(peerHeader)
	resp, strategy, err := s.engine.RunSync(peer, req.SessionID, req.GraphName, req.VectorClock)
	if err != nil {
		s.logger.Error().Err(err).Str("peer", peer).Msg("sync request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.logger.Info().Str("peer", peer).Str("session_id", req.SessionID).Str("strategy", strategy.String()).Msg("sync request served")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload protocol.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	peer := r.Header.Get(peerHeader)
	ack, err := s.engine.ApplySync(peer, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("peer", peer).Msg("apply sync failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.logger.Info().Str("peer", peer).Int("nodes_applied", ack.NodesApplied).Int("edges_applied", ack.EdgesApplied).Msg("sync payload applied")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ack)
}
