// Package web provides the HTTP status and control server for the tank gateway.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/tank-gateway/internal/relay"
	"github.com/sweeney/tank-gateway/internal/serial"
	"github.com/sweeney/tank-gateway/internal/state"
)

// Controller is the set of gateway operations exposed over HTTP.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Toggle(id int, on bool) error
	SetDemo(on bool)
	ReadNPK() (state.NPK, bool)
	Snapshot() state.Snapshot
}

// Server serves the status page, the control API and metrics over HTTP.
type Server struct {
	httpServer *http.Server
	ctl        Controller
}

// New creates a Server backed by ctl. A nil gatherer disables /metrics.
func New(addr string, ctl Controller, gatherer prometheus.Gatherer) *Server {
	s := &Server{ctl: ctl}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleJSON)
	mux.HandleFunc("POST /api/connect", s.handleConnect)
	mux.HandleFunc("POST /api/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /api/relay/{id}", s.handleRelay)
	mux.HandleFunc("POST /api/demo", s.handleDemo)
	mux.HandleFunc("POST /api/npk", s.handleNPK)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.ctl.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Connect(r.Context()); err != nil {
		log.Printf("web: connect: %v", err)
		code := http.StatusBadGateway
		if errors.Is(err, serial.ErrNoPort) {
			code = http.StatusServiceUnavailable
		}
		writeError(w, code, err)
		return
	}
	s.writeStatus(w)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Disconnect(); err != nil {
		log.Printf("web: disconnect: %v", err)
	}
	s.writeStatus(w)
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("relay id must be a number"))
		return
	}

	var on bool
	switch r.URL.Query().Get("state") {
	case "on", "ON":
		on = true
	case "off", "OFF":
	default:
		writeError(w, http.StatusBadRequest, errors.New("state must be on or off"))
		return
	}

	if err := s.ctl.Toggle(id, on); err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, relay.ErrUnknownRelay) {
			code = http.StatusNotFound
		}
		writeError(w, code, err)
		return
	}
	s.writeStatus(w)
}

func (s *Server) handleDemo(w http.ResponseWriter, r *http.Request) {
	on, err := strconv.ParseBool(r.URL.Query().Get("on"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("on must be true or false"))
		return
	}
	s.ctl.SetDemo(on)
	s.writeStatus(w)
}

func (s *Server) handleNPK(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.ctl.ReadNPK(); !ok {
		writeError(w, http.StatusConflict, errors.New("npk probe not available"))
		return
	}
	s.writeStatus(w)
}

func (s *Server) writeStatus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(state.FormatJSON(s.ctl.Snapshot()))
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
