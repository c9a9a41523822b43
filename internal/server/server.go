// Package server exposes the companion to browser clients over HTTP and a
// websocket carrying state, turns, audio and recognition traffic.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexcompanion/internal/bus"
	"github.com/normanking/cortexcompanion/internal/companion"
	"github.com/normanking/cortexcompanion/internal/conversation"
	"github.com/normanking/cortexcompanion/internal/logging"
	"github.com/normanking/cortexcompanion/internal/persona"
	"github.com/normanking/cortexcompanion/internal/voice"
)

const maxBodySize = 1 << 20

// Companion is the session the server drives
type Companion interface {
	Submit(ctx context.Context, text string) (companion.Ticket, error)
	SelectCharacter(ctx context.Context, id string) error
	Snapshot() companion.Snapshot
	History() []conversation.Turn
	Characters() []persona.CharacterProfile
}

// Listener toggles voice input
type Listener interface {
	Toggle(ctx context.Context) error
}

// RecognitionSink receives recognition outcomes reported by clients
type RecognitionSink interface {
	Deliver(transcript string) error
	Fail(err error) error
	End() error
}

// PlaybackAcker is told when a client finished playing a clip
type PlaybackAcker interface {
	Ended(id uint64)
}

// LogSource serves recent log entries
type LogSource interface {
	History(limit int) []logging.LogEntry
}

// Config configures the server
type Config struct {
	Addr        string
	ReadTimeout time.Duration
}

// Deps are the collaborators the server exposes. Only Companion is required.
type Deps struct {
	Companion   Companion
	Bus         *bus.EventBus
	Listener    Listener
	Recognition RecognitionSink
	Playback    PlaybackAcker
	Logs        LogSource
}

// Server is the HTTP server
type Server struct {
	config *Config
	deps   Deps
	hub    *Hub
	logger zerolog.Logger

	httpServer *http.Server
	startTime  time.Time
}

// New creates a server
func New(config *Config, deps Deps, logger zerolog.Logger) *Server {
	if config == nil {
		config = &Config{Addr: "127.0.0.1:8090", ReadTimeout: 15 * time.Second}
	}

	s := &Server{
		config:    config,
		deps:      deps,
		logger:    logger.With().Str("component", "server").Logger(),
		startTime: time.Now(),
	}
	s.hub = NewHub(deps.Bus, logger)
	s.hub.dispatch = s.dispatch
	s.hub.onJoin = s.greet

	s.httpServer = &http.Server{
		Addr:              config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: config.ReadTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Hub returns the websocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/state", s.handleState)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("POST /api/v1/messages", s.handleSubmit)
	mux.HandleFunc("GET /api/v1/characters", s.handleCharacters)
	mux.HandleFunc("POST /api/v1/character", s.handleSelectCharacter)
	mux.HandleFunc("POST /api/v1/listen", s.handleListen)
	mux.HandleFunc("GET /api/v1/logs", s.handleLogs)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /ws", s.hub)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.config.Addr).Msg("HTTP server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info().Msg("HTTP server shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

type submitRequest struct {
	Text string `json:"text"`
}

type submitResponse struct {
	RequestID uint64            `json:"requestId"`
	Turn      conversation.Turn `json:"turn"`
}

type characterRequest struct {
	ID string `json:"id"`
}

type charactersResponse struct {
	Active     string                     `json:"active"`
	Characters []persona.CharacterProfile `json:"characters"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
		"character": s.deps.Companion.Snapshot().Character,
		"clients":   s.hub.Count(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Companion.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := s.deps.Companion.History()
	if history == nil {
		history = []conversation.Turn{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !readJSON(w, r, &req) {
		return
	}

	ticket, err := s.deps.Companion.Submit(r.Context(), req.Text)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{RequestID: ticket.RequestID, Turn: ticket.Turn})
}

func (s *Server) handleCharacters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, charactersResponse{
		Active:     s.deps.Companion.Snapshot().Character,
		Characters: s.deps.Companion.Characters(),
	})
}

func (s *Server) handleSelectCharacter(w http.ResponseWriter, r *http.Request) {
	var req characterRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.deps.Companion.SelectCharacter(r.Context(), req.ID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Companion.Snapshot())
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	if s.deps.Listener == nil {
		writeError(w, http.StatusConflict, voice.ErrUnavailable)
		return
	}
	if err := s.deps.Listener.Toggle(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Companion.Snapshot())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		writeJSON(w, http.StatusOK, []logging.LogEntry{})
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.deps.Logs.History(limit))
}

// greet sends a new client the current session
func (s *Server) greet(c *Client) {
	s.hub.Send(c, Outbound{Type: "hello", Data: map[string]any{
		"client":     c.ID,
		"snapshot":   s.deps.Companion.Snapshot(),
		"history":    s.deps.Companion.History(),
		"characters": s.deps.Companion.Characters(),
	}})
}

func (s *Server) dispatch(ctx context.Context, c *Client, msg Inbound) {
	var err error

	switch msg.Type {
	case "submit":
		_, err = s.deps.Companion.Submit(ctx, msg.Text)
	case "select_character":
		err = s.deps.Companion.SelectCharacter(ctx, msg.Character)
	case "toggle_listen":
		if s.deps.Listener == nil {
			err = voice.ErrUnavailable
			break
		}
		err = s.deps.Listener.Toggle(ctx)
	case "recognition_result":
		if s.deps.Recognition != nil {
			err = s.deps.Recognition.Deliver(msg.Transcript)
		}
	case "recognition_error":
		if s.deps.Recognition != nil {
			err = s.deps.Recognition.Fail(errors.New(msg.Error))
		}
	case "recognition_end":
		if s.deps.Recognition != nil {
			err = s.deps.Recognition.End()
		}
	case "playback_ended":
		if s.deps.Playback != nil {
			s.deps.Playback.Ended(msg.ID)
		}
	default:
		s.logger.Debug().Str("client", c.ID).Str("type", msg.Type).Msg("unknown message type")
		err = errors.New("unknown message type: " + msg.Type)
	}

	if err != nil && !errors.Is(err, voice.ErrNoSession) {
		s.hub.Send(c, Outbound{Type: "error", Data: map[string]any{
			"request": msg.Type,
			"message": err.Error(),
		}})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, companion.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, persona.ErrUnknownCharacter):
		return http.StatusNotFound
	case errors.Is(err, voice.ErrUnavailable):
		return http.StatusConflict
	case errors.Is(err, companion.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return false
		}
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
