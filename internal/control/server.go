package control

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-viper/mapstructure/v2"

	"github.com/wtdbg/wtdbg/internal/config"
	"github.com/wtdbg/wtdbg/internal/debugmanager"
	"github.com/wtdbg/wtdbg/internal/debugsession"
	"github.com/wtdbg/wtdbg/internal/dbgerr"
	"github.com/wtdbg/wtdbg/internal/eventlog"
	"github.com/wtdbg/wtdbg/internal/logger"
)

// Server is the control API: imports debugmanager and debugsession, never
// the reverse — this is the external collaborator boundary, not the hard
// core.
type Server struct {
	cfg     *config.Watcher
	mgr     *debugmanager.Manager
	evlog   *eventlog.Store
	httpSrv *http.Server
	hub     *eventHub
}

// NewServer wires the control API's routes against an existing manager.
func NewServer(cfg *config.Watcher, mgr *debugmanager.Manager, evlog *eventlog.Store) *Server {
	s := &Server{cfg: cfg, mgr: mgr, evlog: evlog, hub: newEventHub()}

	mgr.OnEvent(func(ev debugmanager.Event) {
		s.hub.broadcast(ev)
		if evlog != nil {
			if err := evlog.Record(context.Background(), ev.SessionID, ev.Type, ev.Detail); err != nil {
				logger.Warn("control: eventlog record failed", "session_id", ev.SessionID, "err", err)
			}
		}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleConnect)
	mux.HandleFunc("GET /v1/sessions", s.handleList)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleDetail)
	mux.HandleFunc("POST /v1/sessions/{id}/command", s.handleCommand)
	mux.HandleFunc("POST /v1/sessions/{id}/continue", s.handleContinue)
	mux.HandleFunc("POST /v1/sessions/{id}/interrupt", s.handleInterrupt)
	mux.HandleFunc("POST /v1/sessions/{id}/repause", s.handleRepause)
	mux.HandleFunc("POST /v1/sessions/{id}/ensure-paused", s.handleEnsurePaused)
	mux.HandleFunc("POST /v1/sessions/{id}/auto-repause", s.handleAutoRepause)
	mux.HandleFunc("POST /v1/sessions/{id}/disconnect", s.handleDisconnectOne)
	mux.HandleFunc("DELETE /v1/sessions", s.handleDisconnectAll)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	token := cfg.Get().BearerToken
	s.httpSrv = &http.Server{
		Addr:    cfg.Get().ListenAddr,
		Handler: requireAuth(token, mux),
	}
	return s
}

// ListenAndServe starts the HTTP server, returning when ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	var opts debugmanager.ConnectOptions
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &opts,
	})
	if err != nil {
		http.Error(w, "internal decoder error", http.StatusInternalServerError)
		return
	}
	if err := decoder.Decode(raw); err != nil {
		http.Error(w, "bad connect options: "+err.Error(), http.StatusBadRequest)
		return
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = s.cfg.Get().CommandTimeout
	}
	if opts.GreetingWidth == "" {
		opts.GreetingWidth = "80"
	}
	if opts.GreetingCookie == "" {
		opts.GreetingCookie = "-"
	}

	sess, err := s.mgr.Connect(opts)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(sess))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.List())
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.mgr.Client(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	view := sessionView(sess)

	if strings.Contains(r.Header.Get("Accept"), "application/cbor") {
		data, err := cbor.Marshal(view)
		if err != nil {
			http.Error(w, "encode error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/cbor")
		w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type commandRequest struct {
	Payload string `json:"payload"`
	Timeout string `json:"timeout"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.mgr.Client(id)
	if err != nil {
		writeErr(w, err)
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	timeout := s.cfg.Get().CommandTimeout
	if req.Timeout != "" {
		if d, err := time.ParseDuration(req.Timeout); err == nil {
			timeout = d
		}
	}

	out, err := sess.SendCommand(req.Payload, timeout)
	if err != nil {
		writeErr(w, err)
		return
	}
	debugmanager.CleanupOneShots(sess, out, timeout)
	writeJSON(w, http.StatusOK, map[string]string{"output": out})
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.mgr.Client(id)
	if err != nil {
		writeErr(w, err)
		return
	}

	timeout := s.cfg.Get().CommandTimeout
	flag := s.hub.registerInterrupt(id)
	sess.PendingHTTPSlot = pendingContinue{method: r.Method, url: r.URL.String()}
	defer func() {
		s.hub.clearInterrupt(id)
		sess.PendingHTTPSlot = nil
	}()

	outcome, out, err := sess.ContinueAndWait(timeout, func() bool { return flag.isSet() }, s.cfg.Get().GraceWindow)
	if err != nil {
		writeErr(w, err)
		return
	}
	debugmanager.CleanupOneShots(sess, out, timeout)
	writeJSON(w, http.StatusOK, map[string]string{"outcome": outcome.String(), "output": out})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.hub.setInterrupt(id)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRepause(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.mgr.Client(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := sess.Repause(s.cfg.Get().CommandTimeout); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnsurePaused(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.mgr.Client(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	sess.EnsurePaused(s.cfg.Get().CommandTimeout)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAutoRepause(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.mgr.Client(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := sess.AutoRepause(s.cfg.Get().CommandTimeout); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisconnectOne(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.mgr.Disconnect(id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisconnectAll(w http.ResponseWriter, r *http.Request) {
	s.mgr.DisconnectAll()
	w.WriteHeader(http.StatusNoContent)
}

type sessionViewT struct {
	ID           string `json:"id"`
	PID          string `json:"pid"`
	State        string `json:"state"`
	ConnectedVia string `json:"connected_via"`
	ConnectedAt  string `json:"connected_at"`
}

func sessionView(sess *debugsession.Session) sessionViewT {
	return sessionViewT{
		ID:           sess.ID,
		PID:          sess.PID,
		State:        sess.State().String(),
		ConnectedVia: sess.ConnectedVia,
		ConnectedAt:  sess.ConnectedAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("control: encode response failed", "err", err)
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := dbgerr.KindOf(err); ok {
		switch kind {
		case dbgerr.Session:
			status = http.StatusNotFound
		case dbgerr.Connection:
			status = http.StatusBadGateway
		case dbgerr.Timeout:
			status = http.StatusGatewayTimeout
		case dbgerr.Backend:
			status = http.StatusUnprocessableEntity
		}
	}
	http.Error(w, err.Error(), status)
}
