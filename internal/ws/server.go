// Package ws is the broker's HTTP and WebSocket surface: session creation and
// lookup, the owner stream and the viewer streams.
package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hackclub/tshare/internal/api"
	"github.com/hackclub/tshare/internal/auth"
	"github.com/hackclub/tshare/internal/logging"
	"github.com/hackclub/tshare/internal/session"
)

// TokenHeader carries the shared broker token.
const TokenHeader = "X-Tshare-Token"

// HealthReporter produces the body of /api/health.
type HealthReporter interface {
	Health() api.Health
}

type Options struct {
	AuthToken      string
	AllowedOrigins []string
	Keepalive      Keepalive
	Health         HealthReporter
	Logger         zerolog.Logger
}

type Server struct {
	store     *session.Store
	health    HealthReporter
	log       zerolog.Logger
	keepalive Keepalive
	origins   *OriginPolicy
	authToken string
	upgrader  websocket.Upgrader
}

func NewServer(store *session.Store, opts Options) *Server {
	if opts.Keepalive == (Keepalive{}) {
		opts.Keepalive = DefaultKeepalive()
	}
	s := &Server{
		store:     store,
		health:    opts.Health,
		log:       opts.Logger.With().Str("module", "broker").Logger(),
		keepalive: opts.Keepalive,
		origins:   NewOriginPolicy(opts.AllowedOrigins),
		authToken: opts.AuthToken,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return s
}

// Handler returns the broker's router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.AccessLog(s.log))
	r.Use(middleware.Recoverer)
	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/api/session", s.handleCreateSession)
		r.Get("/api/session/{id}", s.handleGetSession)
		r.Get("/ws/pty/{id}", s.handleOwner)
		r.Get("/ws/web/{id}", s.handleViewer)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			api.RespondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if (req.OwnerPassword != nil && *req.OwnerPassword == "") ||
		(req.GuestPassword != nil && *req.GuestPassword == "") {
		api.RespondError(w, http.StatusBadRequest, "passwords must not be empty")
		return
	}

	params := session.CreateParams{GuestsReadOnly: req.IsGuestReadonly}
	if req.OwnerPassword != nil {
		params.OwnerPassword = *req.OwnerPassword
	}
	if req.GuestPassword != nil {
		params.GuestPassword = *req.GuestPassword
	}

	sess, err := s.store.Create(params)
	if err != nil {
		s.log.Error().Err(err).Msg("create session")
		if errors.Is(err, auth.ErrHashing) {
			api.RespondError(w, http.StatusInternalServerError, "failed to hash password")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	s.log.Info().
		Str("session_id", sess.ID()).
		Bool("owner_password", params.OwnerPassword != "").
		Bool("guest_password", params.GuestPassword != "").
		Bool("guests_readonly", params.GuestsReadOnly).
		Msg("session created")
	api.RespondJSON(w, http.StatusOK, api.CreateSessionResponse{SessionID: sess.ID()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		api.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	api.RespondJSON(w, http.StatusOK, sess.Details())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		st := s.store.Stats()
		api.RespondJSON(w, http.StatusOK, api.Health{
			Status:        "ok",
			SessionsTotal: st.Total,
			SessionsLive:  st.Live,
			SessionsEnded: st.Ended,
		})
		return
	}
	api.RespondJSON(w, http.StatusOK, s.health.Health())
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get(TokenHeader) == s.authToken {
		return true
	}

	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") && strings.TrimPrefix(header, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	return s.origins.Check(r)
}
