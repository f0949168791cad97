// Package edge is the browser-facing proxy. It authenticates viewers against
// a session's credentials and relays their WebSocket to the broker.
package edge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hackclub/tshare/internal/api"
	"github.com/hackclub/tshare/internal/auth"
	"github.com/hackclub/tshare/internal/client"
	"github.com/hackclub/tshare/internal/logging"
	"github.com/hackclub/tshare/internal/ws"
)

var errTooManyAttempts = errors.New("too many attempts")

// Broker is the subset of the broker client the edge needs.
type Broker interface {
	GetSession(ctx context.Context, id string) (*api.SessionDetails, error)
	DialViewer(ctx context.Context, id string, class auth.Class) (*websocket.Conn, error)
}

type Options struct {
	// RejectUnauthenticated refuses wrong passwords with 401. When false,
	// such viewers are let in read-only.
	RejectUnauthenticated bool
	CookieHashKey         []byte
	CookieBlockKey        []byte
	CookieMaxAge          time.Duration
	AuthRate              float64
	AuthBurst             int
	AllowedOrigins        []string
	Keepalive             ws.Keepalive
	Hasher                auth.Hasher
	Logger                zerolog.Logger
}

type Server struct {
	broker       Broker
	hasher       auth.Hasher
	log          zerolog.Logger
	rejectUnauth bool
	grants       *grants
	limiter      *attemptLimiter
	keepalive    ws.Keepalive
	upgrader     websocket.Upgrader
}

func NewServer(broker Broker, opts Options) *Server {
	if opts.Keepalive == (ws.Keepalive{}) {
		opts.Keepalive = ws.DefaultKeepalive()
	}
	if opts.CookieMaxAge <= 0 {
		opts.CookieMaxAge = 12 * time.Hour
	}
	if opts.Hasher == nil {
		opts.Hasher = auth.NewBcryptHasher(0)
	}
	origins := ws.NewOriginPolicy(opts.AllowedOrigins)
	return &Server{
		broker:       broker,
		hasher:       opts.Hasher,
		log:          opts.Logger.With().Str("module", "edge").Logger(),
		rejectUnauth: opts.RejectUnauthenticated,
		grants:       newGrants(opts.CookieHashKey, opts.CookieBlockKey, opts.CookieMaxAge),
		limiter:      newAttemptLimiter(opts.AuthRate, opts.AuthBurst),
		keepalive:    opts.Keepalive,
		upgrader: websocket.Upgrader{
			CheckOrigin:     origins.Check,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

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
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		api.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/session/{id}", s.handleSession)
	r.Get("/api/auth/{id}", s.handleAuth)
	r.Post("/api/auth/{id}", s.handleAuth)
	r.Get("/ws/session/{id}", s.handleStream)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	details, ok := s.lookup(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	creds := credentials(details)
	api.RespondJSON(w, http.StatusOK, api.PublicSession{
		SessionID:       details.SessionID,
		NeedsAuth:       creds.NeedsAuth(),
		IsGuestReadonly: details.IsGuestReadonly,
		CreatedAt:       details.CreatedAt,
	})
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	password := r.URL.Query().Get("password")
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		var req api.AuthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		password = req.Password
	}

	details, ok := s.lookup(w, r, id)
	if !ok {
		return
	}

	result, err := s.checkPassword(r, id, details, password)
	if errors.Is(err, errTooManyAttempts) {
		api.RespondError(w, http.StatusTooManyRequests, "too many attempts")
		return
	}
	if err != nil {
		s.log.Info().Str("session_id", id).Str("remote", clientIP(r)).Msg("authentication failed")
		api.RespondJSON(w, http.StatusUnauthorized, authResponse(result))
		return
	}
	if result.Authenticated {
		if err := s.grants.issue(w, r, id, result.Class); err != nil {
			s.log.Error().Err(err).Msg("issue grant cookie")
		}
	}
	api.RespondJSON(w, http.StatusOK, authResponse(result))
}

// handleStream resolves the caller's access class, opens the broker stream
// and only then upgrades, so broker failures surface as HTTP errors.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	details, ok := s.lookup(w, r, id)
	if !ok {
		return
	}

	class, granted := s.grants.lookup(r, id)
	if !granted {
		result, err := s.checkPassword(r, id, details, r.URL.Query().Get("password"))
		if errors.Is(err, errTooManyAttempts) {
			api.RespondError(w, http.StatusTooManyRequests, "too many attempts")
			return
		}
		if err != nil {
			api.RespondError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		class = result.Class
	}

	upstream, err := s.broker.DialViewer(r.Context(), id, class)
	if err != nil {
		s.respondBrokerError(w, id, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		upstream.Close()
		s.log.Warn().Err(err).Str("session_id", id).Msg("browser upgrade failed")
		return
	}

	log := s.log.With().Str("session_id", id).Str("class", string(class)).Logger()
	log.Info().Str("remote", clientIP(r)).Msg("viewer relay started")
	if err := pipe(context.Background(), conn, upstream, s.keepalive); err != nil {
		log.Debug().Err(err).Msg("viewer relay ended")
		return
	}
	log.Info().Msg("viewer relay ended")
}

// authenticate applies the edge policy on top of credential resolution. A
// wrong password is an error when unauthenticated viewers are rejected;
// otherwise the viewer is downgraded to read-only.
func (s *Server) authenticate(details *api.SessionDetails, password string) (auth.Result, error) {
	result := auth.Authenticate(s.hasher, credentials(details), password)
	if !result.Authenticated && s.rejectUnauth {
		return result, auth.ErrAuthenticationFailed
	}
	return result, nil
}

// checkPassword authenticates a viewer against the session, charging wrong
// passwords to the caller's attempt budget. Open sessions and requests that
// carry no password are never throttled.
func (s *Server) checkPassword(r *http.Request, id string, details *api.SessionDetails, password string) (auth.Result, error) {
	if password == "" || !credentials(details).NeedsAuth() {
		return s.authenticate(details, password)
	}
	key := id + "|" + clientIP(r)
	if s.limiter.blocked(key) {
		return auth.Result{}, errTooManyAttempts
	}
	result, err := s.authenticate(details, password)
	if !result.Authenticated {
		s.limiter.fail(key)
	}
	return result, err
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request, id string) (*api.SessionDetails, bool) {
	details, err := s.broker.GetSession(r.Context(), id)
	if err != nil {
		s.respondBrokerError(w, id, err)
		return nil, false
	}
	return details, true
}

func (s *Server) respondBrokerError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, client.ErrSessionNotFound):
		api.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, client.ErrUpstreamUnreachable):
		s.log.Warn().Err(err).Str("session_id", id).Msg("broker unreachable")
		api.RespondError(w, http.StatusBadGateway, "broker unreachable")
	default:
		s.log.Error().Err(err).Str("session_id", id).Msg("broker request failed")
		api.RespondError(w, http.StatusBadGateway, "broker error")
	}
}

func credentials(d *api.SessionDetails) auth.Credentials {
	c := auth.Credentials{GuestsReadOnly: d.IsGuestReadonly}
	if d.OwnerPasswordHash != nil {
		c.OwnerHash = *d.OwnerPasswordHash
	}
	if d.GuestPasswordHash != nil {
		c.GuestHash = *d.GuestPasswordHash
	}
	return c
}

func authResponse(r auth.Result) api.AuthResponse {
	return api.AuthResponse{
		Authenticated: r.Authenticated,
		UserType:      string(r.Class),
		IsReadonly:    r.ReadOnly,
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
