package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"chatcore/internal/app"
	"chatcore/internal/ratelimit"
	"chatcore/internal/servicetoken"
	"chatcore/internal/usertoken"
	"chatcore/internal/util"
	"chatcore/pkg/domain"
	"chatcore/pkg/store"
	"chatcore/pkg/webhook"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Webhook        *webhook.Verifier
	UserTokens     *usertoken.Verifier
	ServiceTokens  *servicetoken.Verifier
	Limiter        *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes the backend state layer over HTTP.
type Server struct {
	app           *app.App
	webhook       *webhook.Verifier
	userTokens    *usertoken.Verifier
	serviceTokens *servicetoken.Verifier
	limiter       *ratelimit.FixedWindowLimiter
	proxies       *util.TrustedProxies
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		webhook:       cfg.Webhook,
		userTokens:    cfg.UserTokens,
		serviceTokens: cfg.ServiceTokens,
		limiter:       cfg.Limiter,
		proxies:       cfg.TrustedProxies,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog("chatcore", s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("POST /clerk-users-webhook", s.withRateLimit(http.HandlerFunc(s.handleWebhook)))

	s.mux.Handle("GET /me", s.withIdentity(s.handleMe))
	s.mux.Handle("POST /credits/grant", s.withRateLimit(s.withUser(s.handleGrantCredits)))
	s.mux.Handle("GET /models", s.withUser(s.handleListModels))

	s.mux.Handle("POST /conversations", s.withUser(s.handleCreateConversation))
	s.mux.Handle("GET /conversations", s.withUser(s.handleListConversations))
	s.mux.Handle("POST /conversations/{id}/messages", s.withUser(s.handleAppendMessage))
	s.mux.Handle("GET /conversations/{id}/messages", s.withUser(s.handleListMessages))
	s.mux.Handle("POST /messages/{id}/status", s.withUser(s.handleMessageStatus))
	s.mux.Handle("POST /messages/{id}/usage", s.withUser(s.handleMessageUsage))

	s.mux.Handle("POST /images", s.withRateLimit(s.withUser(s.handleEnqueueImage)))
	s.mux.Handle("GET /images", s.withUser(s.handleListImages))
	s.mux.Handle("GET /images/{id}", s.withUser(s.handleGetImage))
	s.mux.Handle("GET /files/{key...}", s.withUser(s.handleFileURL))

	s.mux.Handle("POST /internal/models/seed", s.withService(s.handleSeedModels))
	s.mux.Handle("POST /internal/jobs/{id}/claim", s.withService(s.handleClaimJob))
	s.mux.Handle("POST /internal/jobs/{id}/complete", s.withService(s.handleCompleteJob))
	s.mux.Handle("POST /internal/jobs/{id}/fail", s.withService(s.handleFailJob))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withRateLimit rejects callers over quota. Without a limiter it passes
// through, which keeps tests and dev setups redis-free.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(util.ClientIP(r, s.proxies)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identityHandler receives the verified external identity, which may not be
// provisioned as a user yet.
type identityHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withIdentity(next identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		externalID, err := s.userTokens.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, externalID)
	})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

// withUser requires a provisioned user behind the verified identity.
func (s *Server) withUser(next userHandler) http.Handler {
	return s.withIdentity(func(w http.ResponseWriter, r *http.Request, externalID string) {
		user, found, err := s.app.GetCurrentUser(externalID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !found {
			writeError(w, http.StatusUnauthorized, "unknown user")
			return
		}
		next(w, r, user)
	})
}

// withService authenticates internal callers (job workers, admin tooling)
// via short-lived service JWTs.
func (s *Server) withService(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.serviceTokens == nil {
			writeError(w, http.StatusInternalServerError, "service token verifier not configured")
			return
		}
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.serviceTokens.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	return servicetoken.BearerToken(r)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps the error taxonomy onto HTTP statuses. Anything not in
// the taxonomy is treated as a caller mistake rather than leaking internals.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, store.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "invalid state transition")
	case errors.Is(err, store.ErrAlreadyClaimed):
		writeError(w, http.StatusConflict, "job already claimed")
	case errors.Is(err, app.ErrStorageNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
