package login

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"latchkey/go-backend/internal/identity"
	"latchkey/go-backend/internal/platform/privacylog"
	"latchkey/go-backend/internal/platform/ratelimiter"
	"latchkey/go-backend/internal/trust"
)

const DefaultAddr = "127.0.0.1:8970"

// Server exposes the login handshake over HTTP: GET /login hands a signed
// token to a trusted callback via redirect, POST /login/consent records
// trust, POST /verify checks an inbound token.
type Server struct {
	httpServer *http.Server
	service    *Service
	limiter    *ratelimiter.MapLimiter
	logger     *slog.Logger
}

func NewServer(addr string, svc *Service, limiter *ratelimiter.MapLimiter, logger *slog.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		service: svc,
		limiter: limiter,
		logger:  logger,
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/login/consent", s.handleConsent)
	mux.HandleFunc("/verify", s.handleVerify)
	if svc.Metrics != nil {
		mux.Handle("/metrics", svc.Metrics.Handler())
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.admit(w, r) {
		return
	}

	callback := r.URL.Query().Get("callback")
	customData := r.URL.Query().Get("payload")

	result, err := s.service.Login(callback, customData)
	if err != nil {
		s.writeLoginError(w, r, err)
		return
	}
	if result.NeedsConsent {
		s.logger.Info("login needs consent", privacylog.SanitizeArgs("callback", result.Callback)...)
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "consent_required",
			"callback": result.Callback,
		})
		return
	}

	s.logger.Info("login token issued", privacylog.SanitizeArgs(
		"callback", result.Callback,
		"remote_addr", r.RemoteAddr,
	)...)
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Callback string `json:"callback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	key, err := s.service.Consent(req.Callback)
	if err != nil {
		s.writeLoginError(w, r, err)
		return
	}
	s.logger.Info("callback trusted", privacylog.SanitizeArgs("callback", key)...)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "trusted",
		"callback": key,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.admit(w, r) {
		return
	}
	var req struct {
		Token  string `json:"token"`
		PubKey string `json:"pubKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	claims, err := s.service.VerifyToken(req.Token, req.PubKey)
	if err != nil {
		code := verificationLabel(err)
		if errors.Is(err, identity.ErrInvalidKeyMaterial) {
			code = "bad_key"
		}
		s.logger.Info("token rejected", "reason", code)
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"valid": false,
			"error": code,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":  true,
		"claims": claims,
	})
}

func (s *Server) writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, trust.ErrCallbackInvalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrNoIdentity):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no identity installed"})
	default:
		s.logger.Error("login request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// admit applies the per-client limiter keyed by remote host.
func (s *Server) admit(w http.ResponseWriter, r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if s.limiter.Allow(host, time.Now()) {
		return true
	}
	if s.service.Metrics != nil {
		s.service.Metrics.Throttled.Inc()
	}
	writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
