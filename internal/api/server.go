// Package api is the onboarding backend-for-frontend. It exposes the
// registration flow over JSON and keeps the state on the server so the
// client only holds a signed registration token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chefsync/onboarding/internal/apperr"
	"github.com/chefsync/onboarding/internal/config"
	"github.com/chefsync/onboarding/internal/flow"
	"github.com/chefsync/onboarding/internal/model"
	"github.com/chefsync/onboarding/internal/signing"
)

// TokenHeader carries the registration token on every registration call.
const TokenHeader = "X-Registration-Token"

// Server exposes HTTP endpoints for the registration flow.
type Server struct {
	cfg     *config.Config
	flow    *flow.Controller
	reset   *flow.PasswordReset
	catalog flow.Catalog
	signer  *signing.Signer
	log     *zap.Logger
	limiter *ipLimiter
	now     func() time.Time
	server  *http.Server
	once    sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, ctrl *flow.Controller, reset *flow.PasswordReset, catalog flow.Catalog, signer *signing.Signer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		flow:    ctrl,
		reset:   reset,
		catalog: catalog,
		signer:  signer,
		log:     log,
		limiter: newIPLimiter(cfg.RateLimit, cfg.RateBurst),
		now:     time.Now,
	}
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/document-types", s.handleDocumentTypes)
	mux.HandleFunc("/registrations", s.handleRegistrations)
	mux.HandleFunc("/registrations/", s.handleRegistrationRoute)
	mux.HandleFunc("/password-reset/", s.handlePasswordReset)
	var h http.Handler = mux
	h = rateLimitMiddleware(s.limiter, s.log, h)
	h = loggingMiddleware(s.log, h)
	return corsMiddleware(s.cfg.AllowedOrigins, h)
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.cfg.Address,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info("api listening", zap.String("address", s.cfg.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDocumentTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	role := model.Role(r.URL.Query().Get("role"))
	if !role.Valid() {
		s.respondError(w, apperr.Validation("", map[string][]string{"role": {"Select a valid role."}}))
		return
	}
	types := []model.DocumentType{}
	if role.RequiresDocuments() {
		list, err := s.catalog.ListDocumentTypes(r.Context(), role)
		if err != nil {
			s.respondError(w, err)
			return
		}
		types = list
	}
	respondJSON(w, http.StatusOK, map[string]any{"role": role, "document_types": types})
}

func (s *Server) handleRegistrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body struct {
		FirstName string `json:"first_name"`
		Email     string `json:"email"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.respondError(w, err)
		return
	}
	reg, err := s.flow.Start(r.Context(), body.FirstName, body.Email)
	if err != nil {
		s.respondError(w, err)
		return
	}
	view := s.view(reg)
	view.Token = s.signer.Issue(reg.ID, s.cfg.SessionTTL)
	respondJSON(w, http.StatusCreated, view)
}

func (s *Server) handleRegistrationRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/registrations/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if !s.authorize(w, r, id) {
		return
	}
	switch {
	case len(parts) == 1:
		s.handleRegistration(w, r, id)
	case len(parts) == 3 && parts[1] == "otp" && parts[2] == "verify":
		s.handleVerify(w, r, id)
	case len(parts) == 3 && parts[1] == "otp" && parts[2] == "resend":
		s.handleResend(w, r, id)
	case len(parts) == 2 && parts[1] == "role":
		s.handleRole(w, r, id)
	case len(parts) == 2 && parts[1] == "documents":
		s.handleAddDocuments(w, r, id)
	case len(parts) == 3 && parts[1] == "documents" && parts[2] == "continue":
		s.handleContinue(w, r, id)
	case len(parts) == 3 && parts[1] == "documents":
		s.handleRemoveDocument(w, r, id, parts[2])
	case len(parts) == 4 && parts[1] == "documents" && parts[3] == "retry":
		s.handleRetry(w, r, id, parts[2])
	case len(parts) == 2 && parts[1] == "back":
		s.handleBack(w, r, id)
	case len(parts) == 2 && parts[1] == "complete":
		s.handleComplete(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

// authorize checks that the registration token was issued for id.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, id string) bool {
	token := r.Header.Get(TokenHeader)
	if token == "" {
		respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "Missing registration token.", Kind: "unauthorized"})
		return false
	}
	tokenID, err := s.signer.Verify(token)
	if err != nil {
		msg := "Invalid registration token."
		if errors.Is(err, signing.ErrExpired) {
			msg = "Your registration session has expired. Please start again."
		}
		respondJSON(w, http.StatusUnauthorized, errorResponse{Error: msg, Kind: "unauthorized"})
		return false
	}
	if tokenID != id {
		respondJSON(w, http.StatusForbidden, errorResponse{Error: "This token belongs to another registration.", Kind: "forbidden"})
		return false
	}
	return true
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	switch strings.TrimPrefix(r.URL.Path, "/password-reset/") {
	case "request":
		var body struct {
			Email string `json:"email"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			s.respondError(w, err)
			return
		}
		if err := s.reset.Request(r.Context(), body.Email); err != nil {
			s.respondError(w, err)
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{"message": "If an account exists for this email, a reset code has been sent."})
	case "confirm":
		var body struct {
			Email           string `json:"email"`
			OTP             string `json:"otp"`
			NewPassword     string `json:"new_password"`
			ConfirmPassword string `json:"confirm_password"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			s.respondError(w, err)
			return
		}
		if err := s.reset.Confirm(r.Context(), body.Email, body.OTP, body.NewPassword, body.ConfirmPassword); err != nil {
			s.respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"message": "Your password has been reset. You can now sign in."})
	default:
		http.NotFound(w, r)
	}
}

type errorResponse struct {
	Error      string              `json:"error"`
	Kind       string              `json:"kind"`
	Fields     map[string][]string `json:"fields,omitempty"`
	RetryAfter int                 `json:"retry_after,omitempty"`
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	respondJSON(w, status, errorResponse{
		Error:  apperr.Message(err),
		Kind:   apperr.Kind(err),
		Fields: apperr.Fields(err),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("Invalid request body.", nil)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter) {
	respondJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Kind: "method_not_allowed"})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}
