// File: internal/infra/api/server.go
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"license-server/internal/config"
	"license-server/internal/domain"
	"license-server/internal/domain/model"
	"license-server/internal/infra/logging"
	"license-server/internal/infra/metrics"
	red "license-server/internal/infra/redis"
	"license-server/internal/infra/security"
	"license-server/internal/usecase"
)

var validate = validator.New()

// Server is the public surface installed clients talk to: activation,
// heartbeat validation, public-key distribution, liveness.
type Server struct {
	actUC   *usecase.ActivationUseCase
	valUC   *usecase.ValidationUseCase
	keys    *security.KeyManager
	limiter *red.RateLimiter // nil disables rate limiting (tests, dev)
	rlCfg   config.RateLimitConfig
	logger  *zerolog.Logger
}

func NewServer(
	actUC *usecase.ActivationUseCase,
	valUC *usecase.ValidationUseCase,
	keys *security.KeyManager,
	limiter *red.RateLimiter,
	rlCfg config.RateLimitConfig,
	logger *zerolog.Logger,
) *Server {
	return &Server{actUC: actUC, valUC: valUC, keys: keys, limiter: limiter, rlCfg: rlCfg, logger: logger}
}

// Router assembles the public chi router with the standard middleware
// chain applied to every route.
func (s *Server) Router(timeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.logger), RequestLog(s.logger), Timeout(timeout))

	r.Post("/api/v1/activate", s.handleActivate)
	r.Post("/api/v1/validate", s.handleValidate)
	r.Get("/api/v1/public-key", s.handlePublicKey)
	r.Get("/api/v1/health", s.handleHealth)
	return r
}

type activateRequest struct {
	LicenseKey string `json:"license_key" validate:"required,min=16,max=19"`
	HardwareID string `json:"hardware_id" validate:"required,max=64"`
}

func (a *activateRequest) Bind(_ *http.Request) error { return validate.Struct(a) }

type validateRequest struct {
	LicenseKey string `json:"license_key" validate:"required,min=16,max=19"`
	HardwareID string `json:"hardware_id" validate:"required,max=64"`
	Kind       string `json:"kind,omitempty" validate:"omitempty,oneof=heartbeat check"`
}

func (v *validateRequest) Bind(_ *http.Request) error { return validate.Struct(v) }

type licenseResponse struct {
	Valid   bool                    `json:"valid"`
	Status  string                  `json:"status"`
	License *security.SignedLicense `json:"license"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Valid bool      `json:"valid"`
	Error errorBody `json:"error"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	req := &activateRequest{}
	if err := render.Bind(r, req); err != nil {
		renderError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	ctx := logging.WithLicenseKey(r.Context(), req.LicenseKey)
	ip := clientIP(r)
	ctx = logging.WithClientIP(ctx, ip)

	if !s.allow(ctx, ip) {
		renderError(w, r, http.StatusTooManyRequests, "rate_limited", domain.ErrRateLimited.Error())
		return
	}

	signed, err := s.actUC.Activate(ctx, req.LicenseKey, req.HardwareID, ip, r.UserAgent())
	if err != nil {
		s.renderDomainError(w, r.WithContext(ctx), err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, licenseResponse{Valid: true, Status: "active", License: signed})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	req := &validateRequest{}
	if err := render.Bind(r, req); err != nil {
		renderError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	ctx := logging.WithLicenseKey(r.Context(), req.LicenseKey)
	ip := clientIP(r)
	ctx = logging.WithClientIP(ctx, ip)

	if !s.allow(ctx, ip) {
		renderError(w, r, http.StatusTooManyRequests, "rate_limited", domain.ErrRateLimited.Error())
		return
	}

	kind := model.ValidationType(req.Kind)
	if kind == "" {
		kind = model.ValidationTypeHeartbeat
	}
	signed, err := s.valUC.Validate(ctx, req.LicenseKey, req.HardwareID, ip, r.UserAgent(), kind)
	if err != nil {
		s.renderDomainError(w, r.WithContext(ctx), err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, licenseResponse{Valid: true, Status: "active", License: signed})
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"public_key": s.keys.PublicKeyPEM(),
		"key_id":     s.keys.KeyID(),
		"algorithm":  "RSA-PSS",
		"hash":       "SHA-256",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status":    "healthy",
		"service":   "license-server",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// allow consults the per-IP fixed window. Redis trouble fails open: a
// broken limiter must not take licensing down with it.
func (s *Server) allow(ctx context.Context, ip string) bool {
	if s.limiter == nil {
		return true
	}
	ok, err := s.limiter.Allow(ctx, red.AttemptKey(ip), s.rlCfg.Attempts, s.rlCfg.Window)
	if err != nil {
		logging.With(ctx, s.logger).Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	if !ok {
		metrics.IncRateLimited()
	}
	return ok
}

func (s *Server) renderDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code, status := classify(err)
	if status == http.StatusInternalServerError {
		logging.With(r.Context(), s.logger).Error().Err(err).Msg("request failed")
		// Never leak internals to the caller.
		renderError(w, r, status, code, domain.ErrInternal.Error())
		return
	}
	renderError(w, r, status, code, err.Error())
}

// classify maps domain errors onto wire codes. All but internal_failure
// are definitive; clients must not blindly retry them.
func classify(err error) (string, int) {
	switch {
	case errors.Is(err, domain.ErrLicenseNotFound), errors.Is(err, domain.ErrNotFound):
		return "not_found", http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyActivatedElsewhere):
		return "already_activated_elsewhere", http.StatusConflict
	case errors.Is(err, domain.ErrHardwareMismatch):
		return "hardware_mismatch", http.StatusConflict
	case errors.Is(err, domain.ErrLicenseSuspended):
		return "suspended", http.StatusForbidden
	case errors.Is(err, domain.ErrLicenseRevoked):
		return "revoked", http.StatusForbidden
	case errors.Is(err, domain.ErrLicenseExpired):
		return "expired", http.StatusForbidden
	case errors.Is(err, domain.ErrNotYetActivated):
		return "not_yet_activated", http.StatusForbidden
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited", http.StatusTooManyRequests
	case errors.Is(err, domain.ErrInvalidArgument):
		return "bad_request", http.StatusBadRequest
	default:
		return "internal_failure", http.StatusInternalServerError
	}
}

func renderError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Valid: false, Error: errorBody{Code: code, Message: msg}})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
