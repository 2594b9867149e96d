package web

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"license-server/internal/usecase"
)

// Server is the admin API the CRUD layer talks to. It only creates
// licenses and triggers explicit status transitions; hardware binding and
// signatures are reachable solely through the audited reset hook.
type Server struct {
	licUC  *usecase.LicenseAdminUseCase
	cliUC  *usecase.ClientUseCase
	apiKey string
	log    *zerolog.Logger
}

func NewServer(
	licUC *usecase.LicenseAdminUseCase,
	cliUC *usecase.ClientUseCase,
	apiKey string,
	logger *zerolog.Logger,
) *Server {
	return &Server{licUC: licUC, cliUC: cliUC, apiKey: apiKey, log: logger}
}

// RegisterRoutes sets up the routing for the admin API.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	licensesRouter := s.authMiddleware(s.licensesRouter())
	mux.Handle("/admin/v1/licenses", licensesRouter)
	mux.Handle("/admin/v1/licenses/", licensesRouter)

	clientsRouter := s.authMiddleware(s.clientsRouter())
	mux.Handle("/admin/v1/clients", clientsRouter)
	mux.Handle("/admin/v1/clients/", clientsRouter)

	mux.Handle("/admin/v1/stats", s.authMiddleware(statsHandler(s.licUC)))
	mux.Handle("/metrics", promhttp.Handler())
}

// authMiddleware provides simple Bearer token authentication for the admin API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("Admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// licensesRouter dispatches /admin/v1/licenses[/...] by shape:
// "", "{id}", "{id}/suspend|reactivate|revoke|reset-hardware", "{id}/validations".
func (s *Server) licensesRouter() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/admin/v1/licenses")
		path = strings.Trim(path, "/")

		if path == "" {
			switch r.Method {
			case http.MethodGet:
				licensesListHandler(s.licUC)(w, r)
			case http.MethodPost:
				licenseCreateHandler(s.licUC)(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
			return
		}

		parts := strings.SplitN(path, "/", 2)
		id := parts[0]
		if len(parts) == 1 {
			if r.Method != http.MethodGet {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			licenseGetHandler(s.licUC, id)(w, r)
			return
		}

		switch parts[1] {
		case "suspend", "reactivate", "revoke", "reset-hardware":
			if r.Method != http.MethodPost {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			licenseTransitionHandler(s.licUC, id, parts[1])(w, r)
		case "validations":
			if r.Method != http.MethodGet {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			validationsListHandler(s.licUC, id)(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func (s *Server) clientsRouter() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/admin/v1/clients")
		path = strings.Trim(path, "/")

		if path == "" {
			switch r.Method {
			case http.MethodGet:
				clientsListHandler(s.cliUC)(w, r)
			case http.MethodPost:
				clientCreateHandler(s.cliUC)(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
			return
		}

		parts := strings.SplitN(path, "/", 2)
		id := parts[0]
		if len(parts) == 1 {
			if r.Method != http.MethodGet {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			clientGetHandler(s.cliUC, id)(w, r)
			return
		}
		if parts[1] == "deactivate" && r.Method == http.MethodPost {
			clientDeactivateHandler(s.cliUC, id)(w, r)
			return
		}
		http.NotFound(w, r)
	})
}
