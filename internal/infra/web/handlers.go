package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"license-server/internal/domain"
	"license-server/internal/domain/model"
	"license-server/internal/usecase"
)

// A struct to define the expected JSON request body for creating a license.
type licenseCreateRequest struct {
	ClientID  string     `json:"client_id"`
	Plan      string     `json:"plan"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"` // omit for non-expiring
	IsTrial   bool       `json:"is_trial,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

func licenseCreateHandler(licUC *usecase.LicenseAdminUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req licenseCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		plan := model.LicensePlan(req.Plan)
		if !plan.IsValid() {
			http.Error(w, "Unknown plan", http.StatusBadRequest)
			return
		}

		lic, err := licUC.CreateLicense(ctx, req.ClientID, plan, req.ExpiresAt, req.IsTrial, req.Notes)
		if err != nil {
			writeAdminError(w, err, "Failed to create license")
			return
		}
		writeJSON(w, http.StatusCreated, licenseView(lic))
	}
}

func licensesListHandler(licUC *usecase.LicenseAdminUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 50
		}
		if offset < 0 {
			offset = 0
		}

		lics, err := licUC.List(r.Context(), offset, limit)
		if err != nil {
			http.Error(w, "Failed to list licenses", http.StatusInternalServerError)
			return
		}
		views := make([]map[string]interface{}, 0, len(lics))
		for _, l := range lics {
			views = append(views, licenseView(l))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func licenseGetHandler(licUC *usecase.LicenseAdminUseCase, id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lic, err := licUC.Get(r.Context(), id)
		if err != nil {
			writeAdminError(w, err, "Failed to get license")
			return
		}
		writeJSON(w, http.StatusOK, licenseView(lic))
	}
}

func licenseTransitionHandler(licUC *usecase.LicenseAdminUseCase, id, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var (
			lic *model.License
			err error
		)
		switch action {
		case "suspend":
			lic, err = licUC.Suspend(ctx, id)
		case "reactivate":
			lic, err = licUC.Reactivate(ctx, id)
		case "revoke":
			lic, err = licUC.Revoke(ctx, id)
		case "reset-hardware":
			lic, err = licUC.ResetHardware(ctx, id, r.RemoteAddr)
		}
		if err != nil {
			writeAdminError(w, err, "Transition failed")
			return
		}
		writeJSON(w, http.StatusOK, licenseView(lic))
	}
}

func validationsListHandler(licUC *usecase.LicenseAdminUseCase, id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		recs, err := licUC.ListValidations(r.Context(), id, limit)
		if err != nil {
			writeAdminError(w, err, "Failed to list validations")
			return
		}
		failures, err := licUC.CountRecentFailures(r.Context(), id)
		if err != nil {
			writeAdminError(w, err, "Failed to count failures")
			return
		}
		views := make([]map[string]interface{}, 0, len(recs))
		for _, rec := range recs {
			views = append(views, map[string]interface{}{
				"id":              rec.ID,
				"license_id":      rec.LicenseID,
				"validation_type": rec.Type,
				"success":         rec.Success,
				"error_message":   rec.ErrorMessage,
				"ip_address":      rec.IPAddress,
				"hardware_id":     rec.HardwareID,
				"user_agent":      rec.UserAgent,
				"created_at":      rec.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"records":           views,
			"failures_last_24h": failures,
		})
	}
}

// statsHandler reports stored-status counts and refreshes the gauges.
func statsHandler(licUC *usecase.LicenseAdminUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := licUC.RefreshStatusMetrics(r.Context())
		if err != nil {
			http.Error(w, "Failed to get stats", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"licenses_by_status": counts})
	}
}

type clientCreateRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Document string `json:"document"`
}

func clientCreateHandler(cliUC *usecase.ClientUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req clientCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		c, err := cliUC.Create(r.Context(), req.Name, req.Email, req.Document)
		if err != nil {
			writeAdminError(w, err, "Failed to create client")
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func clientsListHandler(cliUC *usecase.ClientUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		cs, err := cliUC.List(r.Context(), offset, limit)
		if err != nil {
			http.Error(w, "Failed to list clients", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, cs)
	}
}

func clientGetHandler(cliUC *usecase.ClientUseCase, id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := cliUC.Get(r.Context(), id)
		if err != nil {
			writeAdminError(w, err, "Failed to get client")
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func clientDeactivateHandler(cliUC *usecase.ClientUseCase, id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := cliUC.Deactivate(r.Context(), id)
		if err != nil {
			writeAdminError(w, err, "Failed to deactivate client")
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// licenseView shapes a license row for admin consumption. The effective
// status is reported alongside the stored one so the dashboard shows
// expiry without a background sweep ever touching the row.
func licenseView(l *model.License) map[string]interface{} {
	return map[string]interface{}{
		"id":                l.ID,
		"license_key":       l.LicenseKey,
		"client_id":         l.ClientID,
		"plan":              l.Plan,
		"features":          l.Features,
		"limits":            l.Limits,
		"status":            l.Status,
		"effective_status":  l.EffectiveStatus(time.Now().UTC()),
		"hardware_id":       l.HardwareID,
		"is_trial":          l.IsTrial,
		"issued_at":         l.IssuedAt,
		"activated_at":      l.ActivatedAt,
		"expires_at":        l.ExpiresAt,
		"last_validated_at": l.LastValidatedAt,
		"last_heartbeat_at": l.LastHeartbeatAt,
		"notes":             l.Notes,
		"created_at":        l.CreatedAt,
	}
}

func writeAdminError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrLicenseRevoked):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
