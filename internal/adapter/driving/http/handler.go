// Package httphandler is the JSON API driving adapter served by `serve`.
package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/claude-accounts/internal/application"
	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
	"github.com/ericfisherdev/claude-accounts/internal/domain/port/driven"
	"github.com/ericfisherdev/claude-accounts/internal/domain/port/driving"
)

// maxBodyBytes bounds request bodies; an import of a few hundred accounts fits easily.
const maxBodyBytes = 1 << 20

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) application.HealthReport
}

// Sweeper runs an on-demand refresh pass over expiring accounts.
type Sweeper interface {
	SweepNow(ctx context.Context) (application.SweepResult, error)
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	vault    driving.AccountVault
	health   HealthChecker
	sweeper  Sweeper // nil when the keeper is disabled
	launcher string
	logger   *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. launcher is the
// command used in generated aliases and launch responses.
func NewHandler(
	vault driving.AccountVault,
	health HealthChecker,
	sweeper Sweeper,
	launcher string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		vault:    vault,
		health:   health,
		sweeper:  sweeper,
		launcher: launcher,
		logger:   logger,
	}
}

// NewRouter creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. gatherer serves /metrics.
func NewRouter(h *Handler, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(loggingMiddleware(logger))
	// Recovery inside logging so panics are logged with their final status.
	r.Use(recoveryMiddleware(logger))

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireRequestedWith)

		r.Get("/health", h.Health)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.AddAccount)
			r.Route("/{name}", func(r chi.Router) {
				r.Delete("/", h.DeleteAccount)
				r.Get("/status", h.GetStatus)
				r.Post("/capture", h.Capture)
				r.Post("/refresh", h.Refresh)
				r.Post("/launch", h.Launch)
			})
		})

		r.Get("/aliases", h.ListAliases)
		r.Post("/export", h.Export)
		r.Post("/import", h.Import)
		r.Post("/keeper/sweep", h.Sweep)
	})

	return r
}

// Health reports store and key availability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())

	resp := HealthResponse{
		Status: "ok",
		Store:  report.Store,
		Key:    report.Key,
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if !report.Healthy() {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

// ListAccounts returns every account, masked.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.vault.List(r.Context())
	if err != nil {
		h.writeVaultError(w, "list accounts", "", err)
		return
	}

	resp := make([]AccountResponse, 0, len(summaries))
	for _, s := range summaries {
		resp = append(resp, toAccountResponse(s))
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddAccount creates an api_key or uncaptured oauth account.
func (h *Handler) AddAccount(w http.ResponseWriter, r *http.Request) {
	var req AddAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	kind := model.Kind(req.Kind)
	if req.Kind == "" {
		kind = model.KindAPIKey
		if req.APIKey == "" {
			kind = model.KindOAuth
		}
	}

	summary, err := h.vault.Add(r.Context(), req.Name, kind, req.APIKey)
	if err != nil {
		h.writeVaultError(w, "add account", req.Name, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountResponse(*summary))
}

// DeleteAccount permanently removes an account.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.vault.Delete(r.Context(), name); err != nil {
		h.writeVaultError(w, "delete account", name, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetStatus returns one account with its masked credential preview.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	summary, err := h.vault.Status(r.Context(), name)
	if err != nil {
		h.writeVaultError(w, "get status", name, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(*summary))
}

// Capture imports the current session of the external tool into the account.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	summary, err := h.vault.Capture(r.Context(), name)
	if err != nil {
		h.writeVaultError(w, "capture", name, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(*summary))
}

// Refresh exchanges the account's refresh token. A failed credentials file
// sync is reported as a warning on an otherwise successful response.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	summary, err := h.vault.Refresh(r.Context(), name)
	if err != nil && !application.IsSyncError(err) {
		h.writeVaultError(w, "refresh", name, err)
		return
	}

	resp := toAccountResponse(*summary)
	if err != nil {
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Launch prepares the account for launching, refreshing an expired token, and
// returns the variable names and command to run. Values are never sent.
func (h *Handler) Launch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	env, err := h.vault.PrepareLaunchEnv(r.Context(), name)
	if err != nil {
		h.writeVaultError(w, "launch", name, err)
		return
	}

	normalized, _ := application.NormalizeName(name)
	writeJSON(w, http.StatusOK, LaunchResponse{
		Account: normalized,
		Env:     env.Keys(),
		Command: h.launcher + " launch " + normalized,
	})
}

// ListAliases returns the shell aliases for every account.
func (h *Handler) ListAliases(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.vault.List(r.Context())
	if err != nil {
		h.writeVaultError(w, "list aliases", "", err)
		return
	}

	aliases := application.Aliases(summaries, h.launcher)
	resp := make([]AliasResponse, 0, len(aliases))
	for _, a := range aliases {
		resp = append(resp, AliasResponse{Alias: a.Name, Command: a.Command})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Export returns every account with secrets in clear. The body must carry
// {"confirm":"export"}.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Confirm != "export" {
		writeError(w, http.StatusBadRequest, `export requires {"confirm":"export"}`)
		return
	}

	records, err := h.vault.Export(r.Context())
	if err != nil {
		h.writeVaultError(w, "export", "", err)
		return
	}

	h.logger.Warn("export served over http", "remote_addr", r.RemoteAddr, "accounts", len(records))
	writeJSON(w, http.StatusOK, records)
}

// Import adds the posted records, skipping names that already exist.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	var records []model.ExportRecord
	if !decodeBody(w, r, &records) {
		return
	}

	added, err := h.vault.Import(r.Context(), records)
	if err != nil {
		h.writeVaultError(w, "import", "", err)
		return
	}

	writeJSON(w, http.StatusOK, ImportResponse{Added: added, Total: len(records)})
}

// Sweep triggers an immediate keeper pass.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "keeper disabled")
		return
	}

	res, err := h.sweeper.SweepNow(r.Context())
	if err != nil {
		h.logger.Error("keeper sweep failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "keeper unavailable")
		return
	}

	writeJSON(w, http.StatusOK, SweepResponse(res))
}

// decodeBody parses a bounded JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// errorStatuses maps vault sentinels to HTTP statuses. Order matters only for
// errors wrapping several sentinels.
var errorStatuses = []struct {
	err    error
	status int
}{
	{driven.ErrNotFound, http.StatusNotFound},
	{driven.ErrDuplicateName, http.StatusConflict},
	{driven.ErrInvalidName, http.StatusBadRequest},
	{driven.ErrInvalidSecret, http.StatusBadRequest},
	{driven.ErrWrongKind, http.StatusBadRequest},
	{driven.ErrNeedsLogin, http.StatusConflict},
	{driven.ErrRefreshRejected, http.StatusConflict},
	{driven.ErrSourceFileMissing, http.StatusUnprocessableEntity},
	{driven.ErrSourceFileMalformed, http.StatusUnprocessableEntity},
	{driven.ErrNetwork, http.StatusBadGateway},
	{driven.ErrKeyUnavailable, http.StatusServiceUnavailable},
	{driven.ErrDecryptionFailed, http.StatusInternalServerError},
}

// writeVaultError maps a vault error onto a status. Client errors echo the
// error text, which never contains secrets; server errors are logged and
// answered generically.
func (h *Handler) writeVaultError(w http.ResponseWriter, op, name string, err error) {
	status := http.StatusInternalServerError
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			status = e.status
			break
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("vault operation failed", "op", op, "account", name, "error", err)
		if status == http.StatusInternalServerError {
			writeError(w, status, "internal server error")
			return
		}
	}
	writeError(w, status, err.Error())
}
