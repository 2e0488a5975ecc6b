package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// AccountResponse is the masked JSON representation of an account.
type AccountResponse struct {
	Name             string `json:"name"`
	Kind             string `json:"auth_type"`
	Status           string `json:"status"`
	ExpiresAt        string `json:"expires_at,omitempty"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
	HasRefresh       bool   `json:"has_refresh"`
	CredentialID     string `json:"credential_id,omitempty"`
	CreatedAt        string `json:"created_at"`
	LastUsedAt       string `json:"last_used_at,omitempty"`

	// Warning reports a non-fatal problem such as a failed credentials file sync.
	Warning string `json:"warning,omitempty"`
}

// AddAccountRequest is the JSON body for the add account endpoint.
type AddAccountRequest struct {
	Name   string `json:"name"`
	Kind   string `json:"auth_type"`
	APIKey string `json:"api_key"`
}

// LaunchResponse describes a prepared launch. Secret values are never included.
type LaunchResponse struct {
	Account string   `json:"account"`
	Env     []string `json:"env"`
	Command string   `json:"command"`
}

// ExportRequest is the JSON body for the export endpoint.
type ExportRequest struct {
	Confirm string `json:"confirm"`
}

// ImportResponse reports how many accounts an import added.
type ImportResponse struct {
	Added int `json:"added"`
	Total int `json:"total"`
}

// AliasResponse is one generated shell alias.
type AliasResponse struct {
	Alias   string `json:"alias"`
	Command string `json:"command"`
}

// SweepResponse reports the outcome of a manual keeper sweep.
type SweepResponse struct {
	Checked   int `json:"checked"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Key    string `json:"key"`
	Time   string `json:"time"`
}

// toAccountResponse converts a domain AccountSummary to its JSON representation.
func toAccountResponse(s model.AccountSummary) AccountResponse {
	resp := AccountResponse{
		Name:             s.Name,
		Kind:             string(s.Kind),
		Status:           string(s.Status),
		ExpiresInSeconds: int64(s.ExpiresIn / time.Second),
		HasRefresh:       s.HasRefresh,
		CredentialID:     s.CredentialID,
		CreatedAt:        s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !s.ExpiresAt.IsZero() {
		resp.ExpiresAt = s.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if s.LastUsedAt != nil {
		resp.LastUsedAt = s.LastUsedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
