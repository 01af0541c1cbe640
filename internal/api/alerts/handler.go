// Package alerts provides HTTP handlers for the alert lifecycle.
package alerts

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cinderlog/cinder/internal/alerting"
	"github.com/cinderlog/cinder/internal/models"
)

// Response helpers (local to avoid import cycle with api package)

type errorResponse struct {
	Error errorBody `json:"error"`
}
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeConflict         = "CONFLICT"
	errCodeInternalError    = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

// Handler handles alert endpoints. Alerts are machine-opened by the
// evaluator; these endpoints only read them and drive the operator
// lifecycle.
type Handler struct {
	store     *alerting.Store
	evaluator *alerting.Evaluator // nil when alerting is disabled
}

// NewHandler creates a new alerts handler.
func NewHandler(store *alerting.Store, evaluator *alerting.Evaluator) *Handler {
	return &Handler{store: store, evaluator: evaluator}
}

// Request types
type AckRequest struct {
	By string `json:"by"`
}

type ResolveRequest struct {
	By    string `json:"by"`
	Notes string `json:"notes"`
}

// SweepResponse reports alert counts after a manual sweep.
type SweepResponse struct {
	Status string         `json:"status"`
	Counts map[string]int `json:"counts"`
}

// List handles GET /api/v1/alerts - snapshot of alerts ordered by last
// occurrence, optionally filtered by status and severity.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status, err := parseStatusParam(q.Get("status"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	severity, err := parseSeverityParam(q.Get("severity"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	alerts := h.store.List(status, severity)
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	jsonOK(w, alerts)
}

// GetByID handles GET /api/v1/alerts/{id}.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "alert id required")
		return
	}

	alert, err := h.store.Get(id)
	if err != nil {
		if errors.Is(err, alerting.ErrAlertNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "alert not found")
			return
		}
		log.Printf("get alert error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	jsonOK(w, alert)
}

// Acknowledge handles POST /api/v1/alerts/{id}/ack. Acknowledging twice
// is idempotent; acknowledging a resolved alert is a conflict.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "alert id required")
		return
	}

	var req AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.By) == "" {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "by is required")
		return
	}

	alert, err := h.store.Acknowledge(id, req.By)
	if err != nil {
		switch {
		case errors.Is(err, alerting.ErrAlertNotFound):
			jsonError(w, http.StatusNotFound, errCodeNotFound, "alert not found")
		case errors.Is(err, alerting.ErrAlertResolved):
			jsonError(w, http.StatusConflict, errCodeConflict, "alert already resolved")
		default:
			log.Printf("acknowledge alert error: %v", err)
			jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		}
		return
	}

	log.Printf("alert %s acknowledged by %s", alert.ID, req.By)
	jsonOK(w, alert)
}

// Resolve handles POST /api/v1/alerts/{id}/resolve. Resolving twice is
// idempotent; the original resolution is kept.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "alert id required")
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.By) == "" {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "by is required")
		return
	}

	alert, err := h.store.Resolve(id, req.By, req.Notes)
	if err != nil {
		if errors.Is(err, alerting.ErrAlertNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "alert not found")
			return
		}
		log.Printf("resolve alert error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("alert %s resolved by %s", alert.ID, req.By)
	jsonOK(w, alert)
}

// Sweep handles POST /api/v1/alerts/sweep - run one manual rule sweep
// against current store statistics.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.evaluator == nil {
		jsonError(w, http.StatusServiceUnavailable, errCodeInternalError, "alert evaluation disabled")
		return
	}

	if err := h.evaluator.Sweep(r.Context()); err != nil {
		log.Printf("manual sweep error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	counts := make(map[string]int)
	for status, n := range h.store.CountByStatus() {
		counts[strings.ToLower(string(status))] = n
	}

	jsonOK(w, &SweepResponse{Status: "completed", Counts: counts})
}
