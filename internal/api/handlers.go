/**
 * @description
 * HTTP handlers for the authenticated API. Handlers decode the request, call
 * the gateway or job tracker and map domain errors onto status codes with a
 * machine-readable error code the front end can branch on.
 */
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ZrianRashid/ai-ugc-generator/internal/app"
	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
)

const (
	codeUnauthenticated     = "UNAUTHENTICATED"
	codeMissingFields       = "MISSING_FIELDS"
	codeNoCredits           = "NO_CREDITS"
	codeNotFound            = "NOT_FOUND"
	codeRateLimited         = "RATE_LIMITED"
	codeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	codeInvalidSignature    = "INVALID_SIGNATURE"
	codeInternal            = "INTERNAL"
)

const maxRequestBodyBytes = 1 << 20

// Handler holds the application services that handlers will interact with.
type Handler struct {
	gateway    *app.Gateway
	jobs       *app.JobTracker
	reconciler *app.Reconciler
	logger     *slog.Logger
}

// NewHandler creates a new Handler with the given services.
func NewHandler(gateway *app.Gateway, jobs *app.JobTracker, reconciler *app.Reconciler, logger *slog.Logger) *Handler {
	return &Handler{gateway: gateway, jobs: jobs, reconciler: reconciler, logger: logger}
}

type jobSummary struct {
	ID     string           `json:"id"`
	Status domain.JobStatus `json:"status"`
}

type submitResponse struct {
	Success bool       `json:"success"`
	Job     jobSummary `json:"job"`
	Video   jobSummary `json:"video"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "Unauthorized")
		return
	}

	var req app.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeMissingFields, "Invalid request body")
		return
	}

	job, err := h.gateway.Submit(r.Context(), userID, req)
	if err != nil {
		h.writeDomainError(w, err, "generate")
		return
	}

	summary := jobSummary{ID: job.ID, Status: job.Status}
	respondWithJSON(w, http.StatusOK, submitResponse{Success: true, Job: summary, Video: summary})
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "Unauthorized")
		return
	}

	state, err := h.gateway.AccountState(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err, "account")
		return
	}
	respondWithJSON(w, http.StatusOK, state)
}

func (h *Handler) handleListVideos(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "Unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := h.jobs.List(r.Context(), userID, limit)
	if err != nil {
		h.writeDomainError(w, err, "list videos")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"videos": jobs})
}

func (h *Handler) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "Unauthorized")
		return
	}

	job, err := h.jobs.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "get video")
		return
	}
	respondWithJSON(w, http.StatusOK, job)
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "Unauthorized")
		return
	}

	var req app.CheckoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeMissingFields, "Invalid request body")
		return
	}

	url, err := h.gateway.StartCheckout(r.Context(), userID, emailFromContext(r.Context()), req)
	if err != nil {
		h.writeDomainError(w, err, "checkout")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"url": url})
}

func handleListPlans(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"plans": domain.Catalog})
}

// writeDomainError maps service errors onto HTTP responses. Internal details
// are logged and never echoed to the caller.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, op string) {
	if retryAfter, ok := app.IsRateLimited(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, codeRateLimited, "Too many requests")
		return
	}

	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "Unauthorized")
	case errors.Is(err, domain.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, codeNoCredits, "Insufficient credits. Please upgrade your plan.")
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, codeMissingFields, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "Not found")
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		h.logger.Error("upstream call failed", "op", op, "error", err)
		writeError(w, http.StatusBadGateway, codeUpstreamUnavailable, "Upstream service unavailable")
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "Internal server error")
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal server error","code":"INTERNAL"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
