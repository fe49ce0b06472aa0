package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ZrianRashid/ai-ugc-generator/internal/app"
	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
)

const maxWebhookBodyBytes = 1 << 16

// handleStripeWebhook acknowledges every delivery that was verified and
// recorded, whatever the processing outcome. Only bad signatures, malformed
// payloads and a failed record write are reported back to Stripe.
func (h *Handler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeMissingFields, "Cannot read request body")
		return
	}

	outcome, err := h.reconciler.Handle(r.Context(), body, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidSignature):
		h.logger.Warn("stripe webhook rejected", "error", err)
		writeError(w, http.StatusBadRequest, codeInvalidSignature, "Invalid signature")
		return
	case errors.Is(err, domain.ErrValidation):
		h.logger.Warn("malformed stripe webhook", "error", err)
		writeError(w, http.StatusBadRequest, codeMissingFields, "Malformed event payload")
		return
	default:
		h.logger.Error("failed to record stripe webhook", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "Webhook handler failed")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"received": true, "outcome": outcome.Kind})
}

// handleRenderWebhook applies a render workflow callback.
func (h *Handler) handleRenderWebhook(w http.ResponseWriter, r *http.Request) {
	credential := r.Header.Get("Authorization")
	if err := h.jobs.Authorize(credential); err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "Unauthorized")
		return
	}

	var payload app.CallbackPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, codeMissingFields, "Invalid request body")
		return
	}

	job, err := h.jobs.ApplyCallback(r.Context(), credential, payload)
	if err != nil {
		h.writeDomainError(w, err, "render callback")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true, "status": job.Status})
}
