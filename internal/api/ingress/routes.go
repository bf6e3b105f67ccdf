// Package ingress receives webhook events pushed by external sources.
package ingress

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/integration-sync/internal/api/common"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/webhook"
)

// Response is the body returned to the sending source
type Response struct {
	DeliveryID string                `json:"deliveryId,omitempty"`
	Status     models.DeliveryStatus `json:"status,omitempty"`
	Result     any                   `json:"result,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// Router creates the router of the webhook ingress
func Router(gateway *webhook.Gateway) http.Handler {
	r := chi.NewRouter()
	r.Post("/{source}/{eventType}", receive(gateway))
	return r
}

func receive(gateway *webhook.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source, err := common.GetAndValidateURLParam(r, "source")
		if err != nil {
			common.WriteError(w, r, err)
			return
		}
		eventType, err := common.GetAndValidateURLParam(r, "eventType")
		if err != nil {
			common.WriteError(w, r, err)
			return
		}
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, common.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				common.WriteErrorResponse(w, "payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			common.WriteErrorResponse(w, "failed to read payload", http.StatusBadRequest)
			return
		}

		delivery, err := gateway.ProcessWebhook(r.Context(), source, eventType, payload,
			webhook.SignatureFromHeader(r.Header))
		if delivery == nil {
			common.WriteError(w, r, err)
			return
		}

		resp := Response{DeliveryID: delivery.ID, Status: delivery.Status}
		if err != nil || delivery.Status == models.DeliveryFailed {
			resp.Error = delivery.Error
			status := http.StatusInternalServerError
			if errors.Is(err, webhook.ErrNoHandler) {
				status = http.StatusNotFound
			}
			common.WriteJSONResponse(w, resp, status)
			return
		}
		if len(delivery.Result) > 0 {
			resp.Result = delivery.Result
		}
		common.WriteJSONResponse(w, resp, http.StatusOK)
	}
}
