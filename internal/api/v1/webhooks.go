package v1

import (
	"net/http"

	"github.com/stacklok/integration-sync/internal/api/common"
	"github.com/stacklok/integration-sync/internal/health"
	"github.com/stacklok/integration-sync/internal/store"
	"github.com/stacklok/integration-sync/internal/webhook"
)

func (rr *Routes) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := rr.svc.Subscriptions.List(r.Context())
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, subs, http.StatusOK)
}

func (rr *Routes) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req webhook.SubscriptionRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	sub, err := rr.svc.Subscriptions.Create(r.Context(), &req)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, sub, http.StatusCreated)
}

func (rr *Routes) getSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetAndValidateURLParam(r, "id")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	sub, err := rr.svc.Subscriptions.Get(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, sub, http.StatusOK)
}

// deleteSubscription removes the subscription locally. Unregistration at the source
// happens in the background.
func (rr *Routes) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetAndValidateURLParam(r, "id")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	if err := rr.svc.Subscriptions.Delete(r.Context(), id); err != nil {
		common.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rr *Routes) listDeliveries(w http.ResponseWriter, r *http.Request) {
	opts, err := common.PageOptions(r, false)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	if v := q.Get("source"); v != "" {
		opts = append(opts, store.WithSource(v))
	}
	if v := q.Get("eventType"); v != "" {
		opts = append(opts, store.WithEventType(v))
	}
	if v := q.Get("status"); v != "" {
		opts = append(opts, store.WithStatus(v))
	}
	deliveries, err := rr.svc.Subscriptions.ListDeliveries(r.Context(), opts...)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, deliveries, http.StatusOK)
}

func (rr *Routes) healthDashboard(w http.ResponseWriter, r *http.Request) {
	var (
		d   *health.Dashboard
		err error
	)
	if r.URL.Query().Get("refresh") == "true" {
		d, err = rr.svc.Monitor.Refresh(r.Context())
	} else {
		d, err = rr.svc.Monitor.Dashboard(r.Context())
	}
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, d, http.StatusOK)
}
