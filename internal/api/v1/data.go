package v1

import (
	"net/http"

	"github.com/stacklok/integration-sync/internal/api/common"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/store"
)

// EntityResponse is an entity with its risk enrichments
type EntityResponse struct {
	*models.Entity
	Enrichments []*models.RiskEnrichment `json:"enrichments"`
}

// ResolveRequest is the body of a conflict resolution
type ResolveRequest struct {
	Value      any    `json:"value"`
	ResolvedBy string `json:"resolvedBy"`
}

// ResolveResponse carries the resolved conflict and the updated entity
type ResolveResponse struct {
	Conflict *models.Conflict `json:"conflict"`
	Entity   *models.Entity   `json:"entity"`
}

func (rr *Routes) listExecutions(w http.ResponseWriter, r *http.Request) {
	opts, err := common.PageOptions(r, false)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	if v := q.Get("jobId"); v != "" {
		opts = append(opts, store.WithJobID(v))
	}
	if v := q.Get("source"); v != "" {
		opts = append(opts, store.WithSource(v))
	}
	if v := q.Get("status"); v != "" {
		opts = append(opts, store.WithStatus(v))
	}
	execs, err := rr.svc.Store.ListExecutions(r.Context(), opts...)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, execs, http.StatusOK)
}

func (rr *Routes) getExecution(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetAndValidateURLParam(r, "id")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	exec, err := rr.svc.Store.GetExecution(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, exec, http.StatusOK)
}

func (rr *Routes) listEntities(w http.ResponseWriter, r *http.Request) {
	opts, err := common.PageOptions(r, true)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	if v := q.Get("kind"); v != "" {
		kind := models.EntityKind(v)
		if !kind.Valid() {
			common.WriteError(w, r, models.NewValidationError("kind", "unknown entity kind %q", v))
			return
		}
		opts = append(opts, store.WithKind(kind))
	}
	if v := q.Get("source"); v != "" {
		opts = append(opts, store.WithSource(v))
	}
	entities, err := rr.svc.Store.ListEntities(r.Context(), opts...)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, entities, http.StatusOK)
}

func (rr *Routes) getEntity(w http.ResponseWriter, r *http.Request) {
	id, err := common.UUIDParam(r, "id")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	entity, err := rr.svc.Store.GetEntity(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	enrichments, err := rr.svc.Store.ListEnrichments(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	if enrichments == nil {
		enrichments = []*models.RiskEnrichment{}
	}
	common.WriteJSONResponse(w, EntityResponse{Entity: entity, Enrichments: enrichments}, http.StatusOK)
}

// enrichEntity recomputes the risk score of one entity
func (rr *Routes) enrichEntity(w http.ResponseWriter, r *http.Request) {
	if rr.svc.Enricher == nil {
		common.WriteErrorResponse(w, "enrichment is disabled", http.StatusNotImplemented)
		return
	}
	id, err := common.UUIDParam(r, "id")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	entity, err := rr.svc.Store.GetEntity(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	enrichment, err := rr.svc.Enricher.Enrich(r.Context(), entity)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, enrichment, http.StatusOK)
}

func (rr *Routes) listConflicts(w http.ResponseWriter, r *http.Request) {
	opts, err := common.PageOptions(r, false)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		opts = append(opts, store.WithStatus(v))
	}
	if q.Get("entityId") != "" {
		id, err := common.UUIDQuery(r, "entityId")
		if err != nil {
			common.WriteError(w, r, err)
			return
		}
		opts = append(opts, store.WithEntityID(id))
	}
	conflicts, err := rr.svc.Store.ListConflicts(r.Context(), opts...)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, conflicts, http.StatusOK)
}

func (rr *Routes) getConflict(w http.ResponseWriter, r *http.Request) {
	id, err := common.UUIDParam(r, "id")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	c, err := rr.svc.Store.GetConflict(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, c, http.StatusOK)
}

func (rr *Routes) resolveConflict(w http.ResponseWriter, r *http.Request) {
	id, err := common.UUIDParam(r, "id")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	var req ResolveRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	c, entity, err := rr.svc.Resolver.Resolve(r.Context(), id, req.Value, req.ResolvedBy)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, ResolveResponse{Conflict: c, Entity: entity}, http.StatusOK)
}
