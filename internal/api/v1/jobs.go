package v1

import (
	"net/http"

	"github.com/stacklok/integration-sync/internal/api/common"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/sync/scheduler"
)

// JobRequest is the body of job creation and update
type JobRequest struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Source     string         `json:"source"`
	Schedule   string         `json:"schedule"`
	Timezone   string         `json:"timezone,omitempty"`
	Filters    map[string]any `json:"filters,omitempty"`
	MaxRetries *int           `json:"maxRetries,omitempty"`
	Enabled    *bool          `json:"enabled,omitempty"`
}

// toJob builds the job definition. An absent maxRetries takes defaultRetries; an explicit 0 disables retries.
func (req *JobRequest) toJob(defaultRetries int) *models.SyncJob {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	maxRetries := defaultRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	return &models.SyncJob{
		ID:         req.ID,
		Name:       req.Name,
		Source:     req.Source,
		Schedule:   req.Schedule,
		Timezone:   req.Timezone,
		Filters:    req.Filters,
		MaxRetries: maxRetries,
		Enabled:    enabled,
	}
}

// SourceResponse describes a configured source
type SourceResponse struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	Kinds []string `json:"kinds"`
}

// ConnectionResponse is the result of a connection test
type ConnectionResponse struct {
	Source    string `json:"source"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

func (rr *Routes) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := rr.svc.Scheduler.ListJobs(r.Context())
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, jobs, http.StatusOK)
}

func (rr *Routes) createJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	job, err := rr.svc.Scheduler.CreateJob(r.Context(), req.toJob(rr.svc.Scheduler.DefaultMaxRetries()))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, job, http.StatusCreated)
}

func (rr *Routes) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetAndValidateURLParam(r, "id")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	job, err := rr.svc.Scheduler.GetJob(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, job, http.StatusOK)
}

func (rr *Routes) updateJob(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetAndValidateURLParam(r, "id")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	var req JobRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	job, err := rr.svc.Scheduler.UpdateJob(r.Context(), id, req.toJob(rr.svc.Scheduler.DefaultMaxRetries()))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, job, http.StatusOK)
}

func (rr *Routes) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetAndValidateURLParam(r, "id")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	if err := rr.svc.Scheduler.DeleteJob(r.Context(), id); err != nil {
		common.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rr *Routes) enableJob(w http.ResponseWriter, r *http.Request) {
	rr.setJobEnabled(w, r, true)
}

func (rr *Routes) disableJob(w http.ResponseWriter, r *http.Request) {
	rr.setJobEnabled(w, r, false)
}

func (rr *Routes) setJobEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id, err := common.GetAndValidateURLParam(r, "id")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	var job *models.SyncJob
	if enabled {
		job, err = rr.svc.Scheduler.EnableJob(r.Context(), id)
	} else {
		job, err = rr.svc.Scheduler.DisableJob(r.Context(), id)
	}
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, job, http.StatusOK)
}

// triggerJob runs a stored job now and returns the finished execution
func (rr *Routes) triggerJob(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetAndValidateURLParam(r, "id")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	exec, err := rr.svc.Scheduler.TriggerJob(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, exec, http.StatusOK)
}

func (rr *Routes) listSources(w http.ResponseWriter, _ *http.Request) {
	names := rr.svc.Sources.Names()
	out := make([]SourceResponse, 0, len(names))
	for _, name := range names {
		adapter, err := rr.svc.Sources.Get(name)
		if err != nil {
			continue
		}
		kinds := adapter.Kinds()
		resp := SourceResponse{Name: name, Type: adapter.Type(), Kinds: make([]string, 0, len(kinds))}
		for _, k := range kinds {
			resp.Kinds = append(resp.Kinds, string(k))
		}
		out = append(out, resp)
	}
	common.WriteJSONResponse(w, out, http.StatusOK)
}

// manualSync runs an ad-hoc sync of one source. An empty body syncs everything.
func (rr *Routes) manualSync(w http.ResponseWriter, r *http.Request) {
	source, err := common.GetAndValidateURLParam(r, "source")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	var req scheduler.ManualSyncRequest
	if r.ContentLength != 0 {
		if err := common.DecodeJSON(w, r, &req); err != nil {
			common.WriteError(w, r, err)
			return
		}
	}
	exec, err := rr.svc.Scheduler.TriggerManualSync(r.Context(), source, req)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, exec, http.StatusOK)
}

// testSource reports whether the source is reachable. An unreachable source is still a 200.
func (rr *Routes) testSource(w http.ResponseWriter, r *http.Request) {
	source, err := common.GetAndValidateURLParam(r, "source")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	adapter, err := rr.svc.Sources.Get(source)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	resp := ConnectionResponse{Source: source, Connected: true}
	if err := adapter.TestConnection(r.Context()); err != nil {
		resp.Connected = false
		resp.Error = err.Error()
	}
	common.WriteJSONResponse(w, resp, http.StatusOK)
}
