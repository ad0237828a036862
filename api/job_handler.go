package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// EnqueueRequest is the body of POST /v1/jobs.
type EnqueueRequest struct {
	Name        string          `json:"name"`
	Params      json.RawMessage `json:"params,omitempty"`
	Queue       string          `json:"queue,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
	Delay       string          `json:"delay,omitempty"`
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		a.badRequest(w, err.Error())
		return
	}
	status := job.Status(r.URL.Query().Get("status"))
	switch status {
	case "", job.StatusPending, job.StatusDelayed, job.StatusReserved:
	default:
		a.badRequest(w, "status must be pending, delayed or reserved")
		return
	}

	records, err := a.eng.Store().ListJobs(r.Context(), job.ListOpts{
		Queue:  r.URL.Query().Get("queue"),
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	if records == nil {
		records = []*job.Record{}
	}
	a.writeJSON(w, http.StatusOK, records)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(r.PathValue("jobId"))
	if err != nil {
		a.badRequest(w, "invalid job ID: "+err.Error())
		return
	}
	rec, err := a.eng.Store().GetJob(r.Context(), jobID)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, rec)
}

func (a *API) jobCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := a.eng.Store().CountJobs(r.Context(), job.CountOpts{Queue: r.URL.Query().Get("queue")})
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, counts)
}

func (a *API) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		a.badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Name == "" {
		a.badRequest(w, "name is required")
		return
	}

	var opts []job.Option
	if req.Queue != "" {
		opts = append(opts, job.WithQueue(req.Queue))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, job.WithMaxAttempts(req.MaxAttempts))
	}
	if req.Delay != "" {
		d, err := time.ParseDuration(req.Delay)
		if err != nil || d < 0 {
			a.badRequest(w, "delay must be a non-negative duration such as 30s")
			return
		}
		opts = append(opts, job.WithDelay(d))
	}

	params := []byte(req.Params)
	if len(params) == 0 {
		params = []byte("{}")
	}
	rec, err := a.eng.EnqueueRaw(r.Context(), req.Name, params, opts...)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, rec)
}
