package api

import (
	"net/http"

	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// CountResponse carries a single count.
type CountResponse struct {
	Count int64 `json:"count"`
}

// RetryAllResponse lists the records created by a bulk retry.
type RetryAllResponse struct {
	Retried []*job.Record `json:"retried"`
	Error   string        `json:"error,omitempty"`
}

func (a *API) listFailed(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		a.badRequest(w, err.Error())
		return
	}
	entries, err := a.eng.DLQService().Store().ListFailed(r.Context(), dlq.ListOpts{
		Queue:  r.URL.Query().Get("queue"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) getFailed(w http.ResponseWriter, r *http.Request) {
	entryID, ok := a.entryID(w, r)
	if !ok {
		return
	}
	entry, err := a.eng.DLQService().Store().GetFailed(r.Context(), entryID)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, entry)
}

func (a *API) retryFailed(w http.ResponseWriter, r *http.Request) {
	entryID, ok := a.entryID(w, r)
	if !ok {
		return
	}
	rec, err := a.eng.DLQService().Retry(r.Context(), entryID)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, rec)
}

func (a *API) retryAllFailed(w http.ResponseWriter, r *http.Request) {
	recs, err := a.eng.DLQService().RetryAll(r.Context(), r.URL.Query().Get("queue"))
	resp := RetryAllResponse{Retried: recs}
	if resp.Retried == nil {
		resp.Retried = []*job.Record{}
	}
	status := http.StatusOK
	if err != nil {
		// Entries retried before the failure stay retried.
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}
	a.writeJSON(w, status, resp)
}

func (a *API) deleteFailed(w http.ResponseWriter, r *http.Request) {
	entryID, ok := a.entryID(w, r)
	if !ok {
		return
	}
	if err := a.eng.DLQService().Store().DeleteFailed(r.Context(), entryID); err != nil {
		a.storeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) flushFailed(w http.ResponseWriter, r *http.Request) {
	n, err := a.eng.DLQService().Flush(r.Context(), r.URL.Query().Get("queue"))
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (a *API) failedCount(w http.ResponseWriter, r *http.Request) {
	n, err := a.eng.DLQService().Store().CountFailed(r.Context(), r.URL.Query().Get("queue"))
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (a *API) entryID(w http.ResponseWriter, r *http.Request) (id.FailedJobID, bool) {
	entryID, err := id.ParseFailedJobID(r.PathValue("entryId"))
	if err != nil {
		a.badRequest(w, "invalid failed job ID: "+err.Error())
		return entryID, false
	}
	return entryID, true
}
