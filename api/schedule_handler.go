package api

import (
	"net/http"

	"github.com/xraph/conveyor/schedule"
)

func (a *API) listSchedules(w http.ResponseWriter, r *http.Request) {
	entries, err := a.eng.Scheduler().Status(r.Context())
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []schedule.EntryStatus{}
	}
	a.writeJSON(w, http.StatusOK, entries)
}

// triggerSchedule runs a recurring job's handler now, outside the ledger.
// A handler error is reported in the response body with status 200.
func (a *API) triggerSchedule(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := a.eng.Scheduler().Trigger(r.Context(), name)
	switch {
	case err == nil:
		a.writeJSON(w, http.StatusOK, TriggerResponse{Name: name, OK: true})
	case isNotFound(err):
		a.storeError(w, r, err)
	default:
		a.writeJSON(w, http.StatusOK, TriggerResponse{Name: name, Error: err.Error()})
	}
}

// TriggerResponse reports the result of a manual schedule run.
type TriggerResponse struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
