package api

import (
	"net/http"
	"strings"

	"github.com/xraph/conveyor/monitor"
)

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	s, err := a.eng.Monitor().Stats(r.Context(), r.URL.Query().Get("queue"))
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, s)
}

// queueStats reports one Stats per queue. Queues come from the "queues"
// query parameter (comma separated) or default to the configured ones.
func (a *API) queueStats(w http.ResponseWriter, r *http.Request) {
	queues := a.eng.Conveyor().Config().Queues
	if v := r.URL.Query().Get("queues"); v != "" {
		queues = strings.Split(v, ",")
	}
	out, err := a.eng.Monitor().StatsByQueue(r.Context(), queues)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	if out == nil {
		out = []monitor.Stats{}
	}
	a.writeJSON(w, http.StatusOK, out)
}

// health grades the configured queues (or the "queues" query parameter)
// with the default thresholds. An unhealthy result is served as 503.
func (a *API) health(w http.ResponseWriter, r *http.Request) {
	cfg := monitor.DefaultHealthConfig()
	cfg.Queues = a.eng.Conveyor().Config().Queues
	if v := r.URL.Query().Get("queues"); v != "" {
		cfg.Queues = strings.Split(v, ",")
	}
	h, err := a.eng.Monitor().Health(r.Context(), cfg)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	status := http.StatusOK
	if h.Status == monitor.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Cache-Control", "no-store")
	a.writeJSON(w, status, h)
}
