package api

import (
	"net/http"

	"github.com/kakavi/central-backend/audit"
)

// Stats summarizes the state of the audit backlog.
type Stats struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Pending   int64 `json:"pending"`
	Dead      int64 `json:"dead"`
}

// getStats handles GET /v1/stats.
func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store := a.eng.Store()

	total, err := store.CountEvents(ctx, audit.CountOpts{})
	if err != nil {
		a.writeError(w, err)
		return
	}

	processedFlag := true
	processed, err := store.CountEvents(ctx, audit.CountOpts{Processed: &processedFlag})
	if err != nil {
		a.writeError(w, err)
		return
	}

	dead, err := a.eng.DeadLetters().Count(ctx)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, Stats{
		Total:     total,
		Processed: processed,
		Pending:   total - processed - dead,
		Dead:      dead,
	})
}
