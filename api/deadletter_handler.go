package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kakavi/central-backend/deadletter"
	"github.com/kakavi/central-backend/id"
)

// listDeadLetters handles GET /v1/deadletters.
// Query parameters: action, limit, offset.
func (a *API) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	opts := deadletter.ListOpts{
		Limit:  defaultListLimit,
		Action: r.URL.Query().Get("action"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			a.writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		opts.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			a.writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		opts.Offset = offset
	}

	events, err := a.eng.DeadLetters().List(r.Context(), opts)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, events)
}

// getDeadLetter handles GET /v1/deadletters/{eventID}.
func (a *API) getDeadLetter(w http.ResponseWriter, r *http.Request) {
	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		a.writeBadRequest(w, "invalid event id")
		return
	}

	e, err := a.eng.DeadLetters().Get(r.Context(), eventID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, e)
}

// replayDeadLetter handles POST /v1/deadletters/{eventID}/replay.
// The revived event becomes claimable again with a zeroed retry budget.
func (a *API) replayDeadLetter(w http.ResponseWriter, r *http.Request) {
	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		a.writeBadRequest(w, "invalid event id")
		return
	}

	e, err := a.eng.DeadLetters().Replay(r.Context(), eventID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, e)
}

// purgeDeadLetters handles DELETE /v1/deadletters?before=RFC3339.
func (a *API) purgeDeadLetters(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("before")
	if raw == "" {
		a.writeBadRequest(w, "before is required")
		return
	}
	before, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		a.writeBadRequest(w, "before must be an RFC 3339 timestamp")
		return
	}

	purged, err := a.eng.DeadLetters().Purge(r.Context(), before)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int64{"purged": purged})
}
