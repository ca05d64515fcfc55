package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kakavi/central-backend/audit"
	"github.com/kakavi/central-backend/id"
)

// defaultListLimit bounds list responses when the caller does not pass
// an explicit limit.
const defaultListLimit = 50

// listEvents handles GET /v1/events.
// Query parameters: action, processed (true/false), limit, offset.
func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	opts := audit.ListOpts{
		Limit:  defaultListLimit,
		Action: r.URL.Query().Get("action"),
	}

	if raw := r.URL.Query().Get("processed"); raw != "" {
		processed, err := strconv.ParseBool(raw)
		if err != nil {
			a.writeBadRequest(w, "processed must be true or false")
			return
		}
		opts.Processed = &processed
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

	events, err := a.eng.Store().ListEvents(r.Context(), opts)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, events)
}

// getEvent handles GET /v1/events/{eventID}.
func (a *API) getEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		a.writeBadRequest(w, "invalid event id")
		return
	}

	e, err := a.eng.Store().GetEvent(r.Context(), eventID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, e)
}
