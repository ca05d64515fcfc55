package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kakavi/central-backend/id"
	"github.com/kakavi/central-backend/stream"
)

// streamEvents handles GET /v1/stream?topic=...&topic=...
//
// Lifecycle events are delivered as Server-Sent Events until the client
// disconnects. With no topic parameter the subscription defaults to the
// firehose.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeBadRequest(w, "streaming unsupported by this connection")
		return
	}

	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		topics = []string{stream.TopicFirehose}
	}
	for _, topic := range topics {
		if err := stream.ValidateTopic(topic); err != nil {
			a.writeBadRequest(w, err.Error())
			return
		}
	}

	subscriberID := "api_" + id.NewWorkerID().String()
	sub := a.broker.Subscribe(subscriberID, topics...)
	defer a.broker.RemoveSubscriber(subscriberID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
			flusher.Flush()
		}
	}
}
