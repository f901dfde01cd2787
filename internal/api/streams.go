package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clinicore/scheduling/internal/eventlog"
	"github.com/clinicore/scheduling/internal/notify"
)

func publishStreamHandler(events eventlog.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")

		var req PublishEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Type == "" {
			writeError(w, http.StatusBadRequest, "missing_event_type", "type is required")
			return
		}

		id, err := events.Publish(r.Context(), key, req.Type, req.Payload)
		if err != nil {
			handleStreamError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, PublishEventResponse{ID: id.String()})
	}
}

func rangeStreamHandler(events eventlog.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")

		from := eventlog.ZeroID
		if raw := r.URL.Query().Get("from"); raw != "" {
			parsed, err := eventlog.ParseID(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_cursor", "from must look like 0-0")
				return
			}
			from = parsed
		}

		count := 0 // backend applies its default
		if raw := r.URL.Query().Get("count"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < eventlog.MinRangeCount || n > eventlog.MaxRangeCount {
				writeError(w, http.StatusBadRequest, "invalid_count", "count must be between 1 and 500")
				return
			}
			count = n
		}

		entries, err := events.Range(r.Context(), key, from, count)
		if err != nil {
			handleStreamError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, rangeResponse(entries, from))
	}
}

// subscribeStreamHandler streams entries to the client as server-sent
// events, resuming strictly after the `from` cursor. Clients reconnect
// with the last id they saw and replay anything missed.
func subscribeStreamHandler(dispatcher *notify.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")

		from := eventlog.ZeroID
		if raw := r.URL.Query().Get("from"); raw != "" {
			parsed, err := eventlog.ParseID(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_cursor", "from must look like 0-0")
				return
			}
			from = parsed
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
			return
		}

		sub := dispatcher.Subscribe(key, from)
		defer dispatcher.Unsubscribe(sub)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case e, open := <-sub.C():
				if !open {
					return
				}
				data, err := json.Marshal(StreamEntryResponse{
					ID:      e.ID.String(),
					Type:    e.Type,
					Payload: e.Payload,
				})
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "id: %s\ndata: %s\n\n", e.ID, data)
				flusher.Flush()
			}
		}
	}
}

func handleStreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, eventlog.ErrEmptyStreamKey):
		writeError(w, http.StatusBadRequest, "invalid_stream_key", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "stream_backend_error", err.Error())
	}
}
