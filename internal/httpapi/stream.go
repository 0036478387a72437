package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"acsmulungu.org/internal/obs"
	"acsmulungu.org/internal/stream"
)

const streamKeepAlive = 25 * time.Second

// Stream serves the raw change feed over Server-Sent Events. Every persisted
// write shows up as one event; clients re-read the resource they care about.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "stream not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	setSSEHeaders(w)
	events := a.stream.Subscribe(r.Context())
	obs.StreamSubscriberAdd()
	defer obs.StreamSubscriberRemove()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	fmt.Fprintf(w, ": connected %s\n\n", a.now().UTC().Format(time.RFC3339))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, "change", evt); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// RankingStream pushes a freshly computed leaderboard whenever a team score
// changes. The projection is recomputed from a full collection read so
// clients never see a partially applied write.
func (a *API) RankingStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "stream not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	setSSEHeaders(w)
	events := a.stream.Subscribe(r.Context())
	obs.StreamSubscriberAdd()
	defer obs.StreamSubscriberRemove()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	push := func() bool {
		board, err := a.leaderboard(r)
		if err != nil {
			return false
		}
		if err := writeSSE(w, "leaderboard", board); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	// Initial snapshot so a new client does not wait for the next edit.
	if !push() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			if evt.Kind != stream.KindTeam {
				continue
			}
			if !push() {
				return
			}
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSE(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
