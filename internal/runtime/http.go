package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

// voiceAPI is the part of the capture service the HTTP surface drives.
type voiceAPI interface {
	Status() protocol.VoiceStatus
	StartCapture()
	StopCapture()
	Sessions(ctx context.Context, limit int) ([]eventstore.Session, error)
	SessionEvents(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error)
}

func (r *Runtime) routes(metrics http.Handler) *http.ServeMux {
	var shop shopAPI
	if client := r.assistant.Shop(); client != nil {
		shop = client
	}
	return newMux(r.capture, shop, r.capture.Hub(), metrics, r.Healthy, r.logger)
}

// newMux wires the HTTP surface. The shop routes are mounted only when shop is non-nil.
func newMux(api voiceAPI, shop shopAPI, stream, metrics http.Handler, healthy func() bool, logger *slog.Logger) *http.ServeMux {
	h := &handlers{api: api, healthy: healthy, log: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.health)
	mux.HandleFunc("/readyz", h.ready)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	mux.HandleFunc("GET /v1/voice/status", h.status)
	mux.HandleFunc("POST /v1/voice/start", h.start)
	mux.HandleFunc("POST /v1/voice/stop", h.stop)
	mux.Handle("GET /v1/voice/events", stream)
	mux.HandleFunc("GET /v1/voice/sessions", h.sessions)
	mux.HandleFunc("GET /v1/voice/sessions/{id}/events", h.sessionEvents)
	if shop != nil {
		mountShop(mux, shop, logger)
	}
	return mux
}

type handlers struct {
	api     voiceAPI
	healthy func() bool
	log     *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) ready(w http.ResponseWriter, _ *http.Request) {
	if h.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.api.Status())
}

func (h *handlers) start(w http.ResponseWriter, _ *http.Request) {
	h.api.StartCapture()
	h.writeJSON(w, http.StatusAccepted, h.api.Status())
}

func (h *handlers) stop(w http.ResponseWriter, _ *http.Request) {
	h.api.StopCapture()
	h.writeJSON(w, http.StatusAccepted, h.api.Status())
}

func (h *handlers) sessions(w http.ResponseWriter, req *http.Request) {
	sessions, err := h.api.Sessions(req.Context(), queryLimit(req))
	if err != nil {
		h.log.Warn("failed to list sessions", slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list sessions"})
		return
	}
	if sessions == nil {
		sessions = []eventstore.Session{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *handlers) sessionEvents(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	events, err := h.api.SessionEvents(req.Context(), id, queryLimit(req))
	if err != nil {
		h.log.Warn("failed to list session events", slog.String("session_id", id), slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list session events"})
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "events": events})
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v, h.log)
}

func writeJSON(w http.ResponseWriter, status int, v any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("failed to write response", slog.String("error", err.Error()))
	}
}

func queryLimit(req *http.Request) int {
	n, err := strconv.Atoi(req.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 0
	}
	if n > 1000 {
		n = 1000
	}
	return n
}
