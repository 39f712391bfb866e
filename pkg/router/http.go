package router

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
	"igcrawler/pkg/scheduler"
)

const maxMessageBytes = 1 << 20

// StateResponse is the body of GET /api/state
type StateResponse struct {
	Scheduler scheduler.Status  `json:"scheduler"`
	IsRunning bool              `json:"isRunning"`
	Settings  models.Settings   `json:"settings"`
	Queue     []models.WorkItem `json:"queue,omitempty"`
}

// Handler exposes the router over HTTP:
//
//	POST   /api/messages  control envelope in, Response out
//	GET    /api/state     scheduler status and persisted mirrors (?queue=1 adds the queue)
//	GET    /api/records   all records
//	DELETE /api/records   clear records
//	GET    /api/events    worker events as server-sent events
func (r *Router) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(requestLogger(r.log))

	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.Route("/api", func(api chi.Router) {
		api.Post("/messages", r.handleMessage)
		api.Get("/state", r.handleState)
		api.Get("/records", r.handleRecords)
		api.Delete("/records", r.handleClearRecords)
		api.Get("/events", r.handleEvents)
	})
	return mux
}

func (r *Router) handleMessage(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxMessageBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "unreadable body"})
		return
	}

	resp := r.HandleControl(req.Context(), body)
	// Command failures are answers, not transport errors.
	writeJSON(w, http.StatusOK, resp)
}

func (r *Router) handleState(w http.ResponseWriter, req *http.Request) {
	resp := StateResponse{
		Scheduler: r.crawler.State(),
		Settings:  r.crawler.Settings(),
	}
	if r.opts.Store != nil {
		running, err := r.opts.Store.Running(req.Context())
		if err != nil {
			r.log.WithError(err).Warn("Failed to read running flag")
		}
		resp.IsRunning = running
	} else {
		resp.IsRunning = resp.Scheduler.Enabled
	}
	if req.URL.Query().Get("queue") == "1" {
		resp.Queue = r.crawler.Queue()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r *Router) handleRecords(w http.ResponseWriter, req *http.Request) {
	if r.opts.Store == nil {
		writeJSON(w, http.StatusOK, []models.ProfileRecord{})
		return
	}
	records, err := r.opts.Store.Records(req.Context())
	if err != nil {
		r.log.WithError(err).Error("Failed to list records")
		writeJSON(w, http.StatusInternalServerError, Response{Success: false, Message: "failed to list records"})
		return
	}
	if records == nil {
		records = []models.ProfileRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (r *Router) handleClearRecords(w http.ResponseWriter, req *http.Request) {
	if r.opts.Store == nil {
		writeJSON(w, http.StatusOK, Response{Success: true})
		return
	}
	if err := r.opts.Store.ClearRecords(req.Context()); err != nil {
		r.log.WithError(err).Error("Failed to clear records")
		writeJSON(w, http.StatusInternalServerError, Response{Success: false, Message: "failed to clear records"})
		return
	}
	r.publish(Event{Source: SourceWorker, Signal: SignalRefresh})
	writeJSON(w, http.StatusOK, Response{Success: true})
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := r.Subscribe()
	defer unsubscribe()

	ctx := req.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Signal, data)
			flusher.Flush()
		}
	}
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, req)
			logger.LogRequest(log, req.Method, req.URL.Path, ww.Status(), time.Since(start))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
