// Package httpapi exposes a read-only HTTP surface next to the line
// protocol: health, metrics, session/task inspection, and a websocket
// mirror of the event stream for browser clients.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mzani/taskd/internal/broadcast"
	"github.com/mzani/taskd/internal/config"
	"github.com/mzani/taskd/internal/observability"
	"github.com/mzani/taskd/internal/session"
)

type Server struct {
	cfg         config.Config
	registry    *session.Registry
	broadcaster *broadcast.Broadcaster
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, registry *session.Registry, broadcaster *broadcast.Broadcaster, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		registry:    registry,
		broadcaster: broadcaster,
		metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly
				// opened up; non-browser clients omit Origin and are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", observability.MetricsHandler())
	r.Get("/v1/sessions", s.handleSessions)
	r.Get("/v1/sessions/{name}/tasks", s.handleSessionTasks)
	r.Get("/v1/events", s.handleEvents)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.registry.Summaries()})
}

func (s *Server) handleSessionTasks(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	found := false
	for _, sess := range s.registry.List() {
		if sess.Name == name {
			found = true
			respondJSON(w, http.StatusOK, map[string]any{"tasks": sess.Executor.List()})
			break
		}
	}
	// Inspection must not create sessions the way commands do.
	if !found {
		respondJSON(w, http.StatusNotFound, map[string]any{"error": "unknown session"})
	}
}

// handleEvents upgrades to a websocket and mirrors the broadcaster stream.
// Delivery policy matches the line protocol: a slow or broken client is
// dropped, never buffered indefinitely.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sink := newWSSink()
	id := s.broadcaster.Add(sink)
	defer s.broadcaster.Remove(id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Drain client frames only to detect close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case frame, ok := <-sink.frames:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

// wsSink bridges the synchronous broadcaster into the websocket writer
// goroutine. A full buffer counts as a failed write so the broadcaster
// drops the subscriber instead of blocking.
type wsSink struct {
	frames chan []byte
}

func newWSSink() *wsSink {
	return &wsSink{frames: make(chan []byte, 256)}
}

var errSlowClient = errors.New("websocket client too slow")

func (s *wsSink) WriteFrame(frame []byte) error {
	select {
	case s.frames <- frame:
		return nil
	default:
		return errSlowClient
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
