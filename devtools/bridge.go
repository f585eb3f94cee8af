// Package devtools exposes the subscription registry over HTTP for
// inspection during development: a JSON snapshot endpoint and a websocket
// stream pushing registry state at a fixed interval.
//
// The bridge only reads registry snapshots. Not mounting it has zero effect
// on the engine.
package devtools

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/goliatone/go-live-query/registry"
)

// Config assembles a Bridge. Registry is required.
type Config struct {
	// Registry is the engine's subscription registry to expose.
	Registry *registry.Registry

	// Logger receives connection lifecycle events. Defaults to a nop logger.
	Logger *zap.Logger

	// PushInterval is the websocket snapshot cadence. Defaults to one second.
	PushInterval time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Registry, validation.Required),
	)
}

// Bridge serves registry state over HTTP.
type Bridge struct {
	reg      *registry.Registry
	log      *zap.Logger
	interval time.Duration
	upgrader websocket.Upgrader
}

// New validates cfg and builds a bridge from it.
func New(cfg Config) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	interval := cfg.PushInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Bridge{
		reg:      cfg.Registry,
		log:      log,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// development tool; served on localhost
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// Routes returns the bridge's router, ready to mount under a path of the
// caller's choosing.
func (b *Bridge) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/entries", b.handleEntries)
	r.Get("/metrics", b.handleMetrics)
	r.Get("/ws", b.handleWS)
	return r
}

// EntryView is the wire representation of one registry entry. Values are
// omitted: payloads may be large and are visible in the application itself.
type EntryView struct {
	Key      string `json:"key"`
	Status   string `json:"status"`
	Source   string `json:"source,omitempty"`
	RefCount int    `json:"ref_count"`
	Updates  uint64 `json:"updates"`
	Live     bool   `json:"live"`
	Error    string `json:"error,omitempty"`
}

type stateView struct {
	Entries []EntryView       `json:"entries"`
	Count   int               `json:"count"`
	Stats   map[string]uint64 `json:"stats"`
}

func (b *Bridge) state() stateView {
	snaps := b.reg.SnapshotAll()
	views := make([]EntryView, 0, len(snaps))
	for _, s := range snaps {
		v := EntryView{
			Key:      s.Key,
			Status:   string(s.Status),
			Source:   string(s.Source),
			RefCount: s.RefCount,
			Updates:  s.Updates,
			Live:     s.Live,
		}
		if s.Err != nil {
			v.Error = s.Err.Error()
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })
	return stateView{Entries: views, Count: len(views), Stats: b.reg.Stats()}
}

// handleMetrics writes the registry's counters in Prometheus text format.
func (b *Bridge) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	b.reg.Metrics().WritePrometheus(w)
}

func (b *Bridge) handleEntries(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(b.state()); err != nil {
		b.log.Warn("failed to write registry snapshot", zap.Error(err))
	}
}

func (b *Bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	session := uuid.NewString()
	b.log.Info("devtools session connected",
		zap.String("session", session),
		zap.String("remote", r.RemoteAddr))

	// read pump: only used to observe the close handshake
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	// push the current state immediately, then on every tick
	if err := conn.WriteJSON(b.state()); err != nil {
		b.log.Info("devtools session ended", zap.String("session", session))
		return
	}
	for {
		select {
		case <-closed:
			b.log.Info("devtools session closed", zap.String("session", session))
			return
		case <-ticker.C:
			if err := conn.WriteJSON(b.state()); err != nil {
				b.log.Info("devtools session ended",
					zap.String("session", session),
					zap.Error(err))
				return
			}
		}
	}
}
