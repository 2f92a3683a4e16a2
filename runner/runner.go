// Package runner hosts the live map session hub: one sim engine, map
// manager, and marker controller per connected websocket client.
package runner

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jonwillington/filter-mapkit/config"
	"github.com/jonwillington/filter-mapkit/logger"
	"github.com/jonwillington/filter-mapkit/metrics"
	"github.com/jonwillington/filter-mapkit/shop"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin for development
		return true
	},
}

// Hub tracks live sessions with an LRU cap and idle eviction. Sessions are
// expensive (each carries a full sim engine and clustering index), so the
// oldest idle one makes room when the cap is hit.
type Hub struct {
	cfg         *config.Config
	shops       func() []shop.Shop
	sessions    map[string]*Session
	sessionLock sync.Mutex
	lastActive  map[string]time.Time
	maxSessions int
	idleTimeout time.Duration
	done        chan struct{}
}

// NewHub builds a hub serving the catalog returned by shops, which is
// re-read per session so catalog swaps reach new connections.
func NewHub(cfg *config.Config, shops func() []shop.Shop) *Hub {
	h := &Hub{
		cfg:         cfg,
		shops:       shops,
		sessions:    make(map[string]*Session),
		lastActive:  make(map[string]time.Time),
		maxSessions: cfg.Sessions.Max,
		idleTimeout: time.Duration(cfg.Sessions.IdleMinutes) * time.Minute,
		done:        make(chan struct{}),
	}
	go h.cleanupIdleSessions()
	return h
}

// ServeWS upgrades the request and runs a session until the client leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L().Error("websocket upgrade failed", "err", err)
		return
	}

	s := newSession(h, conn)
	h.add(s)
	logger.L().Info("session opened", "session", s.ID, "live", h.Count())

	go s.writePump()
	go s.readPump()
}

func (h *Hub) add(s *Session) {
	h.sessionLock.Lock()
	defer h.sessionLock.Unlock()

	// Evict the least recently active session when full.
	if len(h.sessions) >= h.maxSessions {
		var oldestID string
		var oldestTime time.Time
		first := true
		for id, at := range h.lastActive {
			if first || at.Before(oldestTime) {
				oldestID = id
				oldestTime = at
				first = false
			}
		}
		if oldestID != "" {
			h.dropLocked(oldestID)
		}
	}

	h.sessions[s.ID] = s
	h.lastActive[s.ID] = time.Now()
	metrics.LiveSessions.Set(float64(len(h.sessions)))
}

func (h *Hub) remove(id string) {
	h.sessionLock.Lock()
	defer h.sessionLock.Unlock()
	h.dropLocked(id)
}

func (h *Hub) dropLocked(id string) {
	s, ok := h.sessions[id]
	if !ok {
		return
	}
	delete(h.sessions, id)
	delete(h.lastActive, id)
	metrics.LiveSessions.Set(float64(len(h.sessions)))
	s.close()
	logger.L().Info("session closed", "session", id, "live", len(h.sessions))
}

func (h *Hub) touch(id string) {
	h.sessionLock.Lock()
	defer h.sessionLock.Unlock()
	if _, ok := h.sessions[id]; ok {
		h.lastActive[id] = time.Now()
	}
}

// Count reports the number of live sessions.
func (h *Hub) Count() int {
	h.sessionLock.Lock()
	defer h.sessionLock.Unlock()
	return len(h.sessions)
}

// Close evicts every session and stops the cleanup loop.
func (h *Hub) Close() {
	close(h.done)
	h.sessionLock.Lock()
	defer h.sessionLock.Unlock()
	for id := range h.sessions {
		h.dropLocked(id)
	}
}

func (h *Hub) cleanupIdleSessions() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.evictIdle(time.Now())
		}
	}
}

func (h *Hub) evictIdle(now time.Time) {
	h.sessionLock.Lock()
	defer h.sessionLock.Unlock()

	var toRemove []string
	for id, at := range h.lastActive {
		if now.Sub(at) > h.idleTimeout {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		h.dropLocked(id)
	}
}
