package runner

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jonwillington/filter-mapkit/engine"
	"github.com/jonwillington/filter-mapkit/logger"
	"github.com/jonwillington/filter-mapkit/mapview"
	"github.com/jonwillington/filter-mapkit/marker"
	"github.com/jonwillington/filter-mapkit/shop"
)

// inFrame is one client message. Type picks which fields matter.
type inFrame struct {
	Type    string      `json:"type"`
	Zoom    float64     `json:"zoom,omitempty"`
	Lng     float64     `json:"lng,omitempty"`
	Lat     float64     `json:"lat,omitempty"`
	Loading bool        `json:"loading,omitempty"`
	ShopID  string      `json:"shopId,omitempty"`
	Theme   string      `json:"theme,omitempty"`
	GroupID string      `json:"groupId,omitempty"`
	Shops   []shop.Shop `json:"shops,omitempty"`
}

// outFrame is one server message.
type outFrame struct {
	Type     string           `json:"type"`
	Features []engine.Feature `json:"features,omitempty"`
	ShopID   string           `json:"shopId,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// featureLayers are the layer ids reported back to clients.
var featureLayers = []string{"clusters", "shop-points", "shop-points-expanded"}

// noopLoader resolves logo loads immediately; sessions have no image cache.
type noopLoader struct{}

func (noopLoader) Load(url string, done func(error)) { go done(nil) }

// Session is one connected client: its own sim engine, manager, controller,
// and the current props fed to the controller on every frame.
type Session struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan outFrame

	sim        *engine.Sim
	manager    *mapview.Manager
	controller *mapview.Controller

	propsMu sync.Mutex
	props   mapview.Props

	// sendMu and closed keep push from racing a hub-side eviction: the
	// evicted session's readPump can still be inside handle().
	sendMu sync.Mutex
	closed bool

	closeOnce sync.Once
}

func newSession(h *Hub, conn *websocket.Conn) *Session {
	s := &Session{
		ID:   uuid.New().String()[:8],
		hub:  h,
		conn: conn,
		send: make(chan outFrame, 64),
	}

	cfg := h.cfg
	s.manager = mapview.NewManager(func(styleURL string) engine.Map {
		sim := engine.NewSim(engine.SimOptions{
			StyleURL: styleURL,
			Center:   engine.LngLat{Lng: cfg.Map.CenterLng, Lat: cfg.Map.CenterLat},
			Zoom:     cfg.Map.Zoom,
		})
		s.sim = sim
		return sim
	}, mapview.ManagerOptions{
		LightStyleURL:    cfg.Map.LightStyleURL,
		DarkStyleURL:     cfg.Map.DarkStyleURL,
		SupportedRegions: cfg.Map.SupportedRegions,
	})
	s.manager.Init(marker.ThemeLight)
	s.controller = mapview.NewController(s.manager.Map(), noopLoader{})

	s.props = mapview.Props{
		Shops: h.shops(),
		Theme: marker.ThemeLight,
		Zoom:  cfg.Map.Zoom,
		OnShopSelect: func(sh shop.Shop) {
			s.push(outFrame{Type: "selected", ShopID: sh.ID})
		},
		// Feature frames follow completed rebuilds, never style readiness:
		// a retry that lands late still reaches the client.
		OnRebuild: func() {
			s.pushFeatures()
		},
		OnTransitionComplete: func() {
			s.push(outFrame{Type: "transition"})
		},
	}
	s.controller.Update(s.snapshotProps())
	return s
}

func (s *Session) snapshotProps() mapview.Props {
	s.propsMu.Lock()
	defer s.propsMu.Unlock()
	return s.props
}

func (s *Session) handle(f inFrame) {
	s.hub.touch(s.ID)

	switch f.Type {
	case "viewport":
		s.propsMu.Lock()
		s.props.Zoom = f.Zoom
		s.props.Loading = f.Loading
		p := s.props
		s.propsMu.Unlock()

		if m := s.manager.Map(); m != nil {
			m.JumpTo(engine.CameraOptions{
				Center: engine.LngLat{Lng: f.Lng, Lat: f.Lat},
				Zoom:   f.Zoom,
			})
		}
		s.controller.Update(p)
		s.pushFeatures()

	case "select":
		s.propsMu.Lock()
		s.props.SelectedID = f.ShopID
		p := s.props
		s.propsMu.Unlock()
		s.controller.Update(p)

	case "theme":
		theme := marker.ThemeLight
		if f.Theme == string(marker.ThemeDark) {
			theme = marker.ThemeDark
		}
		s.manager.SetTheme(theme)
		s.propsMu.Lock()
		s.props.Theme = theme
		p := s.props
		s.propsMu.Unlock()
		s.controller.Update(p)

	case "expand":
		s.propsMu.Lock()
		s.props.ExpandedGroup = f.GroupID
		p := s.props
		s.propsMu.Unlock()
		s.controller.Update(p)
		s.pushFeatures()

	case "shops":
		s.propsMu.Lock()
		s.props.Shops = f.Shops
		p := s.props
		s.propsMu.Unlock()
		s.controller.Update(p)
		s.pushFeatures()

	default:
		s.push(outFrame{Type: "error", Error: fmt.Sprintf("unknown frame type %q", f.Type)})
	}
}

// pushFeatures sends the client everything currently in its viewport.
func (s *Session) pushFeatures() {
	if s.sim == nil {
		return
	}
	s.push(outFrame{Type: "features", Features: s.sim.VisibleFeatures(featureLayers...)})
}

// push never blocks; a client that cannot keep up loses frames, not the
// session. Pushes after close are dropped.
func (s *Session) push(f outFrame) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- f:
	default:
	}
}

// readPump pumps client frames into the session until the connection dies.
func (s *Session) readPump() {
	defer func() {
		s.hub.remove(s.ID)
		s.conn.Close()
	}()

	for {
		var f inFrame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.L().Warn("session read failed", "session", s.ID, "err", err)
			}
			return
		}
		s.handle(f)
	}
}

// writePump pumps outgoing frames and keeps the connection alive.
func (s *Session) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case f, ok := <-s.send:
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteJSON(outFrame{Type: "ping"}); err != nil {
				return
			}
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.controller.Teardown()
		s.manager.Teardown()
		s.sendMu.Lock()
		s.closed = true
		close(s.send)
		s.sendMu.Unlock()
		s.conn.Close()
	})
}
