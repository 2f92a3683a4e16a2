// Package engine defines the map-engine capability surface the map view is
// built against, plus an in-process simulation implementing it. The real
// rendering engine is a black box; everything above it talks to this
// interface so it can run against the Sim in a server session or against a
// counting fake in tests.
package engine

import (
	"time"

	"github.com/jonwillington/filter-mapkit/cluster"
)

// Event names emitted by a Map.
const (
	EventStyleData  = "styledata"
	EventIdle       = "idle"
	EventMoveStart  = "movestart"
	EventMove       = "move"
	EventMoveEnd    = "moveend"
	EventZoomStart  = "zoomstart"
	EventZoomEnd    = "zoomend"
	EventDragStart  = "dragstart"
	EventDragEnd    = "dragend"
	EventSourceData = "sourcedata"
	EventClick      = "click"
	EventMouseEnter = "mouseenter"
	EventMouseLeave = "mouseleave"
)

// LngLat is a geographic position.
type LngLat struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// ScreenPoint is a position in viewport pixels.
type ScreenPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Feature is one rendered feature returned by a query: either an aggregate
// cluster or a single shop leaf.
type Feature struct {
	ShopID     string `json:"shopId,omitempty"`
	ClusterID  uint32 `json:"clusterId,omitempty"`
	Cluster    bool   `json:"cluster"`
	PointCount uint32 `json:"pointCount"`
	Color      string `json:"color,omitempty"`
	LngLat     LngLat `json:"lngLat"`
	Layer      string `json:"layer,omitempty"`
}

// Event carries what a handler needs about one engine event.
type Event struct {
	Type     string
	Point    ScreenPoint
	LngLat   LngLat
	Features []Feature
}

// Handler receives engine events. Handlers run outside the engine's locks
// and may call back into the engine.
type Handler func(Event)

// ListenerID identifies one On/OnLayer registration for Off.
type ListenerID int

// CameraOptions parameterizes an animated or immediate camera move.
type CameraOptions struct {
	Center   LngLat
	Zoom     float64
	Duration time.Duration
	// Offset shifts the final center by viewport pixels, so a target can
	// clear a side panel.
	Offset ScreenPoint
}

// Box is a lng/lat aligned bounding box, used by fill overlays.
type Box struct {
	MinLng, MinLat, MaxLng, MaxLat float64
}

// SourceSpec describes a data source. Point sources may be cluster-enabled,
// in which case the engine aggregates them per zoom; Boxes back fill layers.
type SourceSpec struct {
	Points         []cluster.Point
	Boxes          []Box
	Cluster        bool
	ClusterRadius  float64
	ClusterMaxZoom int
}

// Layer kinds.
const (
	LayerCircle = "circle"
	LayerSymbol = "symbol"
	LayerFill   = "fill"
)

// Layer filters over a clustered source.
const (
	FilterClusters = "clusters"
	FilterLeaves   = "leaves"
)

// LayerSpec describes one visual layer over a source. Paint values are
// engine-interpreted; the Sim stores them verbatim.
type LayerSpec struct {
	ID     string
	Source string
	Type   string
	Filter string
	Paint  map[string]interface{}
}

// Map is the capability surface of the underlying rendering engine.
//
// Mutating calls made before the style has loaded return an error rather
// than panicking; callers are expected to retry. Calls on a removed
// instance are no-ops.
type Map interface {
	On(event string, h Handler) ListenerID
	OnLayer(event, layerID string, h Handler) ListenerID
	Off(id ListenerID)

	AddSource(id string, spec SourceSpec) error
	RemoveSource(id string) error
	HasSource(id string) bool
	AddLayer(spec LayerSpec) error
	RemoveLayer(id string) error
	HasLayer(id string) bool

	QueryRenderedFeatures(p ScreenPoint, layerIDs []string) []Feature
	ClusterExpansionZoom(sourceID string, clusterID uint32) (float64, error)

	EaseTo(opts CameraOptions)
	FlyTo(opts CameraOptions)
	JumpTo(opts CameraOptions)

	GetZoom() float64
	GetCenter() LngLat
	Project(ll LngLat) ScreenPoint
	Resize()
	SetStyle(url string)
	IsStyleLoaded() bool
	SetCursor(cursor string)
	Remove()
	Removed() bool
}
