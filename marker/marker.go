// Package marker synthesizes the visual handles shown on top of the map:
// plain dots, detailed logo markers and the zoomed-in logo badges. Handles
// are engine-independent class/style records mutated in place; replacing a
// live element mid-flight loses image state and flickers.
package marker

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jonwillington/filter-mapkit/geo"
	"github.com/jonwillington/filter-mapkit/shop"
)

// Theme selects the light or dark visual treatment.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Mode is the visual form a handle was created in. Selection restyling reads
// the handle's own recorded mode so callers never have to remember it.
type Mode int

const (
	ModeDot Mode = iota
	ModeDetailed
	ModeBadge
)

func (m Mode) String() string {
	switch m {
	case ModeDot:
		return "dot"
	case ModeDetailed:
		return "detailed"
	case ModeBadge:
		return "badge"
	default:
		return "unknown"
	}
}

// densityDotThreshold is the neighbor count above which a detailed visual
// degrades to a dot even past the detail zoom.
const densityDotThreshold = 6

// ImageLoader fetches a logo asynchronously. Load must call done exactly
// once, from any goroutine; a nil error means the image is usable.
type ImageLoader interface {
	Load(url string, done func(error))
}

// Handle is one live marker/badge element.
type Handle struct {
	ShopID string

	mu       sync.Mutex
	mode     Mode
	selected bool
	theme    Theme
	classes  map[string]bool
	style    map[string]string
	label    string
	imageURL string
	imageSet bool
	onTap    func()
}

// Options parameterize handle creation.
type Options struct {
	Selected bool
	Theme    Theme
	Mode     Mode
	Zoom     float64
	Images   ImageLoader
	OnTap    func()
}

// PickMode chooses the visual form for a shop given the zoom bracket and its
// local crowding: dots below the detail zoom and in dense spots, detailed
// logo visuals otherwise.
func PickMode(zoom float64, neighborCount int) Mode {
	if zoom < geo.DetailMinZoom {
		return ModeDot
	}
	if neighborCount >= densityDotThreshold {
		return ModeDot
	}
	return ModeDetailed
}

// New synthesizes a handle for one shop. Creation never blocks on image
// fetch: detailed visuals show a theme-appropriate shimmer immediately and
// swap to the logo when the loader reports success; failure keeps the
// solid-color fallback with no error.
func New(s *shop.Shop, opts Options) *Handle {
	h := &Handle{
		ShopID:  s.ID,
		mode:    opts.Mode,
		theme:   opts.Theme,
		classes: make(map[string]bool),
		style:   make(map[string]string),
		onTap:   opts.OnTap,
	}

	color := s.DisplayColor()
	var startLoad func()
	switch opts.Mode {
	case ModeDot:
		h.classes["marker"] = true
		h.classes["marker-dot"] = true
		h.style["background-color"] = color

	case ModeDetailed:
		h.classes["marker"] = true
		h.classes["marker-detailed"] = true
		h.style["border-color"] = color
		h.style["background-color"] = color
		if opts.Zoom >= geo.LabelMinZoom && s.Name != "" {
			h.label = s.Name
		}
		startLoad = h.beginLogoLoad(s.LogoURL, opts.Images)

	case ModeBadge:
		h.classes["badge"] = true
		h.classes["badge-hidden"] = true
		h.style["border-color"] = color
		h.style["background-color"] = color
		startLoad = h.beginLogoLoad(s.LogoURL, opts.Images)
	}

	h.applySelection(opts.Selected, color)

	// The loader may call done from another goroutine before Load returns,
	// so the callback is registered only once the handle is fully built.
	if startLoad != nil {
		startLoad()
	}
	return h
}

// Badge synthesizes the zoomed-in logo badge for a shop, hidden until shown.
// Shops without resolvable coordinates or a name produce nil: skip silently,
// not an error.
func Badge(s *shop.Shop, theme Theme, images ImageLoader, onTap func()) *Handle {
	if s == nil || s.Name == "" {
		return nil
	}
	if _, _, ok := s.Coordinates(); !ok {
		return nil
	}
	return New(s, Options{Theme: theme, Mode: ModeBadge, Images: images, OnTap: onTap})
}

// beginLogoLoad stages the shimmer placeholder and returns the deferred
// loader registration; the caller invokes it after construction finishes.
func (h *Handle) beginLogoLoad(url string, images ImageLoader) func() {
	if url == "" || images == nil {
		// Solid display-color fallback, already in place.
		return nil
	}

	shimmer := "shimmer-light"
	if h.theme == ThemeDark {
		shimmer = "shimmer-dark"
	}
	h.classes[shimmer] = true
	h.imageURL = url

	return func() {
		images.Load(url, func(err error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.classes, "shimmer-light")
			delete(h.classes, "shimmer-dark")
			if err != nil {
				// Keep the solid-color fallback.
				return
			}
			h.imageSet = true
			h.style["background-image"] = fmt.Sprintf("url(%s)", url)
		})
	}
}

// applySelection mutates the selection style set for the handle's recorded
// mode. Caller must not hold h.mu (creation path) or must hold it
// (UpdateSelection path handles locking itself).
func (h *Handle) applySelection(selected bool, color string) {
	h.selected = selected
	switch h.mode {
	case ModeDot:
		if selected {
			h.style["transform"] = "scale(1.4)"
			h.style["border"] = "2px solid #FFFFFF"
			h.style["z-index"] = "30"
		} else {
			delete(h.style, "transform")
			delete(h.style, "border")
			h.style["z-index"] = "10"
		}
	case ModeDetailed, ModeBadge:
		if selected {
			h.style["transform"] = "scale(1.15)"
			h.style["border-width"] = "3px"
			h.style["border-color"] = "#FFFFFF"
			h.style["z-index"] = "30"
		} else {
			delete(h.style, "transform")
			h.style["border-width"] = "1px"
			h.style["border-color"] = color
			h.style["z-index"] = "20"
		}
	}
}

// UpdateSelection toggles the handle's selection styling in place, using the
// mode recorded at creation.
func UpdateSelection(h *Handle, selected bool, s *shop.Shop) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.applySelection(selected, s.DisplayColor())
}

// Show reveals a badge by class toggle; the element itself is never rebuilt.
func (h *Handle) Show() {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.classes, "badge-hidden")
	h.classes["badge-visible"] = true
}

// Hide conceals a badge by class toggle.
func (h *Handle) Hide() {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.classes, "badge-visible")
	h.classes["badge-hidden"] = true
}

// Visible reports whether a badge is currently shown.
func (h *Handle) Visible() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.classes["badge-visible"]
}

// Click fires the handle's tap callback, if any.
func (h *Handle) Click() {
	h.mu.Lock()
	tap := h.onTap
	h.mu.Unlock()
	if tap != nil {
		tap()
	}
}

// Mode reports the visual form the handle was created in.
func (h *Handle) Mode() Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

// Selected reports the handle's current selection state.
func (h *Handle) Selected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.selected
}

// HasClass reports whether the class is set.
func (h *Handle) HasClass(class string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.classes[class]
}

// ClassList returns the sorted class set, for rendering and assertions.
func (h *Handle) ClassList() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.classes))
	for c := range h.classes {
		names = append(names, c)
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}

// Style returns one style property ("" when unset).
func (h *Handle) Style(prop string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.style[prop]
}

// Label returns the marker's text label ("" when gated off).
func (h *Handle) Label() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.label
}

// HasImage reports whether the logo swap has completed.
func (h *Handle) HasImage() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.imageSet
}
