package marker

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwillington/filter-mapkit/shop"
)

// fakeLoader captures load requests and completes them on demand.
type fakeLoader struct {
	urls  []string
	dones []func(error)
}

func (f *fakeLoader) Load(url string, done func(error)) {
	f.urls = append(f.urls, url)
	f.dones = append(f.dones, done)
}

func (f *fakeLoader) completeAll(err error) {
	for _, done := range f.dones {
		done(err)
	}
	f.dones = nil
}

func testShop() *shop.Shop {
	return &shop.Shop{
		ID:       "shop-1",
		Name:     "Kiln Coffee",
		Location: &shop.Location{Lng: -0.1276, Lat: 51.5072},
		LogoURL:  "https://cdn.filterdirectory.app/logos/shop-1.png",
		Region:   &shop.Region{Name: "United Kingdom", Color: "#C8553D"},
	}
}

func TestPickMode(t *testing.T) {
	cases := []struct {
		name      string
		zoom      float64
		neighbors int
		want      Mode
	}{
		{"below detail zoom", 10, 0, ModeDot},
		{"dense area stays dot", 14, 8, ModeDot},
		{"sparse detail zone", 14, 2, ModeDetailed},
		{"exactly at threshold", 14, 6, ModeDot},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PickMode(tc.zoom, tc.neighbors))
		})
	}
}

func TestDotCarriesDisplayColor(t *testing.T) {
	h := New(testShop(), Options{Mode: ModeDot, Theme: ThemeLight})

	assert.True(t, h.HasClass("marker-dot"))
	assert.Equal(t, "#C8553D", h.Style("background-color"))
	assert.Empty(t, h.Label())
}

func TestDetailedShowsShimmerThenSwapsImage(t *testing.T) {
	loader := &fakeLoader{}
	h := New(testShop(), Options{Mode: ModeDetailed, Theme: ThemeDark, Zoom: 14, Images: loader})

	// Creation never blocks on the fetch: shimmer placeholder right away.
	assert.True(t, h.HasClass("shimmer-dark"))
	assert.False(t, h.HasImage())
	require.Len(t, loader.urls, 1)

	loader.completeAll(nil)
	assert.False(t, h.HasClass("shimmer-dark"))
	assert.True(t, h.HasImage())
	assert.Contains(t, h.Style("background-image"), "shop-1.png")
}

// goroutineLoader completes every load from its own goroutine, like a real
// network-backed loader would.
type goroutineLoader struct {
	wg sync.WaitGroup
}

func (g *goroutineLoader) Load(url string, done func(error)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		done(nil)
	}()
}

func TestConcurrentLoaderCompletionDuringCreation(t *testing.T) {
	loader := &goroutineLoader{}

	handles := make([]*Handle, 0, 64)
	for i := 0; i < 64; i++ {
		s := testShop()
		s.ID = fmt.Sprintf("shop-%d", i)
		handles = append(handles, New(s, Options{
			Mode: ModeDetailed, Theme: ThemeDark, Zoom: 14,
			Images: loader, Selected: i%2 == 0,
		}))
	}
	loader.wg.Wait()

	for _, h := range handles {
		assert.True(t, h.HasImage())
		assert.False(t, h.HasClass("shimmer-dark"))
		assert.Contains(t, h.Style("background-image"), "url(")
	}
}

func TestDetailedImageFailureKeepsFallback(t *testing.T) {
	loader := &fakeLoader{}
	h := New(testShop(), Options{Mode: ModeDetailed, Theme: ThemeLight, Zoom: 14, Images: loader})

	loader.completeAll(assert.AnError)

	assert.False(t, h.HasClass("shimmer-light"))
	assert.False(t, h.HasImage())
	assert.Equal(t, "#C8553D", h.Style("background-color"))
}

func TestDetailedWithoutLogoRendersSolidFallback(t *testing.T) {
	s := testShop()
	s.LogoURL = ""
	loader := &fakeLoader{}

	h := New(s, Options{Mode: ModeDetailed, Theme: ThemeLight, Zoom: 14, Images: loader})

	assert.Empty(t, loader.urls)
	assert.Equal(t, "#C8553D", h.Style("background-color"))
	assert.False(t, h.HasClass("shimmer-light"))
}

func TestLabelGatesIndependentlyOfLogo(t *testing.T) {
	below := New(testShop(), Options{Mode: ModeDetailed, Zoom: 14.0})
	at := New(testShop(), Options{Mode: ModeDetailed, Zoom: 15.0})

	assert.Empty(t, below.Label())
	assert.Equal(t, "Kiln Coffee", at.Label())
}

func TestUpdateSelectionUsesRecordedMode(t *testing.T) {
	s := testShop()

	dot := New(s, Options{Mode: ModeDot})
	UpdateSelection(dot, true, s)
	assert.Equal(t, "scale(1.4)", dot.Style("transform"))
	assert.Equal(t, "30", dot.Style("z-index"))
	assert.True(t, dot.Selected())

	UpdateSelection(dot, false, s)
	assert.Empty(t, dot.Style("transform"))
	assert.Equal(t, "10", dot.Style("z-index"))

	detailed := New(s, Options{Mode: ModeDetailed, Zoom: 14})
	UpdateSelection(detailed, true, s)
	assert.Equal(t, "#FFFFFF", detailed.Style("border-color"))
	assert.Equal(t, "3px", detailed.Style("border-width"))

	UpdateSelection(detailed, false, s)
	assert.Equal(t, "#C8553D", detailed.Style("border-color"))
	assert.Equal(t, "1px", detailed.Style("border-width"))
}

func TestUpdateSelectionNilHandleIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		UpdateSelection(nil, true, testShop())
	})
}

func TestBadgeVisibilityClassToggle(t *testing.T) {
	h := Badge(testShop(), ThemeLight, nil, nil)
	require.NotNil(t, h)

	// Created hidden.
	assert.True(t, h.HasClass("badge-hidden"))
	assert.False(t, h.Visible())

	h.Show()
	assert.True(t, h.Visible())
	assert.False(t, h.HasClass("badge-hidden"))

	h.Hide()
	assert.False(t, h.Visible())
	assert.True(t, h.HasClass("badge-hidden"))
}

func TestBadgeSkipsShopsMissingData(t *testing.T) {
	noCoords := testShop()
	noCoords.Location = nil
	assert.Nil(t, Badge(noCoords, ThemeLight, nil, nil))

	noName := testShop()
	noName.Name = ""
	assert.Nil(t, Badge(noName, ThemeLight, nil, nil))

	assert.Nil(t, Badge(nil, ThemeLight, nil, nil))
}

func TestBadgeClickFiresTap(t *testing.T) {
	taps := 0
	h := Badge(testShop(), ThemeDark, nil, func() { taps++ })
	require.NotNil(t, h)

	h.Click()
	assert.Equal(t, 1, taps)

	// A handle without a tap callback is inert, not a panic.
	quiet := Badge(testShop(), ThemeDark, nil, nil)
	assert.NotPanics(t, quiet.Click)
}

func TestClassList(t *testing.T) {
	h := Badge(testShop(), ThemeLight, nil, nil)
	require.NotNil(t, h)
	assert.Equal(t, "badge badge-hidden", h.ClassList())
}
