// Package mapview models the map widget: a pin layer and a viewport that
// always fits every pin on the layer.
//
// Coordinates are stored as go-geom XY points with X = longitude and Y = latitude.
package mapview

import (
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/locmap/pkg/extract"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Pin is a map marker derived from one Location.
type Pin struct {
	Title string
	Point *geom.Point
}

// Lat returns the pin latitude.
func (p Pin) Lat() float64 { return p.Point.Y() }

// Lon returns the pin longitude.
func (p Pin) Lon() float64 { return p.Point.X() }

// Viewport is the bounding box the map is fitted to.
type Viewport struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// Center returns the middle of the viewport.
func (v Viewport) Center() (lat, lon float64) {
	return (v.MinLat + v.MaxLat) / 2, (v.MinLon + v.MaxLon) / 2
}

// Map is the map handle. It is created once and reused across runs.
type Map struct {
	pins   []Pin
	bounds *geom.Bounds
}

// New creates an empty map.
func New() *Map {
	return &Map{bounds: geom.NewBounds(geom.XY)}
}

// Clear removes every pin from the layer. The viewport keeps its last fit.
func (m *Map) Clear() {
	m.pins = nil
}

// Add appends one pin per location and refits the viewport to all pins.
func (m *Map) Add(locs []extract.Location) {
	for _, loc := range locs {
		m.pins = append(m.pins, Pin{
			Title: loc.Title,
			Point: geom.NewPointFlat(geom.XY, []float64{loc.Lon, loc.Lat}),
		})
	}
	m.fit()
}

func (m *Map) fit() {
	if len(m.pins) == 0 {
		return
	}
	bounds := geom.NewBounds(geom.XY)
	for _, p := range m.pins {
		bounds.Extend(p.Point)
	}
	m.bounds = bounds
}

// Len returns the number of pins on the layer.
func (m *Map) Len() int {
	return len(m.pins)
}

// Pins returns a copy of the pin layer in insertion order.
func (m *Map) Pins() []Pin {
	out := make([]Pin, len(m.pins))
	copy(out, m.pins)
	return out
}

// Viewport returns the current fit. ok is false until a pin was ever added.
func (m *Map) Viewport() (v Viewport, ok bool) {
	if m.bounds == nil || m.bounds.IsEmpty() {
		return Viewport{}, false
	}
	return Viewport{
		MinLat: m.bounds.Min(1),
		MinLon: m.bounds.Min(0),
		MaxLat: m.bounds.Max(1),
		MaxLon: m.bounds.Max(0),
	}, true
}

// GeoJSON encodes the pin layer as a FeatureCollection.
func (m *Map) GeoJSON() ([]byte, error) {
	fc := &geojson.FeatureCollection{
		Features: make([]*geojson.Feature, 0, len(m.pins)),
	}
	for _, p := range m.pins {
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   p.Point,
			Properties: map[string]interface{}{"title": p.Title},
		})
	}
	if len(m.pins) > 0 {
		fc.BBox = m.bounds.Clone()
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("marshal pins: %w", err)
	}
	return data, nil
}
