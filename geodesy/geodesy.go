// Package geodesy converts between GPS coordinates and the local East-North-Up
// frame the estimator works in.
package geodesy

import (
	"math"

	geo "github.com/kellydunn/golang-geo"
	"gonum.org/v1/gonum/spatial/r3"
)

// Frame is a local tangent frame anchored at a home point. Over the few
// kilometres a multirotor covers, great-circle distance and bearing from home
// give the horizontal position to well below GPS noise.
type Frame struct {
	home *geo.Point
	alt  float64
}

// NewFrame anchors a frame at lat, lng (degrees) and alt (m).
func NewFrame(lat, lng, alt float64) *Frame {
	return &Frame{home: geo.NewPoint(lat, lng), alt: alt}
}

// Home returns the anchor point.
func (f *Frame) Home() (lat, lng, alt float64) {
	return f.home.Lat(), f.home.Lng(), f.alt
}

// ToLocal returns the position of lat, lng, alt relative to home, m.
func (f *Frame) ToLocal(lat, lng, alt float64) r3.Vec {
	p := geo.NewPoint(lat, lng)
	d := f.home.GreatCircleDistance(p) * 1000
	if d == 0 {
		return r3.Vec{Z: alt - f.alt}
	}
	b := f.home.BearingTo(p) * math.Pi / 180
	return r3.Vec{X: d * math.Sin(b), Y: d * math.Cos(b), Z: alt - f.alt}
}

// ToGeo is the inverse of ToLocal.
func (f *Frame) ToGeo(v r3.Vec) (lat, lng, alt float64) {
	d := math.Hypot(v.X, v.Y)
	p := f.home
	if d > 0 {
		p = f.home.PointAtDistanceAndBearing(d/1000, math.Atan2(v.X, v.Y)*180/math.Pi)
	}
	return p.Lat(), p.Lng(), f.alt + v.Z
}

// Distance returns the great-circle distance between two coordinates, m.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	return geo.NewPoint(lat1, lng1).GreatCircleDistance(geo.NewPoint(lat2, lng2)) * 1000
}

// Bearing returns the initial bearing from the first coordinate to the second,
// degrees clockwise from north.
func Bearing(lat1, lng1, lat2, lng2 float64) float64 {
	return geo.NewPoint(lat1, lng1).BearingTo(geo.NewPoint(lat2, lng2))
}
