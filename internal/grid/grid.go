// Package grid plans geographic search grids and resolves search areas.
package grid

import (
	"math"

	"github.com/sells-group/leadscout/internal/model"
)

// DegreesPerKM is an approximate conversion factor for latitude degrees to
// kilometers. At mid-latitudes, 1 degree of latitude is approximately 111 km.
const DegreesPerKM = 1.0 / 111.0

// Point is one planned grid cell. Seq is the durable resumability contract:
// it is assigned in row-major scan order starting at 1 and is stable across
// re-runs with identical inputs.
type Point struct {
	Seq int
	Lat float64
	Lng float64
}

// PlanPoints produces the ordered point list covering a square bounding box
// of side 2×radiusDeg around center, sampled every stepDeg. Rows are scanned
// north to south, columns west to east. A radius of 0 (or a non-positive
// step) yields exactly the center point.
func PlanPoints(center model.LatLng, radiusDeg, stepDeg float64) []Point {
	if radiusDeg <= 0 || stepDeg <= 0 {
		return []Point{{Seq: 1, Lat: center.Lat, Lng: center.Lng}}
	}

	// Index-based stepping so float accumulation can't drop the final
	// row or column.
	perAxis := int(math.Floor(2*radiusDeg/stepDeg+1e-9)) + 1

	points := make([]Point, 0, perAxis*perAxis)
	seq := 1
	for row := 0; row < perAxis; row++ {
		lat := center.Lat + radiusDeg - float64(row)*stepDeg
		for col := 0; col < perAxis; col++ {
			lng := center.Lng - radiusDeg + float64(col)*stepDeg
			points = append(points, Point{Seq: seq, Lat: lat, Lng: lng})
			seq++
		}
	}
	return points
}
