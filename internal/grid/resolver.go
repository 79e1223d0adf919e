package grid

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/model"
)

// Area is a resolved search area: a center plus half-side radius in degrees.
type Area struct {
	Center    model.LatLng
	RadiusDeg float64
}

// PlaceDirectory looks up named places in the geographic reference table.
// An unknown name returns (nil, nil), not an error.
type PlaceDirectory interface {
	LookupPlace(ctx context.Context, name string) (*Area, error)
}

// Resolver turns a task's geographic configuration into a search area. It
// accepts three configuration styles: a named place, an explicit center and
// radius, or a bounding rectangle.
type Resolver struct {
	places PlaceDirectory
}

// NewResolver creates a Resolver backed by the given place directory.
func NewResolver(places PlaceDirectory) *Resolver {
	return &Resolver{places: places}
}

// Resolve returns the search area for a geo config, or (nil, nil) when no
// area can be determined, in which case the caller falls back to a single
// unparameterized crawl. Only infrastructure failures (directory lookup
// errors) are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, geo *model.GeoConfig) (*Area, error) {
	if geo == nil {
		return nil, nil
	}

	switch {
	case geo.Center != nil:
		return &Area{Center: *geo.Center, RadiusDeg: geo.RadiusDeg}, nil

	case geo.Rect != nil:
		return rectToArea(*geo.Rect), nil

	case geo.Place != "":
		if r.places == nil {
			return nil, nil
		}
		area, err := r.places.LookupPlace(ctx, geo.Place)
		if err != nil {
			return nil, eris.Wrapf(err, "grid: lookup place %q", geo.Place)
		}
		return area, nil

	default:
		return nil, nil
	}
}

// rectToArea converts a bounding rectangle to its center plus a radius of
// half the larger extent, so the resulting square covers the whole rectangle.
func rectToArea(rect model.Rect) *Area {
	latExtent := rect.NE.Lat - rect.SW.Lat
	lngExtent := rect.NE.Lng - rect.SW.Lng

	radius := latExtent
	if lngExtent > radius {
		radius = lngExtent
	}
	radius /= 2

	return &Area{
		Center: model.LatLng{
			Lat: rect.SW.Lat + latExtent/2,
			Lng: rect.SW.Lng + lngExtent/2,
		},
		RadiusDeg: radius,
	}
}
