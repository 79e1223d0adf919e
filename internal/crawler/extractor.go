package crawler

import (
	"context"
	"regexp"
	"strings"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/pkg/places"
)

// PlacesExtractor adapts the Places API client to the Extractor interface.
type PlacesExtractor struct {
	client places.Client
}

// NewPlacesExtractor wraps a Places client.
func NewPlacesExtractor(client places.Client) *PlacesExtractor {
	return &PlacesExtractor{client: client}
}

// Search runs a text search and converts the results to leads. TaskID and ID
// are left for the caller to assign.
func (e *PlacesExtractor) Search(ctx context.Context, query string, loc *model.LatLng, radiusDeg float64, limit int) ([]model.Lead, error) {
	req := places.TextSearchRequest{
		Query: query,
		Limit: limit,
	}
	if loc != nil {
		req.Lat = loc.Lat
		req.Lng = loc.Lng
		req.RadiusDeg = radiusDeg
	}

	resp, err := e.client.TextSearch(ctx, req)
	if err != nil {
		return nil, err
	}

	leads := make([]model.Lead, 0, len(resp.Places))
	for _, p := range resp.Places {
		if p.DisplayName.Text == "" {
			continue
		}
		city, state := parseCityState(p.FormattedAddress)
		leads = append(leads, model.Lead{
			Name:        p.DisplayName.Text,
			Category:    p.PrimaryType,
			Phone:       p.NationalPhone,
			Website:     p.WebsiteURI,
			Address:     p.FormattedAddress,
			City:        city,
			State:       state,
			Rating:      p.Rating,
			ReviewCount: p.UserRatingCount,
		})
	}
	return leads, nil
}

// stateZipRe matches a trailing "ST 12345" or "ST 12345-6789" segment.
var stateZipRe = regexp.MustCompile(`^([A-Z]{2})\s+\d{5}(-\d{4})?$`)

// parseCityState pulls city and state out of a US-formatted address like
// "42 Main St, Austin, TX 78701, USA". Returns empty strings when the
// address does not follow that shape.
func parseCityState(addr string) (city, state string) {
	parts := strings.Split(addr, ",")
	for i := len(parts) - 1; i >= 1; i-- {
		seg := strings.TrimSpace(parts[i])
		if m := stateZipRe.FindStringSubmatch(seg); m != nil {
			return strings.TrimSpace(parts[i-1]), m[1]
		}
	}
	return "", ""
}
