package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/grid"
)

// UpsertPlaces loads or refreshes the named place directory.
func (s *PostgresStore) UpsertPlaces(ctx context.Context, seeds []grid.PlaceSeed) (int64, error) {
	var n int64
	for _, seed := range seeds {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO geo_places (name, lat, lng, radius_deg)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO UPDATE SET
				lat = EXCLUDED.lat, lng = EXCLUDED.lng, radius_deg = EXCLUDED.radius_deg`,
			strings.ToLower(seed.Name), seed.Lat, seed.Lng, seed.RadiusDeg())
		if err != nil {
			return n, eris.Wrapf(err, "postgres: upsert place %q", seed.Name)
		}
		n += tag.RowsAffected()
	}
	return n, nil
}

// LookupPlace resolves a place name to its area. Unknown names return
// (nil, nil) so the caller can distinguish absence from failure.
func (s *PostgresStore) LookupPlace(ctx context.Context, name string) (*grid.Area, error) {
	var area grid.Area
	err := s.pool.QueryRow(ctx,
		`SELECT lat, lng, radius_deg FROM geo_places WHERE name = $1`,
		strings.ToLower(strings.TrimSpace(name))).
		Scan(&area.Center.Lat, &area.Center.Lng, &area.RadiusDeg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: lookup place %q", name)
	}
	return &area, nil
}
