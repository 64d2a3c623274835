package projector

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"
)

// timeParamFormat is how window bounds are bound to rule queries. Source
// timestamps are expected as ISO-8601 UTC text.
const timeParamFormat = "2006-01-02T15:04:05Z"

// SQLProjector evaluates rules against the authoritative store.
type SQLProjector struct {
	db *sql.DB

	mu    sync.RWMutex
	rules []Rule
	index map[string]Rule
}

// NewSQL creates a projector over db with the given rules.
func NewSQL(db *sql.DB, rules []Rule) (*SQLProjector, error) {
	p := &SQLProjector{db: db}
	if err := p.SetRules(rules); err != nil {
		return nil, err
	}
	return p, nil
}

// SetRules validates rules and swaps them in atomically.
func (p *SQLProjector) SetRules(rules []Rule) error {
	if err := ValidateRules(rules); err != nil {
		return err
	}
	index := make(map[string]Rule, len(rules))
	for _, r := range rules {
		index[r.EntityType] = r
	}
	p.mu.Lock()
	p.rules = slices.Clone(rules)
	p.index = index
	p.mu.Unlock()
	return nil
}

// Rules returns a copy of the active rules.
func (p *SQLProjector) Rules() []Rule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.rules)
}

// EntityTypes implements Projector.
func (p *SQLProjector) EntityTypes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	types := make([]string, len(p.rules))
	for i, r := range p.rules {
		types[i] = r.EntityType
	}
	return types
}

// Project implements Projector.
func (p *SQLProjector) Project(ctx context.Context, entityType string, scope Scope) ([]string, error) {
	p.mu.RLock()
	rule, ok := p.index[entityType]
	p.mu.RUnlock()
	if !ok {
		return nil, &ProjectionError{EntityType: entityType, Err: ErrUnknownEntityType}
	}

	ids, err := p.run(ctx, rule, scope)
	if err != nil {
		return nil, &ProjectionError{EntityType: entityType, Err: err}
	}
	return Normalize(ids), nil
}

func (p *SQLProjector) run(ctx context.Context, rule Rule, scope Scope) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, rule.Query, bindArgs(rule.Query, scope)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		if !rule.Geo {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, fmt.Errorf("scan id: %w", err)
			}
			ids = append(ids, id)
			continue
		}

		var id string
		var lat, lon sql.NullFloat64
		var anchored int64
		if err := rows.Scan(&id, &lat, &lon, &anchored); err != nil {
			return nil, fmt.Errorf("scan geo row: %w", err)
		}
		if anchored != 0 || withinRadius(scope, lat, lon) {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

func withinRadius(scope Scope, lat, lon sql.NullFloat64) bool {
	if !scope.HasLocation || !lat.Valid || !lon.Valid {
		return false
	}
	return haversineKm(scope.Latitude, scope.Longitude, lat.Float64, lon.Float64) <= scope.RadiusKm
}

// bindArgs returns named arguments for the parameters query references.
// Unreferenced parameters are not bound.
func bindArgs(query string, scope Scope) []any {
	latMin, latMax, lonMin, lonMax := boundingBox(scope.Latitude, scope.Longitude, scope.RadiusKm)
	hasLocation := 0
	if scope.HasLocation {
		hasLocation = 1
	}
	values := map[string]any{
		"device_id":     scope.DeviceID,
		"technician_id": scope.TechnicianID,
		"territory":     scope.Territory,
		"window_start":  formatParamTime(scope.WindowStart),
		"window_end":    formatParamTime(scope.WindowEnd),
		"has_location":  hasLocation,
		"lat":           scope.Latitude,
		"lon":           scope.Longitude,
		"radius_km":     scope.RadiusKm,
		"lat_min":       latMin,
		"lat_max":       latMax,
		"lon_min":       lonMin,
		"lon_max":       lonMax,
	}

	var args []any
	for _, name := range queryParams(query) {
		if v, ok := values[name]; ok {
			args = append(args, sql.Named(name, v))
		}
	}
	return args
}

func formatParamTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeParamFormat)
}
