// Package projector computes which authoritative records are relevant to a
// device. Results are deterministic for a fixed scope and a fixed snapshot of
// the authoritative store.
package projector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Entity types with built-in relevance rules.
const (
	Intervention  = "intervention"
	Customer      = "customer"
	Project       = "project"
	SalesDocument = "sales_document"
)

// ErrUnknownEntityType is returned when no rule is registered for a type.
var ErrUnknownEntityType = errors.New("unknown entity type")

// Scope bounds what is relevant to one device.
type Scope struct {
	DeviceID     string
	TechnicianID string
	Territory    string

	// Geo filter, only applied when HasLocation is set.
	HasLocation bool
	Latitude    float64
	Longitude   float64
	RadiusKm    float64

	WindowStart time.Time
	WindowEnd   time.Time
}

// Window returns a time window of past before now and future after it.
func Window(now time.Time, past, future time.Duration) (time.Time, time.Time) {
	return now.Add(-past), now.Add(future)
}

// Projector maps an entity type and scope to the ordered set of relevant ids.
type Projector interface {
	// EntityTypes lists registered entity types in registration order.
	EntityTypes() []string
	Project(ctx context.Context, entityType string, scope Scope) ([]string, error)
}

// ProjectionError reports a failed relevance query for one entity type.
type ProjectionError struct {
	EntityType string
	Err        error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("project %s: %v", e.EntityType, e.Err)
}

func (e *ProjectionError) Unwrap() error { return e.Err }

// Normalize sorts ids and drops duplicates and empty values.
func Normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Static serves fixed results, keyed by entity type then device id. It is
// used for dry runs and tests.
type Static struct {
	Types  []string
	IDs    map[string]map[string][]string
	Errors map[string]error
}

// EntityTypes implements Projector.
func (s *Static) EntityTypes() []string {
	return slices.Clone(s.Types)
}

// Project implements Projector.
func (s *Static) Project(ctx context.Context, entityType string, scope Scope) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ProjectionError{EntityType: entityType, Err: err}
	}
	if !slices.Contains(s.Types, entityType) {
		return nil, &ProjectionError{EntityType: entityType, Err: ErrUnknownEntityType}
	}
	if err := s.Errors[entityType]; err != nil {
		return nil, &ProjectionError{EntityType: entityType, Err: err}
	}
	return Normalize(s.IDs[entityType][scope.DeviceID]), nil
}

// StaticDirectory resolves devices from a fixed map of scopes.
type StaticDirectory map[string]Scope

// Devices lists device ids in ascending order.
func (d StaticDirectory) Devices(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Scope returns the scope registered for deviceID.
func (d StaticDirectory) Scope(ctx context.Context, deviceID string) (Scope, error) {
	scope, ok := d[deviceID]
	if !ok {
		return Scope{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if scope.DeviceID == "" {
		scope.DeviceID = deviceID
	}
	return scope, nil
}
