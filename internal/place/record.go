// Package place defines the place record shared by the gateway, the search
// coordinator and the display layer, plus the provider wire schema it is
// built from.
package place

import (
	"slices"

	"github.com/woozymasta/nearby/internal/geo"
)

// Resolution tells whether a record carries a known coordinate.
type Resolution uint8

const (
	// Unresolved records come from autocomplete; their coordinate is unknown
	// until geocoded.
	Unresolved Resolution = iota
	// Resolved records have a real coordinate and may be placed on a map.
	Resolved
)

func (r Resolution) String() string {
	if r == Resolved {
		return "resolved"
	}
	return "unresolved"
}

// MarshalText implements encoding.TextMarshaler.
func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Record is a place shown to the user, either as a search result or as an
// autocomplete suggestion.
type Record struct {
	Name           string         `json:"name" yaml:"name"`
	Address        string         `json:"address" yaml:"address"`
	Icon           string         `json:"icon,omitempty" yaml:"icon,omitempty"`
	ImageReference string         `json:"image_reference,omitempty" yaml:"image_reference,omitempty"`
	Coordinate     geo.Coordinate `json:"coordinate" yaml:"coordinate"`
	Distance       float64        `json:"distance" yaml:"distance"` // meters from the search origin
	Resolution     Resolution     `json:"resolution" yaml:"resolution"`
}

// FromNearby builds a resolved record from a nearby search entry,
// measuring its distance from origin.
func FromNearby(r NearbyResult, origin geo.Coordinate) Record {
	rec := Record{
		Name:       r.Name,
		Address:    r.Vicinity,
		Icon:       r.Icon,
		Resolution: Resolved,
	}

	if r.Geometry != nil && r.Geometry.Location != nil {
		rec.Coordinate = r.Geometry.Location.Coordinate()
	}
	rec.Distance = geo.Distance(origin, rec.Coordinate)

	if len(r.Photos) > 0 {
		rec.ImageReference = r.Photos[0].PhotoReference
	}

	return rec
}

// FromPrediction builds an unresolved record from an autocomplete prediction.
func FromPrediction(p Prediction) Record {
	return Record{
		Name:           p.StructuredFormatting.MainText,
		Address:        p.Description,
		ImageReference: p.Reference,
		Resolution:     Unresolved,
	}
}

// WithCoordinate returns a resolved copy of r located at c.
func (r Record) WithCoordinate(c geo.Coordinate) Record {
	r.Coordinate = c
	r.Resolution = Resolved
	return r
}

// Displayable reports whether r may be placed on a map.
func (r Record) Displayable() bool {
	return r.Resolution == Resolved
}

// SortByDistance returns a copy of recs ordered by ascending distance.
// Equal distances keep their arrival order; recs itself is left untouched.
func SortByDistance(recs []Record) []Record {
	out := slices.Clone(recs)
	if out == nil {
		out = []Record{}
	}

	slices.SortStableFunc(out, func(a, b Record) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})

	return out
}
