package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/woozymasta/nearby/internal/geo"
	"github.com/woozymasta/nearby/internal/place"
)

// DefaultRadius is the nearby search radius in meters.
const DefaultRadius = 10000.0

// Gateway is the remote lookup surface the coordinator drives.
// *places.Client satisfies it.
type Gateway interface {
	FetchNearby(ctx context.Context, origin geo.Coordinate, radius float64) ([]place.Record, error)
	FetchAutocomplete(ctx context.Context, text string) ([]place.Record, error)
	ResolveCoordinate(ctx context.Context, rec place.Record) (place.Record, error)
}

// RefreshPolicy decides whether a non-forced origin change re-runs the
// nearby search when results are already shown.
type RefreshPolicy uint8

const (
	// RefreshWhenEmpty searches on the first origin, then only while the
	// result list is empty.
	RefreshWhenEmpty RefreshPolicy = iota
	// RefreshAlways searches on every origin change.
	RefreshAlways
)

func (p RefreshPolicy) String() string {
	if p == RefreshAlways {
		return "always"
	}
	return "when-empty"
}

// ParseRefreshPolicy maps "when-empty" and "always" to a policy.
func ParseRefreshPolicy(s string) (RefreshPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "when-empty":
		return RefreshWhenEmpty, nil
	case "always":
		return RefreshAlways, nil
	}
	return 0, fmt.Errorf("unknown refresh policy %q", s)
}

// State is the lifecycle of the nearby search. Populated, Empty and Failed
// are idle states that remember the last outcome.
type State uint8

const (
	Idle State = iota
	Searching
	Populated
	Empty
	Failed
)

var stateNames = [...]string{"idle", "searching", "populated", "empty", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// EventKind tells sinks what changed.
type EventKind uint8

const (
	// EventResults carries a new non-empty result list.
	EventResults EventKind = iota + 1
	// EventNoResults reports a search that matched nothing.
	EventNoResults
	// EventFailed reports a failed nearby search; results are unchanged.
	EventFailed
	// EventSuggestions carries a new suggestion list.
	EventSuggestions
	// EventSelectFailed reports a suggestion that could not be located.
	EventSelectFailed
	// EventOffline reports loss of connectivity.
	EventOffline
)

var eventNames = [...]string{"", "results", "no_results", "failed", "suggestions", "select_failed", "offline"}

func (k EventKind) String() string {
	if int(k) < len(eventNames) && k != 0 {
		return eventNames[k]
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Event is delivered to sinks after each applied change. Slices are copies
// of the session state shared by all sinks; treat them as read-only.
type Event struct {
	Err         error
	Session     string
	Query       string
	Results     []place.Record
	Suggestions []place.Record
	Origin      geo.Coordinate
	Kind        EventKind
	State       State
}

// Sink receives coordinator events. Deliver runs on the coordinator loop and
// must not block.
type Sink interface {
	Deliver(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Deliver calls f(ev).
func (f SinkFunc) Deliver(ev Event) { f(ev) }

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	Err           error          `json:"-"`
	Session       string         `json:"session"`
	Query         string         `json:"query"`
	Results       []place.Record `json:"results"`
	Suggestions   []place.Record `json:"suggestions"`
	Origin        geo.Coordinate `json:"origin"`
	ResultsOrigin geo.Coordinate `json:"results_origin"`
	LastResolved  geo.Coordinate `json:"last_resolved"`
	State         State          `json:"state"`
	Online        bool           `json:"online"`
}
