package search

import (
	"context"

	"github.com/woozymasta/nearby/internal/geo"
)

// LocationSource streams device locations.
type LocationSource interface {
	Locations() <-chan geo.Coordinate
}

// ReachabilitySource streams network reachability changes.
type ReachabilitySource interface {
	Reachability() <-chan bool
}

// Follow forwards both streams to the coordinator until ctx is done, the
// coordinator stops, or both channels are closed. Either source may be nil.
// Locations arrive as non-forced origin changes.
func (c *Coordinator) Follow(ctx context.Context, locations LocationSource, reachability ReachabilitySource) {
	var locs <-chan geo.Coordinate
	var reach <-chan bool
	if locations != nil {
		locs = locations.Locations()
	}
	if reachability != nil {
		reach = reachability.Reachability()
	}

	go func() {
		for locs != nil || reach != nil {
			select {
			case <-ctx.Done():
				return
			case <-c.stopped:
				return
			case origin, ok := <-locs:
				if !ok {
					locs = nil
					continue
				}
				c.OnOriginChanged(origin, false)
			case up, ok := <-reach:
				if !ok {
					reach = nil
					continue
				}
				c.OnConnectivityChanged(up)
			}
		}
	}()
}

// Feed is a channel-backed LocationSource and ReachabilitySource for hosts
// that receive device updates from elsewhere, such as an HTTP client.
type Feed struct {
	locations    chan geo.Coordinate
	reachability chan bool
}

// NewFeed creates a feed buffering up to size updates per stream.
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 1
	}
	return &Feed{
		locations:    make(chan geo.Coordinate, size),
		reachability: make(chan bool, size),
	}
}

// Locations implements LocationSource.
func (f *Feed) Locations() <-chan geo.Coordinate { return f.locations }

// Reachability implements ReachabilitySource.
func (f *Feed) Reachability() <-chan bool { return f.reachability }

// PushLocation queues a device location, waiting for room until ctx is done.
func (f *Feed) PushLocation(ctx context.Context, c geo.Coordinate) error {
	select {
	case f.locations <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushConnectivity queues a reachability change, waiting for room until ctx is done.
func (f *Feed) PushConnectivity(ctx context.Context, connected bool) error {
	select {
	case f.reachability <- connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends both streams. Pushing after Close panics.
func (f *Feed) Close() {
	close(f.locations)
	close(f.reachability)
}
