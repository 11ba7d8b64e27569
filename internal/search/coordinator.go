// Package search coordinates one place-search session: it reacts to origin
// changes, autocomplete input, suggestion picks and connectivity, drives the
// gateway and publishes each applied change to sinks.
//
// All session state is owned by the goroutine running Run. Inputs and gateway
// replies are posted to it as commands, so no locking is needed and replies
// from superseded requests are recognised by their sequence number.
package search

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"

	"github.com/woozymasta/nearby/internal/geo"
	"github.com/woozymasta/nearby/internal/place"
	"github.com/woozymasta/nearby/internal/places"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultQueueSize = 64

var (
	// ErrRunning is returned by Run when the loop is already active.
	ErrRunning = errors.New("search: coordinator already running")
	// ErrStopped is returned when the loop has exited.
	ErrStopped = errors.New("search: coordinator stopped")
	// ErrNoSuggestion is returned by SelectSuggestion for an out-of-range index.
	ErrNoSuggestion = errors.New("search: no such suggestion")
)

// Options configure a Coordinator.
type Options struct {
	// SessionID identifies the session in events and logs; a UUID when empty.
	SessionID string
	Radius    float64
	Refresh   RefreshPolicy
	QueueSize int
}

type command func(ctx context.Context)

// session is the mutable state, touched only inside the loop.
type session struct {
	lastErr       error
	query         string
	results       []place.Record
	suggestions   []place.Record
	origin        geo.Coordinate
	device        geo.Coordinate
	lastResolved  geo.Coordinate
	resultsOrigin geo.Coordinate
	nearbySeq     uint64
	autoSeq       uint64
	selectSeq     uint64
	state         State
	first         bool
	online        bool
}

// Coordinator runs one search session.
type Coordinator struct {
	gw      Gateway
	inbox   chan command
	stopped chan struct{}
	log     zerolog.Logger
	id      string
	sinks   []Sink
	s       session
	radius  float64
	policy  RefreshPolicy
	running atomic.Bool
}

// New creates a coordinator; call Run to start it.
func New(gw Gateway, opts Options, sinks ...Sink) *Coordinator {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Radius <= 0 {
		opts.Radius = DefaultRadius
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	return &Coordinator{
		gw:      gw,
		inbox:   make(chan command, opts.QueueSize),
		stopped: make(chan struct{}),
		log:     log.With().Str("session", opts.SessionID).Logger(),
		id:      opts.SessionID,
		sinks:   sinks,
		radius:  opts.Radius,
		policy:  opts.Refresh,
		s: session{
			first:  true,
			online: true,
		},
	}
}

// ID returns the session identifier.
func (c *Coordinator) ID() string { return c.id }

// Run processes inputs until ctx is done. Gateway calls started by the loop
// inherit ctx.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(c.stopped)

	c.log.Info().
		Float64("radius", c.radius).
		Str("refresh", c.policy.String()).
		Msg("Search session started")

	for {
		select {
		case <-ctx.Done():
			c.drain()
			c.log.Info().Msg("Search session stopped")
			return nil
		case cmd := <-c.inbox:
			cmd(ctx)
		}
	}
}

// drain discards commands queued before shutdown. Waiters blocked on a
// discarded command observe the closed stopped channel instead.
func (c *Coordinator) drain() {
	for {
		select {
		case <-c.inbox:
		default:
			return
		}
	}
}

// Done is closed once Run has returned.
func (c *Coordinator) Done() <-chan struct{} { return c.stopped }

// post queues cmd for the loop. It reports false once the loop has exited.
func (c *Coordinator) post(cmd command) bool {
	select {
	case <-c.stopped:
		return false
	default:
	}

	select {
	case c.inbox <- cmd:
		return true
	case <-c.stopped:
		return false
	}
}

// OnOriginChanged reports a new device or user origin. The first origin of a
// session always searches; later ones search only when forced, when the
// policy is RefreshAlways, or while no results are shown. It reports false
// once the session has stopped.
func (c *Coordinator) OnOriginChanged(origin geo.Coordinate, force bool) bool {
	return c.post(func(ctx context.Context) { c.originChanged(ctx, origin, force) })
}

// Refresh re-runs the nearby search at the current origin.
func (c *Coordinator) Refresh() bool {
	return c.post(func(ctx context.Context) {
		if c.s.origin.IsZero() {
			c.log.Debug().Msg("Refresh ignored, origin unknown")
			return
		}
		c.startNearby(ctx, c.s.origin)
	})
}

// OnAutocompleteInput requests suggestions for text. Only the reply to the
// latest input is applied.
func (c *Coordinator) OnAutocompleteInput(text string) bool {
	return c.post(func(ctx context.Context) { c.autocomplete(ctx, text) })
}

// OnSuggestionPicked geocodes rec and, once located, moves the origin there
// and searches around it.
func (c *Coordinator) OnSuggestionPicked(rec place.Record) bool {
	return c.post(func(ctx context.Context) { c.pick(ctx, rec) })
}

// SelectSuggestion picks the suggestion at index of the current list.
func (c *Coordinator) SelectSuggestion(ctx context.Context, index int) error {
	reply := make(chan error, 1)
	ok := c.post(func(loopCtx context.Context) {
		if index < 0 || index >= len(c.s.suggestions) {
			reply <- ErrNoSuggestion
			return
		}
		c.pick(loopCtx, c.s.suggestions[index])
		reply <- nil
	})
	if !ok {
		return ErrStopped
	}

	select {
	case err := <-reply:
		return err
	case <-c.stopped:
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnConnectivityChanged reports network reachability. Regaining it with an
// empty result list searches again at the last known location.
func (c *Coordinator) OnConnectivityChanged(connected bool) bool {
	return c.post(func(ctx context.Context) { c.connectivity(ctx, connected) })
}

// Snapshot returns a copy of the session state.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if !c.post(func(context.Context) { reply <- c.snapshot() }) {
		return Snapshot{}, ErrStopped
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-c.stopped:
		select {
		case snap := <-reply:
			return snap, nil
		default:
			return Snapshot{}, ErrStopped
		}
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (c *Coordinator) originChanged(ctx context.Context, origin geo.Coordinate, force bool) {
	if origin.IsZero() || !origin.Valid() {
		c.log.Debug().Str("origin", origin.String()).Msg("Ignoring unusable origin")
		return
	}

	s := &c.s
	s.origin = origin
	s.device = origin

	switch {
	case s.first, force, c.policy == RefreshAlways:
	case len(s.results) > 0:
		c.log.Trace().Int("results", len(s.results)).Msg("Origin changed, keeping current results")
		return
	}

	c.startNearby(ctx, origin)
}

func (c *Coordinator) startNearby(ctx context.Context, origin geo.Coordinate) {
	s := &c.s
	s.first = false
	s.nearbySeq++
	s.state = Searching
	seq := s.nearbySeq

	c.log.Debug().
		Uint64("seq", seq).
		Str("origin", origin.String()).
		Msg("Nearby search started")

	go func() {
		recs, err := c.gw.FetchNearby(ctx, origin, c.radius)
		c.post(func(context.Context) { c.applyNearby(seq, origin, recs, err) })
	}()
}

func (c *Coordinator) applyNearby(seq uint64, origin geo.Coordinate, recs []place.Record, err error) {
	s := &c.s
	if seq != s.nearbySeq {
		c.log.Debug().Uint64("seq", seq).Uint64("latest", s.nearbySeq).Msg("Dropping superseded nearby reply")
		return
	}

	if err != nil {
		s.state = Failed
		s.lastErr = err
		c.log.Error().Err(err).Str("origin", origin.String()).Msg("Nearby search failed")
		c.emit(Event{Kind: EventFailed, Err: err})
		return
	}

	s.lastErr = nil
	s.results = place.SortByDistance(recs)
	s.resultsOrigin = origin

	if len(s.results) == 0 {
		s.state = Empty
		c.log.Info().Str("origin", origin.String()).Msg("Nearby search found nothing")
		c.emit(Event{Kind: EventNoResults, Results: []place.Record{}})
		return
	}

	s.state = Populated
	c.log.Info().
		Str("origin", origin.String()).
		Int("results", len(s.results)).
		Msg("Nearby search completed")
	c.emit(Event{Kind: EventResults, Results: slices.Clone(s.results)})
}

func (c *Coordinator) autocomplete(ctx context.Context, text string) {
	s := &c.s
	s.autoSeq++
	s.query = text
	seq := s.autoSeq

	go func() {
		recs, err := c.gw.FetchAutocomplete(ctx, text)
		c.post(func(context.Context) { c.applySuggestions(seq, text, recs, err) })
	}()
}

func (c *Coordinator) applySuggestions(seq uint64, text string, recs []place.Record, err error) {
	s := &c.s
	if seq != s.autoSeq {
		c.log.Debug().Str("input", text).Msg("Dropping stale suggestions")
		return
	}

	if err != nil {
		c.log.Warn().Err(err).Str("input", text).Msg("Autocomplete failed")
		return
	}

	s.suggestions = slices.Clone(recs)
	if s.suggestions == nil {
		s.suggestions = []place.Record{}
	}
	c.emit(Event{Kind: EventSuggestions, Suggestions: slices.Clone(s.suggestions)})
}

func (c *Coordinator) pick(ctx context.Context, rec place.Record) {
	s := &c.s
	s.selectSeq++
	seq := s.selectSeq

	c.log.Debug().Str("name", rec.Name).Str("address", rec.Address).Msg("Suggestion picked")

	go func() {
		resolved, err := c.gw.ResolveCoordinate(ctx, rec)
		c.post(func(loopCtx context.Context) { c.applySelection(loopCtx, seq, rec, resolved, err) })
	}()
}

func (c *Coordinator) applySelection(ctx context.Context, seq uint64, rec, resolved place.Record, err error) {
	s := &c.s
	if seq != s.selectSeq {
		c.log.Debug().Str("name", rec.Name).Msg("Dropping superseded selection")
		return
	}

	if err == nil && !resolved.Displayable() {
		err = places.NoCoordinate(places.OpGeocode, rec.Address)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("name", rec.Name).Msg("Selected place could not be located")
		c.emit(Event{Kind: EventSelectFailed, Err: err})
		return
	}

	s.origin = resolved.Coordinate
	s.lastResolved = resolved.Coordinate

	c.log.Info().
		Str("name", resolved.Name).
		Str("origin", resolved.Coordinate.String()).
		Msg("Origin moved to selected place")

	c.startNearby(ctx, resolved.Coordinate)
}

func (c *Coordinator) connectivity(ctx context.Context, connected bool) {
	s := &c.s

	if !connected {
		if s.online {
			s.online = false
			c.log.Warn().Msg("Connectivity lost")
			c.emit(Event{Kind: EventOffline})
		}
		return
	}

	if s.online {
		return
	}
	s.online = true
	c.log.Info().Msg("Connectivity restored")

	if len(s.results) > 0 || s.state == Searching {
		return
	}

	target := s.lastResolved
	if target.IsZero() {
		target = s.device
	}
	if target.IsZero() {
		return
	}

	s.origin = target
	c.startNearby(ctx, target)
}

func (c *Coordinator) emit(ev Event) {
	s := &c.s
	ev.Session = c.id
	ev.State = s.state
	ev.Origin = s.origin
	ev.Query = s.query

	for _, sink := range c.sinks {
		sink.Deliver(ev)
	}
}

func (c *Coordinator) snapshot() Snapshot {
	s := &c.s

	snap := Snapshot{
		Err:           s.lastErr,
		Session:       c.id,
		Query:         s.query,
		Results:       slices.Clone(s.results),
		Suggestions:   slices.Clone(s.suggestions),
		Origin:        s.origin,
		ResultsOrigin: s.resultsOrigin,
		LastResolved:  s.lastResolved,
		State:         s.state,
		Online:        s.online,
	}
	if snap.Results == nil {
		snap.Results = []place.Record{}
	}
	if snap.Suggestions == nil {
		snap.Suggestions = []place.Record{}
	}

	return snap
}
