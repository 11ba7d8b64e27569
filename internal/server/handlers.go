// Package server exposes one search session over HTTP for the web page.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/woozymasta/nearby/internal/geo"
	"github.com/woozymasta/nearby/internal/photo"
	"github.com/woozymasta/nearby/internal/place"
	"github.com/woozymasta/nearby/internal/search"

	"github.com/rs/zerolog/log"
)

const (
	etagCap         = 32
	maxBodyBytes    = 4 << 10
	snapshotTimeout = 2 * time.Second
)

type placeView struct {
	place.Record
	DistanceText string `json:"distance_text"`
	Photo        string `json:"photo,omitempty"`
}

type placesView struct {
	Session string         `json:"session"`
	State   search.State   `json:"state"`
	Error   string         `json:"error,omitempty"`
	Results []placeView    `json:"results"`
	Origin  geo.Coordinate `json:"origin"`
	Online  bool           `json:"online"`
}

type originRequest struct {
	Lat   *float64 `json:"lat"`
	Lng   *float64 `json:"lng"`
	Force bool     `json:"force"`
}

type searchRequest struct {
	Input string `json:"input"`
}

type selectRequest struct {
	Index *int `json:"index"`
}

type connectivityRequest struct {
	Connected *bool `json:"connected"`
}

// HandleIndex serves the main HTML application.
func (s *ServerContext) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if match := r.Header.Get("If-None-Match"); match == s.indexETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("ETag", s.indexETag)
	w.Header().Set("Cache-Control", "public, no-cache")
	_, _ = w.Write(s.IndexHTML)
}

// HandleFavicon serves the marker icon.
func (s *ServerContext) HandleFavicon(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(s.Favicon)
}

// HandleOrigin accepts a device location. Forced updates bypass the feed
// and always search.
func (s *ServerContext) HandleOrigin(w http.ResponseWriter, r *http.Request) {
	var req originRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Lat == nil || req.Lng == nil {
		httpError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}

	origin := geo.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
	if !origin.Valid() {
		httpError(w, http.StatusBadRequest, "coordinate out of range")
		return
	}

	if req.Force {
		if !s.Search.OnOriginChanged(origin, true) {
			httpError(w, http.StatusServiceUnavailable, "session unavailable")
			return
		}
	} else if err := s.Feed.PushLocation(r.Context(), origin); err != nil {
		httpError(w, http.StatusServiceUnavailable, "location feed unavailable")
		return
	}

	accepted(w)
}

// HandleRefresh re-runs the search at the current origin.
func (s *ServerContext) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.Search.Refresh() {
		httpError(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}
	accepted(w)
}

// HandleSearch feeds autocomplete input.
func (s *ServerContext) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if !s.Search.OnAutocompleteInput(req.Input) {
		httpError(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}
	accepted(w)
}

// HandleSelect picks a suggestion by its index in the current list.
func (s *ServerContext) HandleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Index == nil {
		httpError(w, http.StatusBadRequest, "index is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	err := s.Search.SelectSuggestion(ctx, *req.Index)
	switch {
	case err == nil:
		accepted(w)
	case errors.Is(err, search.ErrNoSuggestion):
		httpError(w, http.StatusBadRequest, "no suggestion at index "+strconv.Itoa(*req.Index))
	default:
		log.Error().Err(err).Msg("Failed to select suggestion")
		httpError(w, http.StatusServiceUnavailable, "session unavailable")
	}
}

// HandleConnectivity accepts reachability changes reported by the page.
func (s *ServerContext) HandleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Connected == nil {
		httpError(w, http.StatusBadRequest, "connected is required")
		return
	}

	if err := s.Feed.PushConnectivity(r.Context(), *req.Connected); err != nil {
		httpError(w, http.StatusServiceUnavailable, "connectivity feed unavailable")
		return
	}
	accepted(w)
}

// HandlePlaces serves the session state with display-ready results.
func (s *ServerContext) HandlePlaces(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	view := placesView{
		Session: snap.Session,
		State:   snap.State,
		Origin:  snap.Origin,
		Online:  snap.Online,
		Results: make([]placeView, 0, len(snap.Results)),
	}
	if snap.Err != nil {
		view.Error = snap.Err.Error()
	}

	for _, rec := range snap.Results {
		pv := placeView{Record: rec, DistanceText: geo.FormatKilometers(rec.Distance)}
		if rec.ImageReference != "" {
			pv.Photo = "/api/photo?ref=" + url.QueryEscape(rec.ImageReference)
		}
		view.Results = append(view.Results, pv)
	}

	writeJSON(w, http.StatusOK, "application/json", view)
}

// HandlePlacesGeoJSON serves the results as map markers.
func (s *ServerContext) HandlePlacesGeoJSON(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	fc := geo.NewFeatureCollection(len(snap.Results))
	for _, rec := range snap.Results {
		if !rec.Displayable() {
			continue
		}
		fc.Features = append(fc.Features, geo.PointFeature(rec.Coordinate, map[string]any{
			"name":          rec.Name,
			"address":       rec.Address,
			"icon":          rec.Icon,
			"distance":      rec.Distance,
			"distance_text": geo.FormatKilometers(rec.Distance),
		}))
	}

	writeJSON(w, http.StatusOK, "application/geo+json", fc)
}

// HandleSuggestions serves the current autocomplete suggestions.
func (s *ServerContext) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, "application/json", snap.Suggestions)
}

// HandlePhoto serves a place photo as a WebP thumbnail.
func (s *ServerContext) HandlePhoto(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(r.URL.Query().Get("ref"))
	if ref == "" {
		httpError(w, http.StatusBadRequest, "ref is required")
		return
	}

	etag := contentETag([]byte(ref), []byte(strconv.Itoa(s.PhotoMaxSize)))
	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	data, _, err := s.Photos.FetchPhoto(r.Context(), ref)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch photo")
		httpError(w, http.StatusBadGateway, "photo unavailable")
		return
	}

	thumb, err := photo.Thumbnail(data, s.PhotoMaxSize)
	if err != nil {
		log.Warn().Err(err).Int("bytes", len(data)).Msg("Failed to transcode photo")
		httpError(w, http.StatusBadGateway, "photo unavailable")
		return
	}

	w.Header().Set("Content-Type", photo.ContentType)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(thumb)
}

func (s *ServerContext) snapshot(w http.ResponseWriter, r *http.Request) (search.Snapshot, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	snap, err := s.Search.Snapshot(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read session snapshot")
		httpError(w, http.StatusServiceUnavailable, "session unavailable")
		return search.Snapshot{}, false
	}
	return snap, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	// Ignoring error as we cannot handle client disconnects
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, "application/json", map[string]string{"error": msg})
}

func accepted(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, "application/json", map[string]string{"status": "accepted"})
}
