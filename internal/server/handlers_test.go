package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/woozymasta/nearby/internal/geo"
	"github.com/woozymasta/nearby/internal/place"
	"github.com/woozymasta/nearby/internal/search"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var target = geo.Coordinate{Lat: 41.9028, Lng: 12.4964}

type stubGateway struct{}

func (stubGateway) FetchNearby(_ context.Context, origin geo.Coordinate, _ float64) ([]place.Record, error) {
	return []place.Record{
		{Name: "Far", Address: "Far St", Distance: 2500, Coordinate: geo.Coordinate{Lat: 1, Lng: 2}, Resolution: place.Resolved},
		{Name: "Near", Address: "Near St", Distance: 120, ImageReference: "ref/1", Coordinate: geo.Coordinate{Lat: 3, Lng: 4}, Resolution: place.Resolved},
	}, nil
}

func (stubGateway) FetchAutocomplete(_ context.Context, text string) ([]place.Record, error) {
	return []place.Record{{Name: "Rome", Address: "Rome, Italy"}}, nil
}

func (stubGateway) ResolveCoordinate(_ context.Context, rec place.Record) (place.Record, error) {
	return rec.WithCoordinate(target), nil
}

type stubPhotos struct {
	data []byte
	err  error
}

func (p stubPhotos) FetchPhoto(context.Context, string) ([]byte, string, error) {
	return p.data, "image/png", p.err
}

func newTestServer(t *testing.T, photos PhotoSource) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	coord := search.New(stubGateway{}, search.Options{SessionID: "test"})
	feed := search.NewFeed(8)
	coord.Follow(ctx, feed, feed)

	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	srv := httptest.NewServer(NewServerContext(coord, feed, photos, 50).Routes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})

	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, srv *httptest.Server, path string, dst any) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if dst != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp
}

type placesResponse struct {
	State   string `json:"state"`
	Error   string `json:"error"`
	Results []struct {
		Name         string `json:"name"`
		DistanceText string `json:"distance_text"`
		Photo        string `json:"photo"`
	} `json:"results"`
	Origin geo.Coordinate `json:"origin"`
	Online bool           `json:"online"`
}

func waitPlaces(t *testing.T, srv *httptest.Server, cond func(placesResponse) bool) placesResponse {
	t.Helper()

	var last placesResponse
	require.Eventually(t, func() bool {
		last = placesResponse{}
		getJSON(t, srv, "/api/places", &last)
		return cond(last)
	}, 2*time.Second, 20*time.Millisecond)

	return last
}

func TestIndex(t *testing.T) {
	srv := newTestServer(t, stubPhotos{})

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/", nil)
	req.Header.Set("If-None-Match", etag)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/missing.js")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOriginPopulatesPlaces(t *testing.T) {
	srv := newTestServer(t, stubPhotos{})

	resp := postJSON(t, srv, "/api/origin", `{"lat": 52.52, "lng": 13.405}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	view := waitPlaces(t, srv, func(p placesResponse) bool { return p.State == "populated" })
	require.Len(t, view.Results, 2)
	assert.Equal(t, "Near", view.Results[0].Name)
	assert.Equal(t, "0.1 Km", view.Results[0].DistanceText)
	assert.Equal(t, "/api/photo?ref=ref%2F1", view.Results[0].Photo)
	assert.Equal(t, "2.5 Km", view.Results[1].DistanceText)
	assert.Empty(t, view.Results[1].Photo)
	assert.True(t, view.Online)

	var fc geo.GeoJSONFeatureCollection
	resp = getJSON(t, srv, "/api/places.geojson", &fc)
	assert.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))
	require.Len(t, fc.Features, 2)
	assert.Equal(t, []float64{4, 3}, fc.Features[0].Geometry.Coordinates)
	assert.Equal(t, "Near", fc.Features[0].Properties["name"])
}

func TestOriginValidation(t *testing.T) {
	srv := newTestServer(t, stubPhotos{})

	tests := []struct {
		name string
		body string
	}{
		{"not json", `lat=1`},
		{"missing lng", `{"lat": 1}`},
		{"out of range", `{"lat": 95, "lng": 0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv, "/api/origin", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestSearchAndSelect(t *testing.T) {
	srv := newTestServer(t, stubPhotos{})

	resp := postJSON(t, srv, "/api/select", `{"index": 0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no suggestions yet")

	resp = postJSON(t, srv, "/api/search", `{"input": "rom"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		var sugs []place.Record
		getJSON(t, srv, "/api/suggestions", &sugs)
		return len(sugs) == 1 && sugs[0].Name == "Rome"
	}, 2*time.Second, 20*time.Millisecond)

	resp = postJSON(t, srv, "/api/select", `{"index": 3}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv, "/api/select", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv, "/api/select", `{"index": 0}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	view := waitPlaces(t, srv, func(p placesResponse) bool {
		return p.State == "populated" && p.Origin == target
	})
	assert.Len(t, view.Results, 2)
}

func TestConnectivity(t *testing.T) {
	srv := newTestServer(t, stubPhotos{})

	resp := postJSON(t, srv, "/api/connectivity", `{"connected": false}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitPlaces(t, srv, func(p placesResponse) bool { return !p.Online })

	resp = postJSON(t, srv, "/api/connectivity", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv, "/api/connectivity", `{"connected": true}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitPlaces(t, srv, func(p placesResponse) bool { return p.Online })
}

func TestRefresh(t *testing.T) {
	srv := newTestServer(t, stubPhotos{})

	resp := postJSON(t, srv, "/api/origin", `{"lat": 52.52, "lng": 13.405, "force": true}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitPlaces(t, srv, func(p placesResponse) bool { return p.State == "populated" })

	resp = postJSON(t, srv, "/api/refresh", ``)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestStoppedSessionUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	coord := search.New(stubGateway{}, search.Options{SessionID: "stopped"})
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	feed := search.NewFeed(8)
	srv := httptest.NewServer(NewServerContext(coord, feed, stubPhotos{}, 50).Routes())
	t.Cleanup(srv.Close)

	tests := []struct {
		path string
		body string
	}{
		{"/api/refresh", ``},
		{"/api/search", `{"input": "rome"}`},
		{"/api/origin", `{"lat": 52.52, "lng": 13.405, "force": true}`},
		{"/api/select", `{"index": 0}`},
	}

	for _, tt := range tests {
		resp := postJSON(t, srv, tt.path, tt.body)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, tt.path)
	}

	resp := getJSON(t, srv, "/api/places", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPhoto(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 120, 60))))

	srv := newTestServer(t, stubPhotos{data: buf.Bytes()})

	resp, err := http.Get(srv.URL + "/api/photo?ref=abc")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/webp", resp.Header.Get("Content-Type"))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/photo?ref=abc", nil)
	req.Header.Set("If-None-Match", resp.Header.Get("ETag"))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/photo")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPhotoUpstreamFailure(t *testing.T) {
	tests := []struct {
		name   string
		photos stubPhotos
	}{
		{"fetch error", stubPhotos{err: errors.New("timeout")}},
		{"not an image", stubPhotos{data: []byte("nope")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.photos)

			resp, err := http.Get(srv.URL + "/api/photo?ref=abc")
			require.NoError(t, err)
			_ = resp.Body.Close()
			assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		})
	}
}
