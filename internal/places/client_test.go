package places

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/woozymasta/nearby/internal/geo"
	"github.com/woozymasta/nearby/internal/place"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-key"

// newTestClient starts a fake provider serving handler and returns a Client pointed at it.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Options{BaseURL: srv.URL, APIKey: testKey})
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, body)
	}
}

func TestFetchNearby(t *testing.T) {
	origin := geo.Coordinate{Lat: 51.5007, Lng: -0.1246}

	mux := http.NewServeMux()
	mux.HandleFunc("/place/nearbysearch/json", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "51.5007,-0.1246", q.Get("location"))
		assert.Equal(t, "10000", q.Get("radius"))
		assert.Equal(t, "true", q.Get("sensor"))
		assert.Equal(t, testKey, q.Get("key"))

		jsonHandler(`{
			"status": "OK",
			"results": [
				{"name": "Far", "vicinity": "Far Rd", "geometry": {"location": {"lat": 51.52, "lng": -0.1246}}},
				{"name": "Near", "vicinity": "Near Rd", "icon": "i.png",
				 "photos": [{"photo_reference": "p1"}],
				 "geometry": {"location": {"lat": 51.501, "lng": -0.1246}}}
			]
		}`)(w, r)
	})

	c := newTestClient(t, mux)
	recs, err := c.FetchNearby(context.Background(), origin, 10000)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "Far", recs[0].Name, "gateway keeps provider order")
	assert.Equal(t, "Near", recs[1].Name)
	assert.Equal(t, "p1", recs[1].ImageReference)
	assert.Equal(t, "i.png", recs[1].Icon)
	for _, r := range recs {
		assert.Equal(t, place.Resolved, r.Resolution)
		assert.InDelta(t, geo.Distance(origin, r.Coordinate), r.Distance, 1e-9)
	}
}

func TestFetchNearbyZeroResults(t *testing.T) {
	c := newTestClient(t, jsonHandler(`{"status":"ZERO_RESULTS","results":[]}`))

	recs, err := c.FetchNearby(context.Background(), geo.Coordinate{Lat: 1, Lng: 1}, 100)
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestGatewayErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			want: ErrNetwork,
		},
		{
			name:    "not json",
			handler: jsonHandler(`<html>oops</html>`),
			want:    ErrDecode,
		},
		{
			name:    "missing results",
			handler: jsonHandler(`{"status":"OK"}`),
			want:    ErrDecode,
		},
		{
			name:    "request denied",
			handler: jsonHandler(`{"status":"REQUEST_DENIED","error_message":"bad key","results":[]}`),
			want:    ErrNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)

			_, err := c.FetchNearby(context.Background(), geo.Coordinate{Lat: 1, Lng: 1}, 100)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var gerr *Error
			require.True(t, errors.As(err, &gerr))
			assert.Equal(t, OpNearby, gerr.Op)
			assert.NotContains(t, err.Error(), testKey)
		})
	}
}

func TestTimeoutIsNetwork(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c := New(Options{BaseURL: srv.URL, APIKey: testKey, Timeout: 50 * time.Millisecond})

	_, err := c.FetchNearby(context.Background(), geo.Coordinate{Lat: 1, Lng: 1}, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.NotContains(t, err.Error(), testKey)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindNetwork, kind)
}

func TestFetchAutocomplete(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/place/autocomplete/json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "café & bar", r.URL.Query().Get("input"))
		assert.Contains(t, r.URL.RawQuery, "input=caf%C3%A9+%26+bar")

		jsonHandler(`{
			"status": "OK",
			"predictions": [
				{"description": "Cafe Bar, Rome", "reference": "r1", "structured_formatting": {"main_text": "Cafe Bar"}},
				{"description": "Cafe Bar, Milan", "reference": "r2", "structured_formatting": {"main_text": "Cafe Bar"}}
			]
		}`)(w, r)
	})

	c := newTestClient(t, mux)
	recs, err := c.FetchAutocomplete(context.Background(), "café & bar")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "Cafe Bar", recs[0].Name)
	assert.Equal(t, "Cafe Bar, Rome", recs[0].Address)
	assert.Equal(t, "r1", recs[0].ImageReference)
	assert.Equal(t, place.Unresolved, recs[0].Resolution)
	assert.True(t, recs[0].Coordinate.IsZero())
}

func TestFetchAutocompleteBlankInput(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	for _, in := range []string{"", "   "} {
		recs, err := c.FetchAutocomplete(context.Background(), in)
		require.NoError(t, err)
		assert.Empty(t, recs)
	}
	assert.Zero(t, calls.Load())
}

func TestResolveCoordinate(t *testing.T) {
	in := place.Record{Name: "Louvre", Address: "Rue de Rivoli, Paris", Resolution: place.Unresolved}

	t.Run("match", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/geocode/json", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Rue de Rivoli, Paris", r.URL.Query().Get("address"))
			jsonHandler(`{"status":"OK","results":[
				{"geometry":{"location":{"lat":48.8606,"lng":2.3376}}},
				{"geometry":{"location":{"lat":1,"lng":1}}}
			]}`)(w, r)
		})

		out, err := newTestClient(t, mux).ResolveCoordinate(context.Background(), in)
		require.NoError(t, err)
		assert.True(t, out.Displayable())
		assert.Equal(t, geo.Coordinate{Lat: 48.8606, Lng: 2.3376}, out.Coordinate)
		assert.Equal(t, "Louvre", out.Name)
	})

	t.Run("no match", func(t *testing.T) {
		c := newTestClient(t, jsonHandler(`{"status":"ZERO_RESULTS","results":[]}`))

		out, err := c.ResolveCoordinate(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, in, out)
		assert.False(t, out.Displayable())
	})

	t.Run("malformed", func(t *testing.T) {
		c := newTestClient(t, jsonHandler(`{"status":"OK","results":[{"geometry":{}}]}`))

		_, err := c.ResolveCoordinate(context.Background(), in)
		assert.ErrorIs(t, err, ErrDecode)
	})
}

func TestPhoto(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/place/photo", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "50", q.Get("maxwidth"))
		assert.Equal(t, "50", q.Get("maxheight"))
		if q.Get("photoreference") != "abc" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	})

	c := newTestClient(t, mux)

	u := c.PhotoURL("abc", 50, 50)
	assert.True(t, strings.HasSuffix(strings.SplitN(u, "?", 2)[0], "/place/photo"))
	assert.Contains(t, u, "photoreference=abc")
	assert.Contains(t, u, "key="+testKey)

	data, ctype, err := c.FetchPhoto(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
	assert.Equal(t, "image/jpeg", ctype)

	_, _, err = c.FetchPhoto(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNetwork)

	_, _, err = c.FetchPhoto(context.Background(), "")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NoCoordinate(OpGeocode, "nowhere"))
	assert.ErrorIs(t, err, ErrNoCoordinate)
	assert.NotErrorIs(t, err, ErrNetwork)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindNoCoordinate, kind)
	assert.Equal(t, "no coordinate", kind.String())

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}
