package server

import (
	"context"
	"hash/fnv"
	"net/http"
	"strconv"

	"github.com/woozymasta/nearby/assets"
	"github.com/woozymasta/nearby/internal/search"

	"github.com/rs/zerolog/log"
)

// PhotoSource downloads provider photos; *places.Client satisfies it.
type PhotoSource interface {
	FetchPhoto(ctx context.Context, reference string) ([]byte, string, error)
}

// ServerContext holds dependencies for request handlers.
// It hosts exactly one search session.
type ServerContext struct {
	Search       *search.Coordinator
	Feed         *search.Feed
	Photos       PhotoSource
	IndexHTML    []byte
	Favicon      []byte
	indexETag    string
	PhotoMaxSize int
}

// NewServerContext wires the handlers to a running session.
// Device updates are pushed into feed, which the coordinator must follow.
func NewServerContext(coord *search.Coordinator, feed *search.Feed, photos PhotoSource, photoMaxSize int) *ServerContext {
	log.Info().
		Str("session", coord.ID()).
		Int("photo_max_size", photoMaxSize).
		Msg("Initializing server context")

	return &ServerContext{
		Search:       coord,
		Feed:         feed,
		Photos:       photos,
		IndexHTML:    assets.Index,
		Favicon:      assets.Favicon,
		indexETag:    contentETag(assets.Index),
		PhotoMaxSize: photoMaxSize,
	}
}

// Routes returns the application handler wrapped in RequestLogger.
func (s *ServerContext) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/places", s.HandlePlaces)
	mux.HandleFunc("GET /api/places.geojson", s.HandlePlacesGeoJSON)
	mux.HandleFunc("GET /api/suggestions", s.HandleSuggestions)
	mux.HandleFunc("GET /api/photo", s.HandlePhoto)
	mux.HandleFunc("POST /api/origin", s.HandleOrigin)
	mux.HandleFunc("POST /api/refresh", s.HandleRefresh)
	mux.HandleFunc("POST /api/search", s.HandleSearch)
	mux.HandleFunc("POST /api/select", s.HandleSelect)
	mux.HandleFunc("POST /api/connectivity", s.HandleConnectivity)
	mux.HandleFunc("GET /favicon.svg", s.HandleFavicon)
	mux.HandleFunc("GET /", s.HandleIndex)

	return RequestLogger(mux)
}

func contentETag(parts ...[]byte) string {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write(p)
	}

	buf := make([]byte, 0, etagCap)
	buf = append(buf, '"')
	buf = strconv.AppendUint(buf, h.Sum64(), 16)
	buf = append(buf, '"')
	return string(buf)
}
