// Package places is the gateway to the remote places provider: nearby
// search, autocomplete, geocoding and photos.
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/woozymasta/nearby/internal/geo"
	"github.com/woozymasta/nearby/internal/place"

	"github.com/rs/zerolog/log"
)

// Defaults used when Options leaves a field empty.
const (
	DefaultBaseURL      = "https://maps.googleapis.com/maps/api"
	DefaultTimeout      = 15 * time.Second
	DefaultPhotoMaxSize = 50

	maxPhotoBytes = 10 << 20
)

// Operation names carried by *Error.
const (
	OpNearby       = "nearby"
	OpAutocomplete = "autocomplete"
	OpGeocode      = "geocode"
	OpPhoto        = "photo"
)

// Options configure a Client.
type Options struct {
	// HTTPClient overrides the default client; its Timeout wins over Timeout.
	HTTPClient   *http.Client
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	PhotoMaxSize int
}

// Client talks to the places provider. It is safe for concurrent use.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	photoMaxSize int
}

// New creates a Client, filling defaults for empty options.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PhotoMaxSize <= 0 {
		opts.PhotoMaxSize = DefaultPhotoMaxSize
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		httpClient:   opts.HTTPClient,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		photoMaxSize: opts.PhotoMaxSize,
	}
}

// PhotoMaxSize is the configured thumbnail edge in pixels.
func (c *Client) PhotoMaxSize() int { return c.photoMaxSize }

// FetchNearby returns the places within radius meters of origin, each with
// its distance from origin. Zero results is an empty slice, not an error.
func (c *Client) FetchNearby(ctx context.Context, origin geo.Coordinate, radius float64) ([]place.Record, error) {
	params := url.Values{}
	params.Set("location", origin.String())
	params.Set("radius", strconv.FormatFloat(radius, 'f', -1, 64))
	params.Set("sensor", "true")

	var resp place.NearbyResponse
	if err := c.getJSON(ctx, OpNearby, "/place/nearbysearch/json", params, &resp); err != nil {
		return nil, err
	}

	records := make([]place.Record, 0, len(resp.Results))
	for _, r := range resp.Results {
		records = append(records, place.FromNearby(r, origin))
	}

	return records, nil
}

// FetchAutocomplete returns unresolved suggestions for text.
// Blank text yields no suggestions without contacting the provider.
func (c *Client) FetchAutocomplete(ctx context.Context, text string) ([]place.Record, error) {
	if strings.TrimSpace(text) == "" {
		return []place.Record{}, nil
	}

	params := url.Values{}
	params.Set("input", text)

	var resp place.AutocompleteResponse
	if err := c.getJSON(ctx, OpAutocomplete, "/place/autocomplete/json", params, &resp); err != nil {
		return nil, err
	}

	records := make([]place.Record, 0, len(resp.Predictions))
	for _, p := range resp.Predictions {
		records = append(records, place.FromPrediction(p))
	}

	return records, nil
}

// ResolveCoordinate geocodes rec.Address and returns a resolved copy located
// at the first match. With no match rec is returned unchanged and the error is
// nil; callers check Displayable.
func (c *Client) ResolveCoordinate(ctx context.Context, rec place.Record) (place.Record, error) {
	params := url.Values{}
	params.Set("address", rec.Address)

	var resp place.GeocodeResponse
	if err := c.getJSON(ctx, OpGeocode, "/geocode/json", params, &resp); err != nil {
		return rec, err
	}

	if len(resp.Results) == 0 {
		log.Debug().Str("address", rec.Address).Msg("Geocode returned no match")
		return rec, nil
	}

	return rec.WithCoordinate(resp.Results[0].Geometry.Location.Coordinate()), nil
}

// PhotoURL builds the provider URL of a photo bounded by maxWidth x maxHeight.
// It embeds the API key, so it must not be logged or sent to clients.
func (c *Client) PhotoURL(reference string, maxWidth, maxHeight int) string {
	params := url.Values{}
	params.Set("maxwidth", strconv.Itoa(maxWidth))
	params.Set("maxheight", strconv.Itoa(maxHeight))
	params.Set("photoreference", reference)
	params.Set("key", c.apiKey)

	return c.baseURL + "/place/photo?" + params.Encode()
}

// FetchPhoto downloads the photo bytes for reference at the configured size.
// It returns the body and its content type.
func (c *Client) FetchPhoto(ctx context.Context, reference string) ([]byte, string, error) {
	if reference == "" {
		return nil, "", newError(KindNetwork, OpPhoto, errors.New("empty photo reference"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PhotoURL(reference, c.photoMaxSize, c.photoMaxSize), nil)
	if err != nil {
		return nil, "", newError(KindNetwork, OpPhoto, err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", newError(KindNetwork, OpPhoto, redact(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", newError(KindNetwork, OpPhoto, fmt.Errorf("status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return nil, "", newError(KindNetwork, OpPhoto, err)
	}

	log.Debug().
		Str("op", OpPhoto).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Places request completed")

	return data, resp.Header.Get("Content-Type"), nil
}

type response interface {
	ProviderStatus() (status, message string)
	Validate() error
}

// getJSON performs one GET against endpoint and decodes the body into dst.
func (c *Client) getJSON(ctx context.Context, op, endpoint string, params url.Values, dst response) error {
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return newError(KindNetwork, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newError(KindNetwork, op, redact(err))
	}
	defer func() { _ = resp.Body.Close() }()

	log.Debug().
		Str("op", op).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Places request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newError(KindNetwork, op, fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return newError(KindNetwork, op, redact(err))
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return newError(KindDecode, op, err)
	}

	status, message := dst.ProviderStatus()
	switch status {
	case place.StatusZeroResults:
		return nil
	case place.StatusOK, "":
	default:
		if message == "" {
			return newError(KindNetwork, op, fmt.Errorf("provider status %s", status))
		}
		return newError(KindNetwork, op, fmt.Errorf("provider status %s: %s", status, message))
	}

	if err := dst.Validate(); err != nil {
		return newError(KindDecode, op, err)
	}

	return nil
}

// redact drops the request URL (which carries the API key) from transport errors.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
