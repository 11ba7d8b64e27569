package place

import (
	"errors"
	"fmt"

	"github.com/woozymasta/nearby/internal/geo"
)

// Provider status values reported in-band by every endpoint.
const (
	StatusOK          = "OK"
	StatusZeroResults = "ZERO_RESULTS"
)

// ErrMissingField is wrapped by Validate when a required part of a response is absent.
var ErrMissingField = errors.New("missing field")

// LatLng is a provider location; both members are required.
type LatLng struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// Coordinate converts l, treating absent members as zero.
func (l LatLng) Coordinate() geo.Coordinate {
	var c geo.Coordinate
	if l.Lat != nil {
		c.Lat = *l.Lat
	}
	if l.Lng != nil {
		c.Lng = *l.Lng
	}
	return c
}

func (l *LatLng) validate(path string) error {
	if l == nil {
		return fmt.Errorf("%w: %s", ErrMissingField, path)
	}
	if l.Lat == nil {
		return fmt.Errorf("%w: %s.lat", ErrMissingField, path)
	}
	if l.Lng == nil {
		return fmt.Errorf("%w: %s.lng", ErrMissingField, path)
	}
	return nil
}

// Geometry wraps a location.
type Geometry struct {
	Location *LatLng `json:"location"`
}

// Photo is one photo attached to a nearby result.
type Photo struct {
	PhotoReference string `json:"photo_reference"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
}

// NearbyResult is one entry of a nearby search response.
type NearbyResult struct {
	Geometry *Geometry `json:"geometry"`
	Name     string    `json:"name"`
	Vicinity string    `json:"vicinity"`
	Icon     string    `json:"icon"`
	Photos   []Photo   `json:"photos"`
}

// NearbyResponse is the body of place/nearbysearch/json.
type NearbyResponse struct {
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
	Results      []NearbyResult `json:"results"`
}

// StructuredFormatting holds the short display name of a prediction.
type StructuredFormatting struct {
	MainText      string `json:"main_text"`
	SecondaryText string `json:"secondary_text"`
}

// Prediction is one autocomplete entry.
type Prediction struct {
	Description          string               `json:"description"`
	Reference            string               `json:"reference"`
	PlaceID              string               `json:"place_id"`
	StructuredFormatting StructuredFormatting `json:"structured_formatting"`
}

// AutocompleteResponse is the body of place/autocomplete/json.
type AutocompleteResponse struct {
	Status       string       `json:"status"`
	ErrorMessage string       `json:"error_message"`
	Predictions  []Prediction `json:"predictions"`
}

// GeocodeResult is one geocoding match.
type GeocodeResult struct {
	FormattedAddress string    `json:"formatted_address"`
	Geometry         *Geometry `json:"geometry"`
}

// GeocodeResponse is the body of geocode/json.
type GeocodeResponse struct {
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message"`
	Results      []GeocodeResult `json:"results"`
}

// ProviderStatus returns the in-band status and message.
func (r *NearbyResponse) ProviderStatus() (string, string) { return r.Status, r.ErrorMessage }

// ProviderStatus returns the in-band status and message.
func (r *AutocompleteResponse) ProviderStatus() (string, string) { return r.Status, r.ErrorMessage }

// ProviderStatus returns the in-band status and message.
func (r *GeocodeResponse) ProviderStatus() (string, string) { return r.Status, r.ErrorMessage }

// Validate checks the decoded body has the expected shape.
// A missing or null "results" array is an error; an empty one is not.
// encoding/json leaves the slice nil only when the key is absent or null.
func (r *NearbyResponse) Validate() error {
	if r.Results == nil {
		return fmt.Errorf("%w: results", ErrMissingField)
	}
	for i, res := range r.Results {
		if res.Geometry == nil {
			return fmt.Errorf("%w: results[%d].geometry", ErrMissingField, i)
		}
		if err := res.Geometry.Location.validate(fmt.Sprintf("results[%d].geometry.location", i)); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the decoded body has the expected shape.
func (r *AutocompleteResponse) Validate() error {
	if r.Predictions == nil {
		return fmt.Errorf("%w: predictions", ErrMissingField)
	}
	return nil
}

// Validate checks the decoded body has the expected shape.
func (r *GeocodeResponse) Validate() error {
	if r.Results == nil {
		return fmt.Errorf("%w: results", ErrMissingField)
	}
	for i, res := range r.Results {
		if res.Geometry == nil {
			return fmt.Errorf("%w: results[%d].geometry", ErrMissingField, i)
		}
		if err := res.Geometry.Location.validate(fmt.Sprintf("results[%d].geometry.location", i)); err != nil {
			return err
		}
	}
	return nil
}
