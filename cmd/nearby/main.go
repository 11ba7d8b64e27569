package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/woozymasta/nearby/internal/config"
	"github.com/woozymasta/nearby/internal/geo"
	"github.com/woozymasta/nearby/internal/logger"
	"github.com/woozymasta/nearby/internal/place"
	"github.com/woozymasta/nearby/internal/places"
	"github.com/woozymasta/nearby/internal/search"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string        `short:"c" long:"config" env:"CONFIG_FILE" description:"Path to configuration file (optional)"`
	Query      string        `short:"q" long:"query"  description:"Place to search around, resolved through autocomplete and geocoding"`
	Output     string        `short:"o" long:"out"    description:"Output file path. Writes to stdout if empty"`
	Format     string        `short:"f" long:"format" description:"Output format" choice:"json" choice:"yaml" choice:"geojson" default:"json"`
	Lat        float64       `long:"lat"              description:"Origin latitude"`
	Lng        float64       `long:"lng"              description:"Origin longitude"`
	Radius     float64       `short:"r" long:"radius" description:"Search radius in meters (overrides config)"`
	Pick       int           `short:"p" long:"pick"   description:"Index of the autocomplete suggestion to use" default:"0"`
	Wait       time.Duration `short:"w" long:"wait"   description:"Overall time limit" default:"30s"`
}

type result struct {
	Origin  geo.Coordinate `json:"origin" yaml:"origin"`
	Results []place.Record `json:"results" yaml:"results"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	opts.Logger.Setup()

	origin := geo.Coordinate{Lat: opts.Lat, Lng: opts.Lng}
	if opts.Query == "" && (origin.IsZero() || !origin.Valid()) {
		fmt.Fprintln(os.Stderr, "Error: either --query or a valid --lat/--lng pair is required")
		os.Exit(1)
	}

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if opts.Radius > 0 {
		cfg.Radius = opts.Radius
	}

	client := places.New(places.Options{
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		PhotoMaxSize: cfg.PhotoMaxSize,
		HTTPClient: &http.Client{
			Transport: &http.Transport{MaxIdleConns: 10, MaxIdleConnsPerHost: 10},
			Timeout:   cfg.Timeout,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Wait)
	defer cancel()

	events := make(chan search.Event, 16)
	coord := search.New(client, search.Options{Radius: cfg.Radius, Refresh: search.RefreshAlways},
		search.SinkFunc(func(ev search.Event) {
			select {
			case events <- ev:
			default:
			}
		}))
	go func() { _ = coord.Run(ctx) }()

	if opts.Query != "" {
		picked, err := suggestion(ctx, client, opts.Query, opts.Pick)
		if err != nil {
			log.Fatal().Err(err).Str("query", opts.Query).Int("pick", opts.Pick).Msg("No place to search around")
		}
		log.Info().Str("name", picked.Name).Str("address", picked.Address).Msg("Using suggestion")

		coord.OnSuggestionPicked(picked)
	} else {
		coord.OnOriginChanged(origin, true)
	}

	ev, err := waitFor(ctx, events, search.EventResults, search.EventNoResults, search.EventFailed, search.EventSelectFailed)
	if err != nil {
		log.Fatal().Err(err).Msg("Search did not complete")
	}
	if ev.Err != nil {
		log.Fatal().Err(ev.Err).Str("event", ev.Kind.String()).Msg("Search failed")
	}

	data, err := render(opts.Format, result{Origin: ev.Origin, Results: ev.Results})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to marshal results")
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, data, 0644); err != nil {
			log.Fatal().Err(err).Str("path", opts.Output).Msg("Failed to write output file")
		}
		log.Info().
			Int("results", len(ev.Results)).
			Str("path", opts.Output).
			Str("format", opts.Format).
			Msg("Results written")
		return
	}

	fmt.Println(string(data))
}

type autocompleter interface {
	FetchAutocomplete(ctx context.Context, text string) ([]place.Record, error)
}

// suggestion asks the provider once so a failed lookup ends the run with the
// provider error instead of a timeout.
func suggestion(ctx context.Context, ac autocompleter, query string, pick int) (place.Record, error) {
	recs, err := ac.FetchAutocomplete(ctx, query)
	if err != nil {
		return place.Record{}, err
	}
	if pick < 0 || pick >= len(recs) {
		return place.Record{}, fmt.Errorf("no suggestion %d for %q, provider returned %d", pick, query, len(recs))
	}
	return recs[pick], nil
}

// waitFor returns the first event of one of kinds.
func waitFor(ctx context.Context, events <-chan search.Event, kinds ...search.EventKind) (search.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return search.Event{}, ctx.Err()
		case ev := <-events:
			if slices.Contains(kinds, ev.Kind) {
				return ev, nil
			}
			log.Debug().Str("event", ev.Kind.String()).Msg("Skipping event")
		}
	}
}

func render(format string, res result) ([]byte, error) {
	switch format {
	case "yaml":
		return yaml.Marshal(res)
	case "geojson":
		fc := geo.NewFeatureCollection(len(res.Results))
		for _, rec := range res.Results {
			fc.Features = append(fc.Features, geo.PointFeature(rec.Coordinate, map[string]any{
				"name":          rec.Name,
				"address":       rec.Address,
				"distance":      rec.Distance,
				"distance_text": geo.FormatKilometers(rec.Distance),
			}))
		}
		return json.MarshalIndent(fc, "", "  ")
	case "json", "":
		return json.MarshalIndent(res, "", "  ")
	}
	return nil, errors.New("unknown format " + format)
}
