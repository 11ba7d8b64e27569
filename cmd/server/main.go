package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/woozymasta/nearby/internal/config"
	"github.com/woozymasta/nearby/internal/events"
	"github.com/woozymasta/nearby/internal/logger"
	"github.com/woozymasta/nearby/internal/places"
	"github.com/woozymasta/nearby/internal/search"
	"github.com/woozymasta/nearby/internal/server"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string `short:"c" long:"config"  env:"CONFIG_FILE"    description:"Path to configuration file (optional)"`
	EnvFile    string `short:"e" long:"env"     env:"ENV_FILE"       description:"Dotenv file with PLACES_API_KEY" default:".env"`
	Addr       string `short:"a" long:"addr"    env:"LISTEN_ADDRESS" description:"Address to listen on"           default:"0.0.0.0"`
	Refresh    string `long:"refresh"           env:"REFRESH_POLICY" description:"Override refresh policy" choice:"when-empty" choice:"always"`
	Port       int    `short:"p" long:"port"    env:"LISTEN_PORT"    description:"Port to listen on"              default:"8080"`
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

	// Setup Logging
	opts.Logger.Setup()

	// Load Config
	cfg, err := config.Load(opts.ConfigFile, opts.EnvFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if opts.Refresh != "" {
		cfg.Refresh = opts.Refresh
	}

	policy, err := search.ParseRefreshPolicy(cfg.Refresh)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid refresh policy")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := places.New(places.Options{
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		Timeout:      cfg.Timeout,
		PhotoMaxSize: cfg.PhotoMaxSize,
	})

	var sinks []search.Sink
	var publisher *events.Publisher
	if cfg.Kafka.Enabled() {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Buffer)
		publisher.Start(context.WithoutCancel(ctx))
		sinks = append(sinks, publisher)

		log.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Msg("Publishing search events to Kafka")
	}

	coord := search.New(client, search.Options{Radius: cfg.Radius, Refresh: policy}, sinks...)
	feed := search.NewFeed(16)
	coord.Follow(ctx, feed, feed)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := coord.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Search session ended")
		}
	}()

	srvCtx := server.NewServerContext(coord, feed, client, cfg.PhotoMaxSize)

	listenAddr := fmt.Sprintf("%s:%d", opts.Addr, opts.Port)
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           srvCtx.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", listenAddr).
			Float64("radius", cfg.Radius).
			Str("refresh", policy.String()).
			Msg("Web server started")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced shutdown")
	}
	<-loopDone

	if publisher != nil {
		if err := publisher.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to close Kafka writer")
		}
	}

	log.Info().Msg("Server stopped")
}
