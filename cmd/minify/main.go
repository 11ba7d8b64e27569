package main

import (
	"bytes"
	"os"
	"path/filepath"
	"text/template"

	"github.com/woozymasta/nearby/internal/logger"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/svg"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	Dir string `short:"d" long:"dir" description:"Assets directory" default:"assets"`
}

// PageData fills index.html.tpl.
type PageData struct {
	CSS string
	JS  string
	SVG string
}

type source struct {
	dst       *string
	file      string
	mediaType string
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

	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("text/javascript", js.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)

	var page PageData
	sources := []source{
		{dst: &page.CSS, file: "style.css", mediaType: "text/css"},
		{dst: &page.JS, file: "script.js", mediaType: "text/javascript"},
		{dst: &page.SVG, file: "marker.svg", mediaType: "image/svg+xml"},
	}

	for _, src := range sources {
		path := filepath.Join(opts.Dir, src.file)
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("Failed to read asset")
		}

		*src.dst, err = m.String(src.mediaType, string(raw))
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("Failed to minify asset")
		}

		log.Debug().
			Str("path", path).
			Int("raw", len(raw)).
			Int("minified", len(*src.dst)).
			Msg("Asset minified")
	}

	tplPath := filepath.Join(opts.Dir, "index.html.tpl")
	tplRaw, err := os.ReadFile(tplPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", tplPath).Msg("Failed to read template")
	}

	tmpl, err := template.New("index").Parse(string(tplRaw))
	if err != nil {
		log.Fatal().Err(err).Str("path", tplPath).Msg("Failed to parse template")
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, page); err != nil {
		log.Fatal().Err(err).Msg("Failed to render template")
	}

	finalHTML, err := m.Bytes("text/html", buf.Bytes())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to minify HTML")
	}

	outPath := filepath.Join(opts.Dir, "index.html")
	if err := os.WriteFile(outPath, finalHTML, 0644); err != nil {
		log.Fatal().Err(err).Str("path", outPath).Msg("Failed to write page")
	}

	log.Info().Str("path", outPath).Int("bytes", len(finalHTML)).Msg("Minify done")
}
