// Package assets embeds the web page served at "/".
// index.html is generated by cmd/minify from the sources in this directory.
package assets

import _ "embed"

// Index is the minified single-page UI.
//
//go:embed index.html
var Index []byte

// Favicon is the place marker icon.
//
//go:embed marker.svg
var Favicon []byte
