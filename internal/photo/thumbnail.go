// Package photo transcodes provider photos into small WebP thumbnails.
package photo

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Quality is the lossy WebP quality of thumbnails.
const Quality = 80

// ContentType of every thumbnail.
const ContentType = "image/webp"

// ErrEmptyImage is returned for images without pixels.
var ErrEmptyImage = errors.New("photo: empty image")

// Thumbnail decodes data and re-encodes it as WebP, scaled down so neither
// side exceeds maxSize. Smaller images keep their size.
func Thumbnail(data []byte, maxSize int) ([]byte, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	bounds := src.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, ErrEmptyImage
	}

	dst := Fit(src, maxSize)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, dst, &webp.Options{Lossless: false, Quality: Quality}); err != nil {
		return nil, fmt.Errorf("encode %s as webp: %w", format, err)
	}

	return buf.Bytes(), nil
}

// Fit scales img down with CatmullRom so it fits a maxSize square,
// keeping the aspect ratio. Images already small enough are returned as is.
func Fit(img image.Image, maxSize int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxSize <= 0 || (w <= maxSize && h <= maxSize) {
		return img
	}

	nw, nh := maxSize, maxSize
	if w > h {
		nh = max(1, h*maxSize/w)
	} else {
		nw = max(1, w*maxSize/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	return dst
}
