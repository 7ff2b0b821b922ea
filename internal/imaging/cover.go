// Package imaging normalizes uploaded book cover images.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"golang.org/x/image/draw"
)

// Covers are scaled down to fit within MaxWidth x MaxHeight.
const (
	MaxWidth  = 768
	MaxHeight = 1024
)

// MaxUploadBytes caps the size of an uploaded cover.
const MaxUploadBytes = 8 << 20

// JPEGQuality is the compression quality of stored covers.
const JPEGQuality = 85

// CoverMIME is the format every stored cover is encoded in.
const CoverMIME = "image/jpeg"

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTooLarge          = errors.New("image too large")
)

var acceptedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// NormalizeCover reads a JPEG or PNG image, scales it to fit the cover box and
// re-encodes it as JPEG. The format is sniffed from content, not trusted from headers.
func NormalizeCover(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading cover: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return nil, ErrTooLarge
	}

	if detected := http.DetectContentType(data); !acceptedMIME[detected] {
		return nil, fmt.Errorf("%w: %s (only JPEG and PNG accepted)", ErrUnsupportedFormat, detected)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding cover: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, fit(img, MaxWidth, MaxHeight), &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding cover: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales img down, preserving aspect ratio, so that it fits within maxW x maxH.
// Images already inside the box are returned unchanged.
func fit(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && h <= maxH {
		return img
	}

	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
