// Package media provides frame encoding and decoding for the swap client.
// Frames travel over the wire as lossy-compressed JPEG payloads wrapped in
// base64 data URLs, downscaled so neither dimension exceeds a configured
// maximum.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	_ "image/gif" // Register GIF decoder

	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Image format constants.
const (
	FormatJPEG = "jpeg"
	FormatJPG  = "jpg"
	FormatPNG  = "png"
)

// MIME type constants.
const (
	MIMETypeJPEG = "image/jpeg"
	MIMETypePNG  = "image/png"
	MIMETypeWebP = "image/webp"
)

// Default codec configuration values.
const (
	// DefaultMaxDimension caps frame width and height for live streaming.
	DefaultMaxDimension = 640

	// DefaultQuality is the default JPEG quality (1-100).
	DefaultQuality = 80

	// MinQuality is the lowest quality the codec will clamp to.
	MinQuality = 10

	// MaxQuality is the highest quality the codec will clamp to.
	MaxQuality = 100
)

// EncodedImage is a compressed still image ready for transport.
type EncodedImage struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// CodecError reports a malformed or unencodable image. It is recoverable:
// the affected frame is dropped and the owning session continues.
type CodecError struct {
	// Op is the codec operation that failed ("decode", "encode", "parse").
	Op string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *CodecError) Error() string {
	if e.Cause != nil {
		return "media: " + e.Op + ": " + e.Cause.Error()
	}
	return "media: " + e.Op + " failed"
}

// Unwrap returns the underlying error.
func (e *CodecError) Unwrap() error {
	return e.Cause
}

func newCodecError(op string, cause error) *CodecError {
	return &CodecError{Op: op, Cause: cause}
}

// EncodeFrame decodes raw image bytes, downscales so neither dimension
// exceeds maxDimension, and re-encodes as JPEG at the given quality (1-100).
// A maxDimension of 0 disables downscaling. The input bytes are never
// modified.
func EncodeFrame(data []byte, maxDimension, quality int) (*EncodedImage, error) {
	if len(data) == 0 {
		return nil, newCodecError("decode", fmt.Errorf("empty image data"))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, newCodecError("decode", err)
	}

	return EncodeImage(img, maxDimension, quality)
}

// EncodeImage downscales and JPEG-encodes an already-decoded image.
func EncodeImage(img image.Image, maxDimension, quality int) (*EncodedImage, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	targetWidth, targetHeight := fitDimensions(width, height, maxDimension)
	if targetWidth < width || targetHeight < height {
		img = scaleImage(img, targetWidth, targetHeight)
	}

	quality = clampQuality(quality)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, newCodecError("encode", err)
	}

	return &EncodedImage{
		Data:     buf.Bytes(),
		MIMEType: MIMETypeJPEG,
		Width:    targetWidth,
		Height:   targetHeight,
	}, nil
}

// EncodePNG encodes an image as PNG without downscaling. Used for reference
// images where lossless quality matters more than payload size.
func EncodePNG(img image.Image) (*EncodedImage, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, newCodecError("encode", err)
	}
	bounds := img.Bounds()
	return &EncodedImage{
		Data:     buf.Bytes(),
		MIMEType: MIMETypePNG,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}

// DecodeFrame decodes an encoded image back into a drawable image.
// Malformed payloads return a *CodecError rather than panicking, so a bad
// frame never tears down the caller.
func DecodeFrame(e *EncodedImage) (image.Image, error) {
	if e == nil || len(e.Data) == 0 {
		return nil, newCodecError("decode", fmt.Errorf("empty image data"))
	}
	img, _, err := image.Decode(bytes.NewReader(e.Data))
	if err != nil {
		return nil, newCodecError("decode", err)
	}
	return img, nil
}

// fitDimensions shrinks width and height proportionally so neither exceeds
// maxDimension. Zero or negative maxDimension leaves dimensions unchanged.
func fitDimensions(width, height, maxDimension int) (int, int) {
	if maxDimension <= 0 {
		return width, height
	}

	targetWidth := width
	targetHeight := height

	if targetWidth > maxDimension {
		ratio := float64(maxDimension) / float64(targetWidth)
		targetWidth = maxDimension
		targetHeight = int(float64(targetHeight) * ratio)
	}
	if targetHeight > maxDimension {
		ratio := float64(maxDimension) / float64(targetHeight)
		targetHeight = maxDimension
		targetWidth = int(float64(targetWidth) * ratio)
	}

	if targetWidth < 1 {
		targetWidth = 1
	}
	if targetHeight < 1 {
		targetHeight = 1
	}

	return targetWidth, targetHeight
}

// scaleImage performs the actual downscale using high-quality scaling.
func scaleImage(src image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	// CatmullRom for high-quality downscaling (similar to Lanczos)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

func clampQuality(quality int) int {
	switch {
	case quality <= 0:
		return DefaultQuality
	case quality < MinQuality:
		return MinQuality
	case quality > MaxQuality:
		return MaxQuality
	default:
		return quality
	}
}
