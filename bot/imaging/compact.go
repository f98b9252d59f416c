package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
)

const (
	// reEncodeThreshold is the output size above which the thumbnail is
	// re-encoded at the lower quality rung.
	reEncodeThreshold = 200 * 1024

	lowQuality = 60
)

// Options controls thumbnail compaction.
type Options struct {
	MaxSide int // longest output edge, default 1280
	Quality int // first-pass JPEG quality, default 85
}

func (o Options) withDefaults() Options {
	if o.MaxSide <= 0 {
		o.MaxSide = 1280
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 85
	}
	return o
}

// Compact decodes a JPEG or PNG payload, downscales it so the longer side is
// at most MaxSide, and re-encodes as JPEG. Oversized results get a second
// pass at low quality. The error is non-nil only for undecodable payloads.
func Compact(data []byte, opts Options) ([]byte, error) {
	opts = opts.withDefaults()

	img, err := decodeJPEGOrPNG(data)
	if err != nil {
		return nil, err
	}

	width := img.Bounds().Dx()
	height := img.Bounds().Dy()
	if width > opts.MaxSide || height > opts.MaxSide {
		if width >= height {
			img = resize.Resize(uint(opts.MaxSide), 0, img, resize.Lanczos3)
		} else {
			img = resize.Resize(0, uint(opts.MaxSide), img, resize.Lanczos3)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, err
	}

	if buf.Len() > reEncodeThreshold {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: lowQuality}); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeJPEGOrPNG(data []byte) (image.Image, error) {
	img, jpegErr := jpeg.Decode(bytes.NewReader(data))
	if jpegErr == nil {
		return img, nil
	}

	img, pngErr := png.Decode(bytes.NewReader(data))
	if pngErr == nil {
		return img, nil
	}

	return nil, fmt.Errorf("image decode error: not jpeg or png")
}
