package preview

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Bounds of the media box the preview is displayed in.
const (
	MaxWidth  = 450
	MaxHeight = 400
)

// MaxPixels bounds the images Render will decode. Larger ones are kept as
// uploaded, since decoding allocates per pixel regardless of file size.
const MaxPixels = 50_000_000

// Render downscales img to fit the media box. Images that do not decode,
// already fit, or exceed MaxPixels are returned unchanged.
func Render(img Image) Image {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return img
	}
	if cfg.Width <= MaxWidth && cfg.Height <= MaxHeight {
		return img
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return img
	}

	decoded, format, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return img
	}

	thumb := resize.Thumbnail(MaxWidth, MaxHeight, decoded, resize.Lanczos3)

	var buf bytes.Buffer
	switch format {
	case "png", "gif":
		if err := png.Encode(&buf, thumb); err != nil {
			return img
		}
		return Image{ContentType: "image/png", Data: buf.Bytes()}
	default:
		if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 85}); err != nil {
			return img
		}
		return Image{ContentType: "image/jpeg", Data: buf.Bytes()}
	}
}
