package blob

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Normalize decodes an uploaded image, applies EXIF orientation, shrinks it
// to fit within maxDim on both sides and re-encodes it as JPEG.
func Normalize(data []byte, maxDim int) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if maxDim > 0 {
		b := img.Bounds()
		if b.Dx() > maxDim || b.Dy() > maxDim {
			img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
		}
	}
	return encodeJPEG(img)
}

func encodeJPEG(img image.Image) ([]byte, string, error) {
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}
