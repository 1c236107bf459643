package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/kalambet/persona/internal/analysis"
)

const jpegQuality = 85

// prepared is the image actually sent to the model.
type prepared struct {
	data        []byte
	contentType string
	size        analysis.SizeMetadata
}

// prepare bounds the longest edge of data to maxEdge. Images already within
// bounds and upright are passed through untouched; anything else is
// re-encoded as JPEG.
func prepare(data []byte, maxEdge int) (prepared, error) {
	detected := mimetype.Detect(data).String()

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return prepared{}, analysis.Wrap(analysis.KindInvalidMedia, "decoding image", err)
	}

	orientation := exifOrientation(data)
	img = orient(img, orientation)

	b := img.Bounds()
	meta := analysis.SizeMetadata{
		OriginalBytes:  len(data),
		OriginalWidth:  b.Dx(),
		OriginalHeight: b.Dy(),
		Width:          b.Dx(),
		Height:         b.Dy(),
	}

	w, h := fit(b.Dx(), b.Dy(), maxEdge)
	if w == b.Dx() && h == b.Dy() && orientation == 1 {
		meta.SentBytes = len(data)
		meta.ContentType = detected
		return prepared{data: data, contentType: detected, size: meta}, nil
	}

	var out image.Image = img
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		out = dst
		meta.Resized = true
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return prepared{}, fmt.Errorf("encoding resized image: %w", err)
	}
	meta.Width, meta.Height = w, h
	meta.SentBytes = buf.Len()
	meta.ContentType = "image/jpeg"
	return prepared{data: buf.Bytes(), contentType: "image/jpeg", size: meta}, nil
}

// fit scales w x h so that neither edge exceeds maxEdge, keeping aspect ratio.
func fit(w, h, maxEdge int) (int, int) {
	if maxEdge <= 0 || (w <= maxEdge && h <= maxEdge) {
		return w, h
	}
	if w >= h {
		nh := h * maxEdge / w
		if nh < 1 {
			nh = 1
		}
		return maxEdge, nh
	}
	nw := w * maxEdge / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxEdge
}

func exifOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// orient applies an EXIF orientation so the image is upright.
func orient(img image.Image, orientation int) image.Image {
	if orientation <= 1 || orientation > 8 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	swap := orientation >= 5
	dw, dh := w, h
	if swap {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch orientation {
			case 2:
				dx, dy = w-1-x, y
			case 3:
				dx, dy = w-1-x, h-1-y
			case 4:
				dx, dy = x, h-1-y
			case 5:
				dx, dy = y, x
			case 6:
				dx, dy = h-1-y, x
			case 7:
				dx, dy = h-1-y, w-1-x
			case 8:
				dx, dy = y, w-1-x
			}
			dst.Set(dx, dy, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
