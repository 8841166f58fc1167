package imaging

import (
	"image"
	"image/color"
	"testing"

	"github.com/bugrelay/bugrelay/pkg/reporttypes"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestSanitizeFillRegion(t *testing.T) {
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	img := solidImage(20, 20, white)

	out := Sanitize(img, []reporttypes.Rect{{X: 5, Y: 5, Width: 4, Height: 4}}, DefaultOptions())

	if got := out.Bounds(); got != img.Bounds() {
		t.Fatalf("Output dimensions changed: %v != %v", got, img.Bounds())
	}
	inside := out.RGBAAt(6, 6)
	if inside.R != 0 || inside.G != 0 || inside.B != 0 {
		t.Errorf("Expected filled pixel at (6,6), got %+v", inside)
	}
	outside := out.RGBAAt(12, 12)
	if outside != white {
		t.Errorf("Pixel outside region modified: %+v", outside)
	}
}

func TestSanitizeClampsOutOfBoundsRegions(t *testing.T) {
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	img := solidImage(10, 10, white)

	regions := []reporttypes.Rect{
		{X: 8, Y: 8, Width: 10, Height: 10},   // partially out of bounds
		{X: 50, Y: 50, Width: 5, Height: 5},   // fully out of bounds
		{X: 2, Y: 2, Width: 0, Height: 4},     // zero area
		{X: -3, Y: -3, Width: -1, Height: -1}, // negative
	}
	out := Sanitize(img, regions, DefaultOptions())

	if out.Bounds() != img.Bounds() {
		t.Fatalf("Output dimensions changed")
	}
	if got := out.RGBAAt(9, 9); got.R != 0 {
		t.Errorf("Expected clamped region to be filled at (9,9), got %+v", got)
	}
	if got := out.RGBAAt(2, 2); got != white {
		t.Errorf("Zero-area region should be a no-op, got %+v", got)
	}
	if got := out.RGBAAt(5, 5); got != white {
		t.Errorf("Pixel outside all regions modified: %+v", got)
	}
}

func TestSanitizeBlurObscuresContent(t *testing.T) {
	// Half black, half white: blurring the boundary must produce grey pixels
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if x < 8 {
				img.SetRGBA(x, y, color.RGBA{A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}

	opts := Options{Mode: ModeBlur, BlurRadius: 4}
	out := Sanitize(img, []reporttypes.Rect{{X: 0, Y: 0, Width: 16, Height: 16}}, opts)

	boundary := out.RGBAAt(8, 8)
	if boundary.R == 0 || boundary.R == 255 {
		t.Errorf("Expected blurred boundary pixel, got %+v", boundary)
	}
	if out.Bounds() != img.Bounds() {
		t.Errorf("Output dimensions changed")
	}
}

func TestSanitizeNoRegionsCopiesInput(t *testing.T) {
	c := color.RGBA{R: 12, G: 34, B: 56, A: 255}
	img := solidImage(4, 4, c)

	out := Sanitize(img, nil, DefaultOptions())
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if out.RGBAAt(x, y) != c {
				t.Fatalf("Pixel (%d,%d) changed with no regions", x, y)
			}
		}
	}
}
