package imaging

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/bugrelay/bugrelay/pkg/reporttypes"
)

// Mode selects how redacted regions are obscured
type Mode string

const (
	ModeFill Mode = "fill"
	ModeBlur Mode = "blur"
)

// Config contains configuration for spatial redaction
type Config struct {
	Mode       Mode `json:"mode" yaml:"mode" default:"fill"`
	BlurRadius int  `json:"blur_radius" yaml:"blur_radius" default:"8"`
}

// Options controls a single sanitize call
type Options struct {
	Mode       Mode
	BlurRadius int
	FillColor  color.Color
}

// DefaultOptions returns opaque black fill
func DefaultOptions() Options {
	return Options{Mode: ModeFill, FillColor: color.Black, BlurRadius: 8}
}

// OptionsFromConfig maps config onto call options
func OptionsFromConfig(config *Config) Options {
	opts := DefaultOptions()
	if config == nil {
		return opts
	}
	if config.Mode != "" {
		opts.Mode = config.Mode
	}
	if config.BlurRadius > 0 {
		opts.BlurRadius = config.BlurRadius
	}
	return opts
}

// Sanitize applies spatial redaction to each region of the image. Regions are
// expressed in the image's own pixel coordinate space and are clamped to its
// bounds; zero-area or fully out-of-bounds regions are skipped. The output
// always has the same dimensions as the input.
func Sanitize(img image.Image, regions []reporttypes.Rect, opts Options) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	for _, region := range regions {
		if region.Empty() {
			continue
		}
		clamped := image.Rect(
			bounds.Min.X+region.X,
			bounds.Min.Y+region.Y,
			bounds.Min.X+region.X+region.Width,
			bounds.Min.Y+region.Y+region.Height,
		).Intersect(bounds)
		if clamped.Empty() {
			continue
		}

		switch opts.Mode {
		case ModeBlur:
			boxBlur(out, clamped, opts.BlurRadius)
		default:
			fill := opts.FillColor
			if fill == nil {
				fill = color.Black
			}
			draw.Draw(out, clamped, image.NewUniform(fill), image.Point{}, draw.Src)
		}
	}

	return out
}

// boxBlur applies a single-pass box blur to the given rect of the image.
// Averaging is computed against a snapshot so the blur is order-independent.
func boxBlur(img *image.RGBA, rect image.Rectangle, radius int) {
	if radius < 1 {
		radius = 1
	}
	src := image.NewRGBA(rect)
	draw.Draw(src, rect, img, rect.Min, draw.Src)

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			var sumR, sumG, sumB, sumA, n uint32
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					px, py := x+dx, y+dy
					if px < rect.Min.X || px >= rect.Max.X || py < rect.Min.Y || py >= rect.Max.Y {
						continue
					}
					c := src.RGBAAt(px, py)
					sumR += uint32(c.R)
					sumG += uint32(c.G)
					sumB += uint32(c.B)
					sumA += uint32(c.A)
					n++
				}
			}
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(sumR / n),
				G: uint8(sumG / n),
				B: uint8(sumB / n),
				A: uint8(sumA / n),
			})
		}
	}
}
