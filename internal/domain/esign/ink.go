package esign

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// MaxSignatureImageBytes caps submitted signature payloads (1 MB).
const MaxSignatureImageBytes = 1 << 20

var (
	ErrEmptySignatureImage = errors.New("signature image is empty")
	ErrSignatureImageSize  = errors.New("signature image exceeds size limit")
)

// ValidateSignatureImage checks that data is a non-empty raster image in one
// of the accepted formats (png, jpeg, gif, bmp, tiff) with non-degenerate
// dimensions. Only the header is decoded.
func ValidateSignatureImage(data []byte) error {
	if len(data) == 0 {
		return ErrEmptySignatureImage
	}
	if len(data) > MaxSignatureImageBytes {
		return ErrSignatureImageSize
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode signature image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("signature image has degenerate dimensions %dx%d (%s)", cfg.Width, cfg.Height, format)
	}
	return nil
}

// Point is a single sample of a pointer path, in canvas coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// InkAccumulator collects freehand strokes and rasterizes them to a PNG on
// demand. Capture is single-user and single-session, so it is not safe for
// concurrent use and does not need to be.
type InkAccumulator struct {
	width   int
	height  int
	strokes [][]Point
}

// NewInkAccumulator creates an accumulator for a canvas of the given size.
func NewInkAccumulator(width, height int) *InkAccumulator {
	if width <= 0 {
		width = 400
	}
	if height <= 0 {
		height = 150
	}
	return &InkAccumulator{width: width, height: height}
}

// BeginStroke starts a new stroke at the given point (pointer down).
func (a *InkAccumulator) BeginStroke(x, y float64) {
	a.strokes = append(a.strokes, []Point{{X: x, Y: y}})
}

// Extend appends a point to the current stroke (pointer move). Without a
// preceding BeginStroke the point starts a new stroke.
func (a *InkAccumulator) Extend(x, y float64) {
	if len(a.strokes) == 0 {
		a.BeginStroke(x, y)
		return
	}
	last := len(a.strokes) - 1
	a.strokes[last] = append(a.strokes[last], Point{X: x, Y: y})
}

// Empty reports whether any ink has been captured.
func (a *InkAccumulator) Empty() bool {
	for _, s := range a.strokes {
		if len(s) > 0 {
			return false
		}
	}
	return true
}

// Clear drops all captured strokes.
func (a *InkAccumulator) Clear() {
	a.strokes = nil
}

// RenderPNG rasterizes the accumulated strokes onto a white canvas and
// returns the encoded PNG. Rendering an empty accumulator is an error so a
// blank bitmap can never pass for a signature.
func (a *InkAccumulator) RenderPNG() ([]byte, error) {
	if a.Empty() {
		return nil, ErrEmptySignatureImage
	}

	img := image.NewRGBA(image.Rect(0, 0, a.width, a.height))
	for y := 0; y < a.height; y++ {
		for x := 0; x < a.width; x++ {
			img.Set(x, y, color.White)
		}
	}

	ink := color.RGBA{R: 20, G: 20, B: 60, A: 255}
	for _, stroke := range a.strokes {
		if len(stroke) == 1 {
			img.Set(int(stroke[0].X), int(stroke[0].Y), ink)
			continue
		}
		for i := 1; i < len(stroke); i++ {
			drawLine(img, stroke[i-1], stroke[i], ink)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode signature png: %w", err)
	}
	return buf.Bytes(), nil
}

// drawLine plots a line segment with the integer Bresenham walk.
func drawLine(img *image.RGBA, from, to Point, c color.Color) {
	x0, y0 := int(from.X), int(from.Y)
	x1, y1 := int(to.X), int(to.Y)

	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy

	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
