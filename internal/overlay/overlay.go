// Package overlay draws bounding boxes, tracking phase, and pairing
// diagnostics onto preview frames for get_preview_frames(), adapted from
// the teacher's MJPEG stream's detection-overlay drawing code.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"pitchtracker/internal/eventbus"
)

// jpegQuality matches the teacher's mjpeg encode quality.
const jpegQuality = 85

// Box is one detection to draw, labeled by the camera it came from.
type Box struct {
	CameraID string
	DetectionBox eventbus.DetectionBox
	Color    color.RGBA
}

// Annotation is everything overlay.Render draws onto one preview frame.
type Annotation struct {
	Boxes          []Box
	Phase          string
	PitchIndex     int
	PairingDeltaMs *float64 // nil if no pairing window diagnostic applies
}

var (
	ColorLeft  = color.RGBA{0, 220, 220, 255}
	ColorRight = color.RGBA{220, 0, 220, 255}
)

// Render decodes a raw captured frame, draws ann onto it, and re-encodes
// it as a JPEG. Pixfmt "grayscale" is one byte per pixel; "color-packed"
// is three interleaved RGB bytes per pixel.
func Render(frame *eventbus.FrameHandle, ann Annotation) ([]byte, error) {
	img, err := decode(frame)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	for _, b := range ann.Boxes {
		x := int(b.DetectionBox.BBox[0])
		y := int(b.DetectionBox.BBox[1])
		w := int(b.DetectionBox.BBox[2])
		h := int(b.DetectionBox.BBox[3])
		drawBox(rgba, x, y, w, h, b.Color, 2)
		label := fmt.Sprintf("%s %.0f%%", b.CameraID, b.DetectionBox.Confidence*100)
		drawLabel(rgba, x, y-5, label, b.Color)
	}

	header := fmt.Sprintf("pitch %d: %s", ann.PitchIndex, ann.Phase)
	if ann.PairingDeltaMs != nil {
		header += fmt.Sprintf("  pair_dt=%.1fms", *ann.PairingDeltaMs)
	}
	drawLabel(rgba, 4, 14, header, color.RGBA{255, 255, 0, 255})

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("overlay: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(frame *eventbus.FrameHandle) (image.Image, error) {
	switch frame.Pixfmt {
	case "grayscale":
		if len(frame.Pixels) < frame.Width*frame.Height {
			return nil, fmt.Errorf("overlay: grayscale buffer too short for %dx%d", frame.Width, frame.Height)
		}
		img := image.NewGray(image.Rect(0, 0, frame.Width, frame.Height))
		copy(img.Pix, frame.Pixels[:frame.Width*frame.Height])
		return img, nil
	case "color-packed":
		if len(frame.Pixels) < frame.Width*frame.Height*3 {
			return nil, fmt.Errorf("overlay: color-packed buffer too short for %dx%d", frame.Width, frame.Height)
		}
		img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
		for i := 0; i < frame.Width*frame.Height; i++ {
			img.Pix[i*4+0] = frame.Pixels[i*3+0]
			img.Pix[i*4+1] = frame.Pixels[i*3+1]
			img.Pix[i*4+2] = frame.Pixels[i*3+2]
			img.Pix[i*4+3] = 255
		}
		return img, nil
	default:
		return nil, fmt.Errorf("overlay: unknown pixfmt %q", frame.Pixfmt)
	}
}

func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	for t := 0; t < thickness; t++ {
		for i := x; i < x+w && i < bounds.Max.X; i++ {
			if i < 0 {
				continue
			}
			if y+t >= 0 && y+t < bounds.Max.Y {
				img.Set(i, y+t, c)
			}
			if y+h-t >= 0 && y+h-t < bounds.Max.Y {
				img.Set(i, y+h-t, c)
			}
		}
		for j := y; j < y+h && j < bounds.Max.Y; j++ {
			if j < 0 {
				continue
			}
			if x+t >= 0 && x+t < bounds.Max.X {
				img.Set(x+t, j, c)
			}
			if x+w-t >= 0 && x+w-t < bounds.Max.X {
				img.Set(x+w-t, j, c)
			}
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 10 {
		y = 10
	}
	if x < 0 {
		x = 0
	}

	bg := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	bounds := img.Bounds()
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if px >= 0 && px < bounds.Max.X && py >= 0 && py < bounds.Max.Y {
				img.Set(px, py, bg)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
