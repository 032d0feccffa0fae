package overlay

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"pitchtracker/internal/eventbus"
)

func grayFrame(w, h int) *eventbus.FrameHandle {
	return &eventbus.FrameHandle{
		Width:  w,
		Height: h,
		Pixfmt: "grayscale",
		Pixels: make([]byte, w*h),
	}
}

func TestRenderGrayscaleProducesDecodableJPEG(t *testing.T) {
	frame := grayFrame(64, 48)
	delta := 3.2
	data, err := Render(frame, Annotation{
		Boxes: []Box{
			{CameraID: "left", DetectionBox: eventbus.DetectionBox{BBox: [4]float64{10, 10, 20, 20}, Confidence: 0.9}, Color: ColorLeft},
		},
		Phase:          "ACTIVE",
		PitchIndex:     2,
		PairingDeltaMs: &delta,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode result jpeg: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 64, 48) {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
}

func TestRenderColorPacked(t *testing.T) {
	frame := &eventbus.FrameHandle{
		Width:  8,
		Height: 8,
		Pixfmt: "color-packed",
		Pixels: make([]byte, 8*8*3),
	}
	if _, err := Render(frame, Annotation{Phase: "INACTIVE"}); err != nil {
		t.Fatalf("Render: %v", err)
	}
}

func TestRenderRejectsUnknownPixfmt(t *testing.T) {
	frame := &eventbus.FrameHandle{Width: 4, Height: 4, Pixfmt: "yuv420", Pixels: make([]byte, 100)}
	if _, err := Render(frame, Annotation{}); err == nil {
		t.Fatal("expected error for unknown pixfmt")
	}
}

func TestRenderRejectsShortBuffer(t *testing.T) {
	frame := &eventbus.FrameHandle{Width: 100, Height: 100, Pixfmt: "grayscale", Pixels: make([]byte, 4)}
	if _, err := Render(frame, Annotation{}); err == nil {
		t.Fatal("expected error for short buffer")
	}
}
