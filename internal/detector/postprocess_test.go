package detector

import (
	"testing"

	"github.com/start-point/phone-sentry/internal/models"
)

func TestLetterboxAlwaysSquare(t *testing.T) {
	tests := []struct {
		name       string
		srcW, srcH int
	}{
		{"wide", 1920, 1080},
		{"tall", 480, 800},
		{"square", 512, 512},
		{"tiny", 3, 7},
		{"already model sized", 640, 640},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb := letterboxParams(tt.srcW, tt.srcH, 640)

			if got := lb.newW + lb.padLeft + lb.padRight; got != 640 {
				t.Errorf("width %d + padding != 640 (got %d)", lb.newW, got)
			}
			if got := lb.newH + lb.padTop + lb.padBottom; got != 640 {
				t.Errorf("height %d + padding != 640 (got %d)", lb.newH, got)
			}

			// Padding is symmetric within one pixel.
			if d := lb.padLeft - lb.padRight; d < -1 || d > 1 {
				t.Errorf("horizontal padding asymmetric: %d vs %d", lb.padLeft, lb.padRight)
			}
			if d := lb.padTop - lb.padBottom; d < -1 || d > 1 {
				t.Errorf("vertical padding asymmetric: %d vs %d", lb.padTop, lb.padBottom)
			}

			// The longer dimension fills the square.
			if tt.srcW >= tt.srcH && lb.newW != 640 {
				t.Errorf("wide input must fill width, got %d", lb.newW)
			}
			if tt.srcH > tt.srcW && lb.newH != 640 {
				t.Errorf("tall input must fill height, got %d", lb.newH)
			}
		})
	}
}

func TestLetterboxRoundTrip(t *testing.T) {
	lb := letterboxParams(1280, 720, 640)

	// Center of the source maps to the center of the model input and back.
	cx := float64(lb.padLeft) + float64(lb.newW)/2
	cy := float64(lb.padTop) + float64(lb.newH)/2
	x, y := lb.toSource(cx, cy, 1280, 720)
	if x < 638 || x > 642 || y < 358 || y > 362 {
		t.Errorf("center maps to (%d,%d), want ~(640,360)", x, y)
	}

	// Coordinates inside the padding clamp to the frame.
	x, y = lb.toSource(0, 0, 1280, 720)
	if x != 0 || y != 0 {
		t.Errorf("top-left pad maps to (%d,%d), want (0,0)", x, y)
	}
}

func TestDecodeFiltersByConfidence(t *testing.T) {
	lb := letterboxParams(640, 640, 640) // identity mapping
	preds := []float32{
		100, 100, 40, 40, 0.9,
		200, 200, 40, 40, 0.3, // below threshold
		300, 300, 40, 40, 0.75,
	}
	cands := decodePredictions(preds, 0.5, lb, 640, 640)
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	want := models.Box{X1: 80, Y1: 80, X2: 120, Y2: 120}
	if cands[0].box != want {
		t.Errorf("first box = %+v, want %+v", cands[0].box, want)
	}
}

func TestDecodeDropsDegenerateBoxes(t *testing.T) {
	lb := letterboxParams(640, 640, 640)
	preds := []float32{100, 100, 0, 0, 0.99}
	if cands := decodePredictions(preds, 0.5, lb, 640, 640); len(cands) != 0 {
		t.Errorf("zero-size box must be dropped, got %d candidates", len(cands))
	}
}

func TestNMSSuppressesOverlaps(t *testing.T) {
	cands := []candidate{
		{box: models.Box{X1: 10, Y1: 10, X2: 110, Y2: 110}, conf: 0.7},
		{box: models.Box{X1: 15, Y1: 15, X2: 115, Y2: 115}, conf: 0.9}, // same object, higher conf
		{box: models.Box{X1: 400, Y1: 400, X2: 500, Y2: 500}, conf: 0.6},
	}
	kept := nonMaxSuppression(cands, iouThreshold)
	if len(kept) != 2 {
		t.Fatalf("expected 2 kept boxes, got %d", len(kept))
	}
	if kept[0].conf != 0.9 {
		t.Errorf("highest confidence must win its cluster, got %g", kept[0].conf)
	}
	if kept[1].conf != 0.6 {
		t.Errorf("distant box must survive, got %g", kept[1].conf)
	}
}

func TestNMSKeepsDisjointBoxes(t *testing.T) {
	cands := []candidate{
		{box: models.Box{X1: 0, Y1: 0, X2: 50, Y2: 50}, conf: 0.5},
		{box: models.Box{X1: 60, Y1: 60, X2: 110, Y2: 110}, conf: 0.8},
	}
	kept := nonMaxSuppression(cands, iouThreshold)
	if len(kept) != 2 {
		t.Fatalf("disjoint boxes must both survive, got %d", len(kept))
	}
	if kept[0].conf != 0.8 || kept[1].conf != 0.5 {
		t.Errorf("kept boxes not ordered by confidence: %+v", kept)
	}
}

func TestIoU(t *testing.T) {
	a := models.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	if got := iou(a, a); got != 1 {
		t.Errorf("iou with itself = %g, want 1", got)
	}
	b := models.Box{X1: 20, Y1: 20, X2: 30, Y2: 30}
	if got := iou(a, b); got != 0 {
		t.Errorf("iou of disjoint boxes = %g, want 0", got)
	}
}
