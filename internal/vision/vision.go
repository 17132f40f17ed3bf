// Package vision implements the cheap per-frame heuristics: uniformity
// (camera covered or blank) and frame similarity (stuck feed), plus the
// evidence helpers used when an event fires.
package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/start-point/phone-sentry/internal/models"
	"github.com/start-point/phone-sentry/internal/vision/stats"
)

const (
	// UniformityThreshold is the grayscale stddev below which a frame
	// counts as uniform.
	UniformityThreshold = 10.0

	// SimilaritySSIM and SimilarityMeanDiff must both pass for two
	// frames to count as identical.
	SimilaritySSIM     = 0.95
	SimilarityMeanDiff = 5.0
)

// grayBytes converts a BGR frame to a flat grayscale buffer. blur
// applies a 5x5 Gaussian first to suppress sensor noise.
func grayBytes(frame gocv.Mat, blur bool) ([]uint8, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

	if blur {
		gocv.GaussianBlur(gray, &gray, image.Pt(5, 5), 0, 0, gocv.BorderDefault)
	}

	pix, err := gray.DataPtrUint8()
	if err != nil {
		return nil, fmt.Errorf("grayscale data: %w", err)
	}
	out := make([]uint8, len(pix))
	copy(out, pix)
	return out, nil
}

// IsUniform reports whether the frame is near-constant (camera covered).
// Heuristic failures report false, never an error, so a broken frame
// cannot trip the lock.
func IsUniform(frame gocv.Mat) bool {
	if frame.Empty() {
		return false
	}
	pix, err := grayBytes(frame, false)
	if err != nil {
		return false
	}
	return stats.StdDev(pix) < UniformityThreshold
}

// Similar reports whether two frames are structurally identical:
// SSIM >= 0.95 and mean absolute gray difference <= 5.
func Similar(a, b gocv.Mat) bool {
	if a.Empty() || b.Empty() {
		return false
	}
	if a.Rows() != b.Rows() || a.Cols() != b.Cols() {
		return false
	}

	ga, err := grayBytes(a, true)
	if err != nil {
		return false
	}
	gb, err := grayBytes(b, true)
	if err != nil {
		return false
	}

	return stats.SSIM(ga, gb) >= SimilaritySSIM &&
		stats.MeanAbsDiff(ga, gb) <= SimilarityMeanDiff
}

// Annotate draws the detection rectangle and label into the frame.
// Called only on the evidence copy, never on the live frame.
func Annotate(frame *gocv.Mat, box models.Box, conf float64) {
	green := color.RGBA{G: 255}
	gocv.Rectangle(frame, image.Rect(box.X1, box.Y1, box.X2, box.Y2), green, 2)
	label := fmt.Sprintf("phone %.2f", conf)
	gocv.PutText(frame, label, image.Pt(box.X1, box.Y1-10), gocv.FontHersheySimplex, 0.9, green, 2)
}

// EncodeJPEG returns the frame as a JPEG buffer.
func EncodeJPEG(frame gocv.Mat) ([]byte, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("encode jpeg: empty frame")
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
