package detector

import (
	"sort"

	"github.com/start-point/phone-sentry/internal/models"
)

// iouThreshold is the overlap above which two boxes are considered
// duplicates of the same object.
const iouThreshold = 0.45

// predStride is the per-box layout of the raw model output:
// center x, center y, width, height, confidence.
const predStride = 5

type candidate struct {
	box  models.Box
	conf float64
}

// decodePredictions converts raw model output rows into frame-space
// corner boxes, discarding rows below confThreshold.
func decodePredictions(preds []float32, confThreshold float64, lb letterbox, srcW, srcH int) []candidate {
	var out []candidate
	for i := 0; i+predStride <= len(preds); i += predStride {
		conf := float64(preds[i+4])
		if conf < confThreshold {
			continue
		}
		cx := float64(preds[i])
		cy := float64(preds[i+1])
		w := float64(preds[i+2])
		h := float64(preds[i+3])

		x1, y1 := lb.toSource(cx-w/2, cy-h/2, srcW, srcH)
		x2, y2 := lb.toSource(cx+w/2, cy+h/2, srcW, srcH)
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		out = append(out, candidate{
			box:  models.Box{X1: x1, Y1: y1, X2: x2, Y2: y2},
			conf: conf,
		})
	}
	return out
}

// nonMaxSuppression keeps the highest-confidence box per overlapping
// cluster. Result is ordered by confidence, highest first.
func nonMaxSuppression(cands []candidate, iouLimit float64) []candidate {
	sorted := make([]candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].conf > sorted[j].conf })

	var kept []candidate
	for _, c := range sorted {
		suppressed := false
		for _, k := range kept {
			if iou(c.box, k.box) > iouLimit {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept
}

func iou(a, b models.Box) float64 {
	ix1 := max(a.X1, b.X1)
	iy1 := max(a.Y1, b.Y1)
	ix2 := min(a.X2, b.X2)
	iy2 := min(a.Y2, b.Y2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := float64(iw * ih)
	areaA := float64((a.X2 - a.X1) * (a.Y2 - a.Y1))
	areaB := float64((b.X2 - b.X1) * (b.Y2 - b.Y1))
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
