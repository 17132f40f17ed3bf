// Package stats implements the per-frame pixel statistics behind the
// uniformity and freeze heuristics. It operates on raw grayscale
// buffers so it stays independent of the capture backend.
package stats

import "math"

// Mean returns the average pixel value.
func Mean(pix []uint8) float64 {
	if len(pix) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pix {
		sum += float64(p)
	}
	return sum / float64(len(pix))
}

// StdDev returns the population standard deviation of pixel values.
func StdDev(pix []uint8) float64 {
	if len(pix) == 0 {
		return 0
	}
	mean := Mean(pix)
	var acc float64
	for _, p := range pix {
		d := float64(p) - mean
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(pix)))
}

// MeanAbsDiff returns the mean absolute per-pixel difference between
// two equally sized buffers.
func MeanAbsDiff(a, b []uint8) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.MaxFloat64
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(a))
}

// SSIM stabilization constants for 8-bit dynamic range (K1=0.01, K2=0.03).
const (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)
)

// SSIM returns the global structural similarity index of two equally
// sized grayscale buffers, in [-1, 1]. Identical buffers score 1.
// The global (single-window) form is sufficient here: the freeze
// heuristic asks "is this the same frame", not "where does it differ".
func SSIM(a, b []uint8) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	n := float64(len(a))

	var sumA, sumB float64
	for i := range a {
		sumA += float64(a[i])
		sumB += float64(b[i])
	}
	muA := sumA / n
	muB := sumB / n

	var varA, varB, cov float64
	for i := range a {
		da := float64(a[i]) - muA
		db := float64(b[i]) - muB
		varA += da * da
		varB += db * db
		cov += da * db
	}
	varA /= n
	varB /= n
	cov /= n

	num := (2*muA*muB + ssimC1) * (2*cov + ssimC2)
	den := (muA*muA + muB*muB + ssimC1) * (varA + varB + ssimC2)
	return num / den
}
