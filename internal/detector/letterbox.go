package detector

// letterbox describes how a source frame maps into the square model
// input: uniform scale plus constant-fill padding.
type letterbox struct {
	scale               float64
	newW, newH          int
	padLeft, padTop     int
	padRight, padBottom int
}

// letterboxParams computes the aspect-preserving resize and the
// symmetric padding needed to reach a size x size square.
func letterboxParams(srcW, srcH, size int) letterbox {
	if srcW <= 0 || srcH <= 0 {
		return letterbox{scale: 1, newW: size, newH: size}
	}

	scale := float64(size) / float64(srcW)
	if s := float64(size) / float64(srcH); s < scale {
		scale = s
	}

	newW := int(float64(srcW)*scale + 0.5)
	newH := int(float64(srcH)*scale + 0.5)
	if newW > size {
		newW = size
	}
	if newH > size {
		newH = size
	}

	padW := size - newW
	padH := size - newH

	return letterbox{
		scale:     scale,
		newW:      newW,
		newH:      newH,
		padLeft:   padW / 2,
		padRight:  padW - padW/2,
		padTop:    padH / 2,
		padBottom: padH - padH/2,
	}
}

// toSource maps a model-input coordinate back to source frame
// coordinates, clamped to the frame.
func (lb letterbox) toSource(x, y float64, srcW, srcH int) (int, int) {
	sx := (x - float64(lb.padLeft)) / lb.scale
	sy := (y - float64(lb.padTop)) / lb.scale
	return clamp(int(sx+0.5), 0, srcW-1), clamp(int(sy+0.5), 0, srcH-1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
