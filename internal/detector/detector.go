// Package detector wraps the phone-detection model. One call per
// frame: letterbox to the model's square input, run the network,
// decode and suppress duplicate boxes. An inference failure is a
// "not found", never an error up to the control loop.
package detector

import (
	"fmt"
	"image"
	"log"

	"gocv.io/x/gocv"

	"github.com/start-point/phone-sentry/internal/models"
)

const (
	// inputSize is the model's square input edge.
	inputSize = 640

	// padValue is the letterbox fill (mid-gray, the value the model
	// was trained with).
	padValue = 114
)

// Engine owns the loaded network. Not safe for concurrent Detect
// calls; the supervisor is the only caller.
type Engine struct {
	net gocv.Net
}

// New загружает ONNX-модель детекции.
func New(modelPath string) (*Engine, error) {
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("load model %s: network is empty", modelPath)
	}
	return &Engine{net: net}, nil
}

// Close releases the network.
func (e *Engine) Close() error { return e.net.Close() }

// Detect runs the model on one frame and reports the best phone
// detection. Confidences of all surviving boxes are returned highest
// first. Any failure inside the inference stage degrades to Found=false.
func (e *Engine) Detect(frame gocv.Mat, confThreshold float64) (res models.DetectionResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Detector: inference panic recovered: %v", r)
			res = models.DetectionResult{}
		}
	}()

	if frame.Empty() {
		return models.DetectionResult{}
	}

	srcW, srcH := frame.Cols(), frame.Rows()
	lb := letterboxParams(srcW, srcH, inputSize)

	canvas := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(padValue, padValue, padValue, 0),
		inputSize, inputSize, gocv.MatTypeCV8UC3,
	)
	defer canvas.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(frame, &resized, image.Pt(lb.newW, lb.newH), 0, 0, gocv.InterpolationLinear)

	roi := canvas.Region(image.Rect(lb.padLeft, lb.padTop, lb.padLeft+lb.newW, lb.padTop+lb.newH))
	resized.CopyTo(&roi)
	roi.Close()

	blob := gocv.BlobFromImage(canvas, 1.0/255.0, image.Pt(inputSize, inputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	out := e.net.Forward("")
	defer out.Close()

	raw, err := out.DataPtrFloat32()
	if err != nil {
		log.Printf("Detector: cannot read model output: %v", err)
		return models.DetectionResult{}
	}
	preds := make([]float32, len(raw))
	copy(preds, raw)

	kept := nonMaxSuppression(decodePredictions(preds, confThreshold, lb, srcW, srcH), iouThreshold)
	if len(kept) == 0 {
		return models.DetectionResult{}
	}

	confs := make([]float64, len(kept))
	for i, c := range kept {
		confs[i] = c.conf
	}
	return models.DetectionResult{
		Found:       true,
		Box:         kept[0].box,
		Confidences: confs,
	}
}
