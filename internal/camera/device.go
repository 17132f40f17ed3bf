package camera

import (
	"fmt"

	"gocv.io/x/gocv"
)

// videoCapture adapts gocv.VideoCapture to the Device interface.
type videoCapture struct {
	cap *gocv.VideoCapture
}

func openVideoCapture(deviceID int) (Device, error) {
	cap, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", deviceID, err)
	}
	return &videoCapture{cap: cap}, nil
}

func (v *videoCapture) Read(dst *gocv.Mat) bool { return v.cap.Read(dst) }
func (v *videoCapture) IsOpened() bool          { return v.cap.IsOpened() }
func (v *videoCapture) Close() error            { return v.cap.Close() }
