// Package camera measures the floor brightness with a downward-facing webcam.
package camera

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"lanebot/lib"
)

// ErrNoFrame is returned until the first frame has been measured.
var ErrNoFrame = errors.New("no camera frame measured yet")

// frameSource is the part of gocv.VideoCapture the meter reads from.
type frameSource interface {
	Read(m *gocv.Mat) bool
	Close() error
}

// LightMeter reports the mean grey level of the frame centre as a percentage,
// standing in for an ambient light sensor
type LightMeter struct {
	Config lib.CameraConfig
	source frameSource
	window *gocv.Window

	mu           sync.RWMutex
	level        float64
	measured     bool
	frames       uint64
	displayFrame gocv.Mat
	stop         chan struct{}
	loopDone     chan struct{}
}

// NewLightMeter opens the camera with the given configuration
func NewLightMeter(config lib.CameraConfig) (*LightMeter, error) {
	if err := validate(config); err != nil {
		return nil, err
	}

	webcam, err := gocv.OpenVideoCapture(config.CameraID)
	if err != nil {
		return nil, fmt.Errorf("opening camera %d: %w", config.CameraID, err)
	}
	return newLightMeterOn(config, webcam), nil
}

func validate(config lib.CameraConfig) error {
	if config.ROIFraction <= 0 || config.ROIFraction > 1 {
		return fmt.Errorf("roi_fraction must be in (0, 1], got %v", config.ROIFraction)
	}
	return nil
}

func newLightMeterOn(config lib.CameraConfig, source frameSource) *LightMeter {
	lm := &LightMeter{
		Config:       config,
		source:       source,
		displayFrame: gocv.NewMat(),
	}
	// The preview window only exists when asked for.
	if config.ShowWindow {
		lm.window = gocv.NewWindow(config.WindowName)
	}
	return lm
}

// Start measures in the background until Stop. Starting a running meter does
// nothing.
func (lm *LightMeter) Start() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.stop != nil {
		return
	}
	lm.stop = make(chan struct{})
	lm.loopDone = make(chan struct{})
	go lm.measureLoop(lm.stop, lm.loopDone)
}

// Stop ends measuring and returns once the loop has finished its last read.
func (lm *LightMeter) Stop() {
	lm.mu.Lock()
	stop, done := lm.stop, lm.loopDone
	lm.stop, lm.loopDone = nil, nil
	lm.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Close stops the meter and releases the camera and the window.
func (lm *LightMeter) Close() {
	lm.Stop()

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.source != nil {
		lm.source.Close()
		lm.source = nil
	}
	if lm.window != nil {
		lm.window.Close()
		lm.window = nil
	}
	if !lm.displayFrame.Empty() {
		lm.displayFrame.Close()
	}
}

// ReadAmbientLight returns the latest measured level in percent
func (lm *LightMeter) ReadAmbientLight() (float64, error) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	if !lm.measured {
		return 0, ErrNoFrame
	}
	return lm.level, nil
}

// Frames returns how many frames have been measured
func (lm *LightMeter) Frames() uint64 {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.frames
}

// ShowCurrentFrame displays the annotated frame in the window
// IMPORTANT: This must be called from the main thread
func (lm *LightMeter) ShowCurrentFrame() bool {
	if !lm.Config.ShowWindow || lm.window == nil {
		return false
	}

	lm.mu.RLock()
	defer lm.mu.RUnlock()

	if lm.displayFrame.Empty() {
		return false
	}
	lm.window.IMShow(lm.displayFrame)
	return true
}

// WaitKey waits for a key press with the given delay
// IMPORTANT: This must be called from the main thread
func (lm *LightMeter) WaitKey(delay int) int {
	if !lm.Config.ShowWindow || lm.window == nil {
		return -1
	}
	return lm.window.WaitKey(delay)
}

// measureLoop grabs frames and averages the centre region until stop closes.
func (lm *LightMeter) measureLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	img := gocv.NewMat()
	defer img.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()

	gray := gocv.NewMat()
	defer gray.Close()

	green := color.RGBA{0, 255, 0, 0}
	white := color.RGBA{255, 255, 255, 0}

	for {
		select {
		case <-stop:
			return
		default:
			if ok := lm.source.Read(&img); !ok || img.Empty() {
				time.Sleep(10 * time.Millisecond) // Small delay to avoid busy waiting
				continue
			}

			k := lm.Config.BlurKernel
			if k > 1 {
				gocv.GaussianBlur(img, &blurred, image.Pt(k, k), 0, 0, gocv.BorderDefault)
			} else {
				img.CopyTo(&blurred)
			}
			gocv.CvtColor(blurred, &gray, gocv.ColorBGRToGray)

			roi := CenterROI(gray.Cols(), gray.Rows(), lm.Config.ROIFraction)
			region := gray.Region(roi)
			level := GrayToPercent(region.Mean().Val1)
			region.Close()

			var display gocv.Mat
			if lm.window != nil {
				display = img.Clone()
				gocv.Rectangle(&display, roi, green, 2)
				gocv.PutText(&display, fmt.Sprintf("%.1f%%", level), image.Pt(10, 30), gocv.FontHersheyDuplex, 1.0, white, 2)
			}

			lm.mu.Lock()
			lm.level = level
			lm.measured = true
			lm.frames++
			if lm.window != nil {
				if !lm.displayFrame.Empty() {
					lm.displayFrame.Close()
				}
				lm.displayFrame = display
			}
			lm.mu.Unlock()
		}
	}
}

// CenterROI returns a centred square whose side is fraction of the shorter
// frame dimension.
func CenterROI(width, height int, fraction float64) image.Rectangle {
	side := int(float64(min(width, height)) * fraction)
	side = max(side, 1)
	x0 := (width - side) / 2
	y0 := (height - side) / 2
	return image.Rect(x0, y0, x0+side, y0+side)
}

// GrayToPercent converts an 8-bit grey level to percent.
func GrayToPercent(mean float64) float64 {
	return mean / 255 * 100
}
