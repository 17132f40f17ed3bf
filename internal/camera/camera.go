// Package camera owns the capture device and runs the dedicated
// reader goroutine. Consumers never touch the device: they poll
// GetFrame for a copy of the most recent frame and IsCameraLost for
// device health.
package camera

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

const (
	// maxReadFailures is the consecutive-failure budget before the
	// source flags itself lost and the reader exits.
	maxReadFailures = 10

	pausePollInterval = 50 * time.Millisecond
	readRetryInterval = 100 * time.Millisecond
	stopJoinTimeout   = 2 * time.Second
)

// Device abstracts the capture backend so tests can script reads.
type Device interface {
	Read(dst *gocv.Mat) bool
	IsOpened() bool
	Close() error
}

// OpenFunc opens the capture device. Called by Start and Restart.
type OpenFunc func() (Device, error)

// Stats are running counters for the capture loop.
type Stats struct {
	FramesRead   uint64
	ReadFailures uint64
}

// Source потокобезопасный видеозахват с одной камеры с поддержкой
// паузы, прогрева и graceful shutdown.
type Source struct {
	open   OpenFunc
	warmup time.Duration
	maxFPS int

	mu          sync.Mutex
	latest      gocv.Mat
	hasLatest   bool
	lastFrameAt time.Time

	newFrame chan struct{}

	paused atomic.Bool
	ready  atomic.Bool
	lost   atomic.Bool

	framesRead   atomic.Uint64
	readFailures atomic.Uint64

	dev      Device
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a Source over the default gocv backend for a device id.
func New(deviceID int, warmup time.Duration, maxFPS int) *Source {
	return NewWithOpener(func() (Device, error) { return openVideoCapture(deviceID) }, warmup, maxFPS)
}

// NewWithOpener builds a Source over a custom device opener.
func NewWithOpener(open OpenFunc, warmup time.Duration, maxFPS int) *Source {
	if maxFPS < 1 {
		maxFPS = 1
	}
	return &Source{
		open:     open,
		warmup:   warmup,
		maxFPS:   maxFPS,
		newFrame: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start opens the device and launches the reader goroutine. It returns
// immediately; if the device cannot be opened the source only flags
// itself lost — callers poll IsCameraLost.
func (s *Source) Start() {
	dev, err := s.open()
	if err != nil || !dev.IsOpened() {
		if err != nil {
			log.Printf("Camera: open failed: %v", err)
		}
		if dev != nil {
			dev.Close()
		}
		s.lost.Store(true)
		close(s.done)
		return
	}
	s.dev = dev
	go s.readerLoop()
}

// Restart releases the current device and re-initializes from a clean
// state. Used by operator tooling, never by the control loop.
func (s *Source) Restart() {
	s.Stop()

	s.mu.Lock()
	if s.hasLatest {
		s.latest.Close()
		s.hasLatest = false
	}
	s.lastFrameAt = time.Time{}
	s.mu.Unlock()

	s.newFrame = make(chan struct{}, 1)
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.stopOnce = sync.Once{}
	s.paused.Store(false)
	s.ready.Store(false)
	s.lost.Store(false)
	s.framesRead.Store(0)
	s.readFailures.Store(0)

	s.Start()
}

func (s *Source) readerLoop() {
	defer close(s.done)

	frame := gocv.NewMat()
	defer frame.Close()

	failures := 0
	firstRead := false

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if s.paused.Load() {
			time.Sleep(pausePollInterval)
			continue
		}

		if !s.dev.Read(&frame) || frame.Empty() {
			failures++
			s.readFailures.Add(1)
			if failures >= maxReadFailures {
				log.Printf("Camera: %d consecutive read failures, marking lost", failures)
				s.lost.Store(true)
				return
			}
			time.Sleep(readRetryInterval)
			continue
		}

		if !firstRead {
			// Let auto-exposure settle before declaring frames usable.
			firstRead = true
			if !s.sleepInterruptible(s.warmup) {
				return
			}
			s.ready.Store(true)
		}

		failures = 0
		s.framesRead.Add(1)

		s.mu.Lock()
		if s.hasLatest {
			s.latest.Close()
		}
		s.latest = frame.Clone()
		s.hasLatest = true
		s.mu.Unlock()

		select {
		case s.newFrame <- struct{}{}:
		default:
		}
	}
}

func (s *Source) sleepInterruptible(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-s.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// GetFrame returns a copy of the most recent frame, waiting up to
// timeout for a new one. Frames are handed out no more often than
// 1/maxFPS. The second return is false when no frame is available.
func (s *Source) GetFrame(timeout time.Duration) (gocv.Mat, bool) {
	if !s.ready.Load() {
		return gocv.Mat{}, false
	}

	select {
	case <-s.newFrame:
	case <-time.After(timeout):
		return gocv.Mat{}, false
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasLatest {
		return gocv.Mat{}, false
	}
	if delay := time.Second / time.Duration(s.maxFPS); now.Sub(s.lastFrameAt) < delay {
		// Too soon; the frame is skipped, not queued.
		return gocv.Mat{}, false
	}
	s.lastFrameAt = now
	return s.latest.Clone(), true
}

// Pause stops reads without releasing the device (screen locked).
func (s *Source) Pause() { s.paused.Store(true) }

// Resume continues reads after Pause.
func (s *Source) Resume() { s.paused.Store(false) }

// Stop joins the reader loop with a bounded wait and releases the
// device. Idempotent. When the join times out the device is left open:
// the reader may still be blocked inside dev.Read, and closing the
// handle under an active read is not safe.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	select {
	case <-s.done:
	case <-time.After(stopJoinTimeout):
		log.Printf("Camera: reader did not stop within %v, leaving the device open", stopJoinTimeout)
		return
	}

	if s.dev != nil {
		s.dev.Close()
		s.dev = nil
	}
}

// IsReady reports whether warmup has completed.
func (s *Source) IsReady() bool { return s.ready.Load() }

// IsCameraLost reports device open failure or sustained read failure.
func (s *Source) IsCameraLost() bool { return s.lost.Load() }

// Stats returns running capture counters.
func (s *Source) Stats() Stats {
	return Stats{
		FramesRead:   s.framesRead.Load(),
		ReadFailures: s.readFailures.Load(),
	}
}
