// Package supervisor runs the observation loop: it pulls frames from
// the camera, evaluates the monitored conditions and fires the
// configured reactions. All policy reads go through the config holder
// so a settings change applies on the next cycle.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/start-point/phone-sentry/internal/camera"
	"github.com/start-point/phone-sentry/internal/config"
	"github.com/start-point/phone-sentry/internal/models"
	"github.com/start-point/phone-sentry/internal/notify"
	"github.com/start-point/phone-sentry/internal/platform"
	"github.com/start-point/phone-sentry/internal/vision"
)

const (
	frameTimeout      = 2 * time.Second
	shutdownTimeout   = 200 * time.Millisecond
	freezeWindow      = 30 * time.Second
	heartbeatInterval = 5 * time.Second

	lockedPollInterval = 500 * time.Millisecond
	lockWaitAttempts   = 20
	lockWaitInterval   = 200 * time.Millisecond
)

// FrameSource is the camera surface the loop needs.
type FrameSource interface {
	GetFrame(timeout time.Duration) (gocv.Mat, bool)
	IsCameraLost() bool
	Pause()
	Resume()
	Stats() camera.Stats
}

// Detector runs phone inference on one frame.
type Detector interface {
	Detect(frame gocv.Mat, confThreshold float64) models.DetectionResult
}

// EventSink receives events for durable storage.
type EventSink interface {
	LogEvent(models.Event)
}

// Notifier delivers alerts, fire-and-forget.
type Notifier interface {
	NotifyAsync(notify.Alert)
}

// Exporter publishes telemetry. Optional; nil disables export.
type Exporter interface {
	SendHeartbeat(models.Heartbeat) error
	SendEvent(models.EventRecord) error
}

// Deps собирает все зависимости цикла наблюдения. Нулевые platform-поля
// заменяются заглушками.
type Deps struct {
	Config   *config.Holder
	Camera   FrameSource
	Detector Detector
	Recorder EventSink
	Notifier Notifier
	Exporter Exporter

	Locker     platform.ScreenLocker
	Probe      platform.WindowProbe
	Screenshot platform.Screenshotter
	Minimizer  platform.WindowMinimizer

	Username string
	Device   string
}

// Supervisor owns the per-run condition state. Not safe for concurrent
// use; Run is the single owner.
type Supervisor struct {
	cfg      *config.Holder
	camera   FrameSource
	detector Detector
	recorder EventSink
	notifier Notifier
	exporter Exporter

	locker    platform.ScreenLocker
	probe     platform.WindowProbe
	shot      platform.Screenshotter
	minimizer platform.WindowMinimizer

	username  string
	device    string
	sessionID string

	// Frame heuristics, replaceable in tests.
	isUniform  func(gocv.Mat) bool
	similar    func(a, b gocv.Mat) bool
	annotate   func(*gocv.Mat, models.Box, float64)
	encodeJPEG func(gocv.Mat) ([]byte, error)
	clone      func(gocv.Mat) gocv.Mat

	freezeLimit time.Duration

	// Condition state, owned by the loop.
	phoneStreak int
	uniform     bool
	frozen      bool
	lastFrame   gocv.Mat
	hasLast     bool
	lastChange  time.Time
}

// New builds a Supervisor with the production frame heuristics.
func New(d Deps) *Supervisor {
	s := &Supervisor{
		cfg:       d.Config,
		camera:    d.Camera,
		detector:  d.Detector,
		recorder:  d.Recorder,
		notifier:  d.Notifier,
		exporter:  d.Exporter,
		locker:    d.Locker,
		probe:     d.Probe,
		shot:      d.Screenshot,
		minimizer: d.Minimizer,
		username:  d.Username,
		device:    d.Device,
		sessionID: uuid.NewString(),

		isUniform:  vision.IsUniform,
		similar:    vision.Similar,
		annotate:   vision.Annotate,
		encodeJPEG: vision.EncodeJPEG,
		clone:      func(m gocv.Mat) gocv.Mat { return m.Clone() },

		freezeLimit: freezeWindow,
	}
	if s.locker == nil {
		s.locker = platform.Nop{}
	}
	if s.probe == nil {
		s.probe = platform.Nop{}
	}
	if s.shot == nil {
		s.shot = platform.Nop{}
	}
	if s.minimizer == nil {
		s.minimizer = platform.Nop{}
	}
	return s
}

// Run drives the loop until the context is cancelled or the camera is
// lost. Camera loss is terminal for the run: the device cannot be
// trusted after it dropped, so the agent reports and exits.
func (s *Supervisor) Run(ctx context.Context) {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	defer s.dropLastFrame()

	log.Printf("Supervisor: session %s watching device %q as %q", s.sessionID, s.device, s.username)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-heartbeat.C:
			s.sendHeartbeat()
		default:
		}

		started := time.Now()
		if !s.cycle(ctx) {
			return
		}
		s.sleepRemainder(ctx, started)
	}
}

// cycle runs one observation pass. Returns false when the run must end.
func (s *Supervisor) cycle(ctx context.Context) bool {
	// Locked screen: nothing to observe, nobody to catch.
	if s.locker.IsLocked() {
		s.camera.Pause()
		s.waitForUnlock(ctx)
		s.camera.Resume()
		s.resumeObservation()
		return true
	}

	if s.camera.IsCameraLost() {
		s.fire(models.KindCameraLost, models.SeverityCritical, nil, nil)
		log.Printf("Supervisor: camera lost, stopping the run")
		return false
	}

	frame, ok := s.camera.GetFrame(frameTimeout)
	if !ok {
		// Warmup or a slow read. Not an event by itself.
		return true
	}
	defer frame.Close()

	s.checkUniform(frame)
	if !s.uniform {
		s.checkFreeze(frame)
	}
	s.checkPhone(frame)
	return true
}

// checkUniform fires on the covered/uncovered edges.
func (s *Supervisor) checkUniform(frame gocv.Mat) {
	u := s.isUniform(frame)
	switch {
	case u && !s.uniform:
		s.uniform = true
		// A covered stretch says nothing about feed freshness.
		s.dropLastFrame()
		s.frozen = false
		s.fire(models.KindUniformImage, models.SeverityCritical, &frame, nil)
	case !u && s.uniform:
		s.uniform = false
		s.fire(models.KindAfterUniformImage, models.SeverityRecovery, &frame, nil)
	}
}

// checkFreeze compares against the last unique frame. The reference is
// only advanced when the picture actually moved, so a slow creep of
// near-identical frames still trips the limit.
func (s *Supervisor) checkFreeze(frame gocv.Mat) {
	if !s.hasLast {
		s.rememberFrame(frame)
		return
	}

	if s.similar(s.lastFrame, frame) {
		if !s.frozen && time.Since(s.lastChange) >= s.freezeLimit {
			s.frozen = true
			s.fire(models.KindStaticImage, models.SeverityCritical, &frame, nil)
		}
		return
	}

	s.rememberFrame(frame)
	if s.frozen {
		s.frozen = false
		s.fire(models.KindAfterStaticImage, models.SeverityRecovery, &frame, nil)
	}
}

// checkPhone runs inference and applies the debounce counter. At and
// above the limit the event fires every cycle: a phone that stays in
// view keeps producing evidence.
func (s *Supervisor) checkPhone(frame gocv.Mat) {
	cfg := s.cfg.Current()
	det := s.detector.Detect(frame, cfg.ConfidenceThreshold)
	if !det.Found {
		s.phoneStreak = 0
		return
	}
	s.phoneStreak++
	if s.phoneStreak >= cfg.PhoneLimit {
		s.fire(models.KindPhoneDetected, models.SeverityCritical, &frame, &det)
	}
}

// fire performs the configured reactions for one event: collect
// evidence, log, export, lock, notify. Each part is gated by the
// per-condition policy and degrades independently.
func (s *Supervisor) fire(kind models.EventKind, sev models.Severity, frame *gocv.Mat, det *models.DetectionResult) {
	cfg := s.cfg.Current()
	policy := cfg.Reactions.For(kind)

	ev := models.Event{
		Kind:      kind,
		Severity:  sev,
		Timestamp: time.Now(),
		Username:  s.username,
		Device:    s.device,
	}
	if det != nil {
		ev.Confidences = det.Confidences
	}

	if policy.Log || policy.Notify {
		ev.ActiveApps = s.probe.ActiveApps()
		ev.ScreenJPEG = s.shot.CaptureJPEG()
		if frame != nil {
			ev.FrameJPEG = s.frameEvidence(*frame, det)
		}
	}

	log.Printf("Supervisor: %s [%s]", kind.Description(), sev)

	if policy.Log {
		s.recorder.LogEvent(ev)
	}
	if s.exporter != nil {
		if err := s.exporter.SendEvent(s.eventRecord(ev)); err != nil {
			log.Printf("Supervisor: export event: %v", err)
		}
	}
	if policy.Lock {
		s.lockScreen()
	}
	if policy.Notify && cfg.NotificationsEnabled {
		s.notifier.NotifyAsync(alertFrom(ev, cfg.Telegram.ChatIDs))
	}
}

// frameEvidence encodes the frame, with the detection box drawn in
// when there is one.
func (s *Supervisor) frameEvidence(frame gocv.Mat, det *models.DetectionResult) []byte {
	shot := frame
	if det != nil && det.Found {
		annotated := s.clone(frame)
		defer annotated.Close()
		s.annotate(&annotated, det.Box, firstConfidence(det))
		shot = annotated
	}
	data, err := s.encodeJPEG(shot)
	if err != nil {
		log.Printf("Supervisor: encode frame evidence: %v", err)
		return nil
	}
	return data
}

func (s *Supervisor) lockScreen() {
	if err := s.minimizer.MinimizeAll(); err != nil {
		log.Printf("Supervisor: minimize windows: %v", err)
	}
	if err := s.locker.Lock(); err != nil {
		log.Printf("Supervisor: lock screen: %v", err)
		return
	}
	for i := 0; i < lockWaitAttempts; i++ {
		if s.locker.IsLocked() {
			return
		}
		time.Sleep(lockWaitInterval)
	}
	log.Printf("Supervisor: lock not confirmed after %v", lockWaitAttempts*lockWaitInterval)
}

func (s *Supervisor) waitForUnlock(ctx context.Context) {
	for s.locker.IsLocked() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(lockedPollInterval):
		}
	}
}

// resumeObservation restarts the debounce and the freeze clock after
// the session unlocks. Episode state survives the lock: a camera that
// stayed covered or frozen is the same episode, and its recovery must
// be emitted exactly once when the condition actually clears.
func (s *Supervisor) resumeObservation() {
	s.phoneStreak = 0
	if s.hasLast {
		// Time spent locked does not count against the freeze window.
		s.lastChange = time.Now()
	}
}

func (s *Supervisor) rememberFrame(frame gocv.Mat) {
	s.dropLastFrame()
	s.lastFrame = s.clone(frame)
	s.hasLast = true
	s.lastChange = time.Now()
}

func (s *Supervisor) dropLastFrame() {
	if s.hasLast {
		s.lastFrame.Close()
		s.hasLast = false
	}
}

// shutdown records the termination attempt with best-effort evidence.
func (s *Supervisor) shutdown() {
	log.Printf("Supervisor: termination requested")
	if frame, ok := s.camera.GetFrame(shutdownTimeout); ok {
		defer frame.Close()
		s.fire(models.KindAttemptToClose, models.SeverityWarning, &frame, nil)
		return
	}
	s.fire(models.KindAttemptToClose, models.SeverityWarning, nil, nil)
}

func (s *Supervisor) sendHeartbeat() {
	if s.exporter == nil {
		return
	}
	st := s.camera.Stats()
	hb := models.Heartbeat{
		SessionID:  s.sessionID,
		Device:     s.device,
		Username:   s.username,
		FrameCount: st.FramesRead,
		TimeStamp:  time.Now(),
	}
	if err := s.exporter.SendHeartbeat(hb); err != nil {
		log.Printf("Supervisor: heartbeat: %v", err)
	}
}

func (s *Supervisor) eventRecord(ev models.Event) models.EventRecord {
	return models.EventRecord{
		SessionID:   s.sessionID,
		Device:      ev.Device,
		Username:    ev.Username,
		Kind:        ev.Kind,
		Severity:    ev.Severity,
		Confidences: ev.Confidences,
		ActiveApps:  ev.ActiveApps,
		TimeStamp:   ev.Timestamp,
	}
}

func (s *Supervisor) sleepRemainder(ctx context.Context, started time.Time) {
	rest := s.cfg.Current().FramePeriod() - time.Since(started)
	if rest <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(rest):
	}
}

func firstConfidence(det *models.DetectionResult) float64 {
	if len(det.Confidences) == 0 {
		return 0
	}
	return det.Confidences[0]
}

func alertFrom(ev models.Event, recipients []int64) notify.Alert {
	var extra map[string]string
	if len(ev.Confidences) > 0 {
		extra = map[string]string{"confidence": fmt.Sprintf("%.2f", ev.Confidences[0])}
	}
	var images [][]byte
	if len(ev.FrameJPEG) > 0 {
		images = append(images, ev.FrameJPEG)
	}
	if len(ev.ScreenJPEG) > 0 {
		images = append(images, ev.ScreenJPEG)
	}
	return notify.Alert{
		Recipients: recipients,
		Severity:   ev.Severity,
		Message:    ev.Kind.Description(),
		Username:   ev.Username,
		Device:     ev.Device,
		Images:     images,
		Timestamp:  ev.Timestamp,
		Extra:      extra,
	}
}
