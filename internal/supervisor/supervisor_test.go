package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/start-point/phone-sentry/internal/camera"
	"github.com/start-point/phone-sentry/internal/config"
	"github.com/start-point/phone-sentry/internal/models"
	"github.com/start-point/phone-sentry/internal/notify"
)

type fakeCamera struct {
	lost    bool
	noFrame bool
	pauses  int
	resumes int
	frames  uint64
}

func (c *fakeCamera) GetFrame(time.Duration) (gocv.Mat, bool) {
	if c.noFrame || c.lost {
		return gocv.Mat{}, false
	}
	c.frames++
	return gocv.Mat{}, true
}
func (c *fakeCamera) IsCameraLost() bool { return c.lost }
func (c *fakeCamera) Pause()             { c.pauses++ }
func (c *fakeCamera) Resume()            { c.resumes++ }
func (c *fakeCamera) Stats() camera.Stats {
	return camera.Stats{FramesRead: c.frames}
}

// fakeDetector returns scripted results and keeps answering the last
// one after the script runs out.
type fakeDetector struct {
	script []bool
	calls  int
}

func (d *fakeDetector) Detect(gocv.Mat, float64) models.DetectionResult {
	found := false
	if len(d.script) > 0 {
		i := d.calls
		if i >= len(d.script) {
			i = len(d.script) - 1
		}
		found = d.script[i]
	}
	d.calls++
	if !found {
		return models.DetectionResult{}
	}
	return models.DetectionResult{
		Found:       true,
		Box:         models.Box{X1: 10, Y1: 10, X2: 50, Y2: 50},
		Confidences: []float64{0.91},
	}
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *fakeRecorder) LogEvent(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *fakeRecorder) byKind(kind models.EventKind) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (n *fakeNotifier) NotifyAsync(a notify.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
}

type fakeLocker struct {
	mu       sync.Mutex
	locked   bool
	lockReqs int
}

func (l *fakeLocker) Lock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lockReqs++
	l.locked = true
	return nil
}

func (l *fakeLocker) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

func (l *fakeLocker) setLocked(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = v
}

func (l *fakeLocker) lockRequests() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lockReqs
}

func testConfig(mut func(*config.Config)) *config.Holder {
	cfg := config.Default()
	cfg.FPS = 1000
	cfg.Reactions = config.Reactions{
		PhoneDetected:  config.ReactionPolicy{Log: true},
		CameraLost:     config.ReactionPolicy{Log: true},
		UniformImage:   config.ReactionPolicy{Log: true},
		StaticImage:    config.ReactionPolicy{Log: true},
		AttemptToClose: config.ReactionPolicy{Log: true},
	}
	if mut != nil {
		mut(cfg)
	}
	return config.NewHolder(cfg)
}

type harness struct {
	sup      *Supervisor
	cam      *fakeCamera
	det      *fakeDetector
	rec      *fakeRecorder
	notifier *fakeNotifier
	locker   *fakeLocker
}

func newHarness(holder *config.Holder) *harness {
	h := &harness{
		cam:      &fakeCamera{},
		det:      &fakeDetector{},
		rec:      &fakeRecorder{},
		notifier: &fakeNotifier{},
		locker:   &fakeLocker{},
	}
	h.sup = New(Deps{
		Config:   holder,
		Camera:   h.cam,
		Detector: h.det,
		Recorder: h.rec,
		Notifier: h.notifier,
		Locker:   h.locker,
		Username: "operator",
		Device:   "WS-042",
	})
	// Frame heuristics are scripted per test; the defaults need real
	// image data.
	h.sup.isUniform = func(gocv.Mat) bool { return false }
	h.sup.similar = func(a, b gocv.Mat) bool { return false }
	h.sup.annotate = func(*gocv.Mat, models.Box, float64) {}
	h.sup.encodeJPEG = func(gocv.Mat) ([]byte, error) { return []byte("jpeg"), nil }
	h.sup.clone = func(m gocv.Mat) gocv.Mat { return m }
	return h
}

func (h *harness) runCycles(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if !h.sup.cycle(context.Background()) {
			t.Fatalf("cycle %d ended the run unexpectedly", i+1)
		}
	}
}

func TestPhoneDebounceFiresAtLimitAndResets(t *testing.T) {
	h := newHarness(testConfig(func(c *config.Config) { c.PhoneLimit = 3 }))
	// Streaks: 1, 2, reset, 1, 2, 3, 4.
	h.det.script = []bool{true, true, false, true, true, true, true}
	h.runCycles(t, 7)

	events := h.rec.byKind(models.KindPhoneDetected)
	if len(events) != 2 {
		t.Fatalf("got %d phone events, want 2 (cycles 6 and 7)", len(events))
	}
	for _, ev := range events {
		if ev.Severity != models.SeverityCritical {
			t.Errorf("phone event severity = %s", ev.Severity)
		}
		if len(ev.Confidences) != 1 || ev.Confidences[0] != 0.91 {
			t.Errorf("phone event confidences = %v", ev.Confidences)
		}
		if len(ev.FrameJPEG) == 0 {
			t.Error("phone event has no frame evidence")
		}
	}
}

func TestUniformEpisodeFiresOnceWithSingleRecovery(t *testing.T) {
	h := newHarness(testConfig(nil))
	uniform := []bool{false, true, true, true, false, false}
	i := 0
	h.sup.isUniform = func(gocv.Mat) bool { u := uniform[i]; i++; return u }
	h.runCycles(t, len(uniform))

	if got := h.rec.byKind(models.KindUniformImage); len(got) != 1 {
		t.Errorf("got %d uniform events, want 1", len(got))
	}
	if got := h.rec.byKind(models.KindAfterUniformImage); len(got) != 1 {
		t.Errorf("got %d recovery events, want 1", len(got))
	} else if got[0].Severity != models.SeverityRecovery {
		t.Errorf("recovery severity = %s", got[0].Severity)
	}
}

func TestFreezeFiresAfterWindowWithSingleRecovery(t *testing.T) {
	h := newHarness(testConfig(nil))
	h.sup.freezeLimit = 40 * time.Millisecond

	frozen := true
	h.sup.similar = func(a, b gocv.Mat) bool { return frozen }

	h.runCycles(t, 2) // remember reference, then one similar read inside the window
	if got := h.rec.byKind(models.KindStaticImage); len(got) != 0 {
		t.Fatalf("freeze fired inside the window: %d events", len(got))
	}

	time.Sleep(60 * time.Millisecond)
	h.runCycles(t, 3) // past the window: fire once, stay silent after

	if got := h.rec.byKind(models.KindStaticImage); len(got) != 1 {
		t.Fatalf("got %d freeze events, want 1", len(got))
	}

	frozen = false
	h.runCycles(t, 2)
	if got := h.rec.byKind(models.KindAfterStaticImage); len(got) != 1 {
		t.Errorf("got %d freeze recoveries, want 1", len(got))
	}
}

func TestUniformFrameSuppressesFreezeCheck(t *testing.T) {
	h := newHarness(testConfig(nil))
	h.sup.freezeLimit = 10 * time.Millisecond
	h.sup.isUniform = func(gocv.Mat) bool { return true }
	h.sup.similar = func(a, b gocv.Mat) bool {
		t.Error("similarity checked on a uniform frame")
		return true
	}

	h.runCycles(t, 2)
	time.Sleep(20 * time.Millisecond)
	h.runCycles(t, 2)

	if got := h.rec.byKind(models.KindStaticImage); len(got) != 0 {
		t.Errorf("freeze fired while the camera was covered: %d events", len(got))
	}
}

func TestCameraLostEndsTheRun(t *testing.T) {
	h := newHarness(testConfig(nil))
	h.cam.lost = true

	done := make(chan struct{})
	go func() {
		h.sup.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after camera loss")
	}

	events := h.rec.byKind(models.KindCameraLost)
	if len(events) != 1 {
		t.Fatalf("got %d camera_lost events, want 1", len(events))
	}
	if events[0].Severity != models.SeverityCritical {
		t.Errorf("camera_lost severity = %s", events[0].Severity)
	}
}

func TestLockedScreenPausesCameraAndKeepsEpisode(t *testing.T) {
	h := newHarness(testConfig(nil))
	covered := true
	h.sup.isUniform = func(gocv.Mat) bool { return covered }

	// The camera gets covered, one CRITICAL fires.
	h.runCycles(t, 2)
	if got := h.rec.byKind(models.KindUniformImage); len(got) != 1 {
		t.Fatalf("got %d uniform events before the lock, want 1", len(got))
	}

	// The screen locks mid-episode; the operator unlocks shortly after.
	h.locker.setLocked(true)
	h.sup.phoneStreak = 2
	time.AfterFunc(50*time.Millisecond, func() { h.locker.setLocked(false) })
	h.runCycles(t, 1)

	if h.cam.pauses != 1 || h.cam.resumes != 1 {
		t.Errorf("pause/resume = %d/%d, want 1/1", h.cam.pauses, h.cam.resumes)
	}
	if h.sup.phoneStreak != 0 {
		t.Error("phone debounce not restarted after unlock")
	}

	// Still covered: same episode, no second CRITICAL.
	h.runCycles(t, 2)
	if got := h.rec.byKind(models.KindUniformImage); len(got) != 1 {
		t.Fatalf("got %d uniform events after unlock, want still 1", len(got))
	}

	// Uncovered: exactly one RECOVERY closes the episode.
	covered = false
	h.runCycles(t, 2)
	if got := h.rec.byKind(models.KindAfterUniformImage); len(got) != 1 {
		t.Errorf("got %d recovery events, want 1", len(got))
	}
}

func TestRecoveryEventNeverLocks(t *testing.T) {
	h := newHarness(testConfig(func(c *config.Config) {
		c.Reactions.UniformImage = config.ReactionPolicy{Log: true, Lock: true}
	}))
	covered := true
	h.sup.isUniform = func(gocv.Mat) bool { return covered }

	h.runCycles(t, 1)
	if got := h.locker.lockRequests(); got != 1 {
		t.Fatalf("lock requests after CRITICAL = %d, want 1", got)
	}

	// Operator unlocks, the camera is uncovered on the next frame.
	h.locker.setLocked(false)
	covered = false
	h.runCycles(t, 1)

	if got := h.rec.byKind(models.KindAfterUniformImage); len(got) != 1 {
		t.Fatalf("got %d recovery events, want 1", len(got))
	}
	if got := h.locker.lockRequests(); got != 1 {
		t.Errorf("lock requests after RECOVERY = %d, recovery must not re-lock", got)
	}
}

func TestShutdownRecordsAttemptToClose(t *testing.T) {
	h := newHarness(testConfig(nil))
	h.cam.noFrame = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		h.sup.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit on cancellation")
	}

	events := h.rec.byKind(models.KindAttemptToClose)
	if len(events) != 1 {
		t.Fatalf("got %d attempt_to_close events, want 1", len(events))
	}
	if events[0].Severity != models.SeverityWarning {
		t.Errorf("attempt_to_close severity = %s", events[0].Severity)
	}
}

func TestReactionsGateLockAndNotify(t *testing.T) {
	h := newHarness(testConfig(func(c *config.Config) {
		c.PhoneLimit = 1
		c.NotificationsEnabled = true
		c.Telegram.ChatIDs = []int64{7}
		c.Reactions.PhoneDetected = config.ReactionPolicy{Log: true, Lock: true, Notify: true}
	}))
	h.det.script = []bool{true}
	h.runCycles(t, 1)

	if got := h.locker.lockRequests(); got != 1 {
		t.Errorf("lock requests = %d, want 1", got)
	}
	if len(h.notifier.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(h.notifier.alerts))
	}
	a := h.notifier.alerts[0]
	if len(a.Recipients) != 1 || a.Recipients[0] != 7 {
		t.Errorf("alert recipients = %v", a.Recipients)
	}
	if a.Severity != models.SeverityCritical || a.Message == "" {
		t.Errorf("alert = %+v", a)
	}
}

func TestNotifyMasterSwitchOverridesPolicy(t *testing.T) {
	h := newHarness(testConfig(func(c *config.Config) {
		c.PhoneLimit = 1
		c.NotificationsEnabled = false
		c.Reactions.PhoneDetected = config.ReactionPolicy{Log: true, Notify: true}
	}))
	h.det.script = []bool{true}
	h.runCycles(t, 1)

	if len(h.notifier.alerts) != 0 {
		t.Errorf("alerts sent with notifications disabled: %d", len(h.notifier.alerts))
	}
	if got := h.rec.byKind(models.KindPhoneDetected); len(got) != 1 {
		t.Errorf("logging should be unaffected, got %d events", len(got))
	}
}
