package models

import "time"

// EventKind идентифицирует отслеживаемое условие или его завершение.
type EventKind string

const (
	KindPhoneDetected  EventKind = "phone_detected"
	KindCameraLost     EventKind = "camera_lost"
	KindUniformImage   EventKind = "uniform_image"
	KindStaticImage    EventKind = "static_img"
	KindAttemptToClose EventKind = "attempt_to_close"

	// Recovery counterparts. Camera loss has a recovery kind for
	// completeness of the schema but the supervisor never emits it:
	// loss of the camera ends the run.
	KindAfterUniformImage  EventKind = "after_uniform_image"
	KindAfterStaticImage   EventKind = "after_static_img"
	KindRecoveryCameraLost EventKind = "recovery_camera_lost"
)

// Slug returns the identifier used in image file names and the log table.
func (k EventKind) Slug() string { return string(k) }

// Condition returns the triggering kind a recovery kind belongs to.
// For non-recovery kinds it returns the kind itself.
func (k EventKind) Condition() EventKind {
	switch k {
	case KindAfterUniformImage:
		return KindUniformImage
	case KindAfterStaticImage:
		return KindStaticImage
	case KindRecoveryCameraLost:
		return KindCameraLost
	default:
		return k
	}
}

// Description is the human-readable event label stored in the log
// and sent in notifications.
func (k EventKind) Description() string {
	switch k {
	case KindPhoneDetected:
		return "Mobile phone in view"
	case KindCameraLost:
		return "Camera connection lost"
	case KindUniformImage:
		return "Uniform image (camera covered)"
	case KindStaticImage:
		return "Frozen video feed"
	case KindAttemptToClose:
		return "Attempt to close the agent"
	case KindAfterUniformImage:
		return "Uniform image cleared"
	case KindAfterStaticImage:
		return "Video feed unfroze"
	case KindRecoveryCameraLost:
		return "Camera connection restored"
	default:
		return string(k)
	}
}

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityRecovery Severity = "RECOVERY"
)

// ActiveApp описывает одно окно переднего плана на момент события.
type ActiveApp struct {
	Process    string `json:"process"`
	Title      string `json:"title"`
	Foreground bool   `json:"foreground"`
}

// DetectionResult is the outcome of one inference call.
// Confidences are ordered highest first; Box is only valid when Found.
type DetectionResult struct {
	Found       bool
	Box         Box
	Confidences []float64
}

// Box is a detection rectangle in original frame coordinates.
type Box struct {
	X1, Y1, X2, Y2 int
}

// Event is created by the supervisor at the moment of a trigger and is
// immutable afterwards. Images are already JPEG-encoded so consumers
// never touch the frame buffer.
type Event struct {
	Kind        EventKind
	Severity    Severity
	Timestamp   time.Time
	FrameJPEG   []byte
	ScreenJPEG  []byte
	Confidences []float64
	ActiveApps  []ActiveApp
	Username    string
	Device      string
	Extra       map[string]string
}

// LogRecord is the durable row derived from an Event.
type LogRecord struct {
	ID         int64
	Timestamp  string
	Event      EventKind
	FramePath  string
	ScreenPath string
	Confidence string
	ActiveApps string
	Username   string
	Device     string
}

// Heartbeat периодически публикуется в шину телеметрии, если она настроена.
type Heartbeat struct {
	SessionID  string    `json:"session_id"`
	Device     string    `json:"device"`
	Username   string    `json:"username"`
	FrameCount uint64    `json:"frame_count"`
	TimeStamp  time.Time `json:"timestamp"`
}

// EventRecord is the wire form of an Event for the telemetry bus.
type EventRecord struct {
	SessionID   string      `json:"session_id"`
	Device      string      `json:"device"`
	Username    string      `json:"username"`
	Kind        EventKind   `json:"kind"`
	Severity    Severity    `json:"severity"`
	Confidences []float64   `json:"confidences,omitempty"`
	ActiveApps  []ActiveApp `json:"active_apps,omitempty"`
	TimeStamp   time.Time   `json:"timestamp"`
}

// TimestampLayout is the format used in the log table and file names.
const TimestampLayout = "2006-01-02 15:04:05"

// FileTimestampLayout keeps file names free of spaces and colons.
const FileTimestampLayout = "2006-01-02_15-04-05"
