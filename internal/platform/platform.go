// Package platform isolates the desktop-session side effects of the
// agent. The control loop only sees these interfaces; tests substitute
// fakes and the binary wires in the exec-based implementation.
package platform

import (
	"github.com/start-point/phone-sentry/internal/models"
)

// ScreenLocker управляет блокировкой сессии пользователя.
type ScreenLocker interface {
	// Lock requests a session lock. Returns an error when the request
	// could not be issued; actual locking is confirmed via IsLocked.
	Lock() error
	// IsLocked reports whether the session is currently locked.
	IsLocked() bool
}

// WindowProbe reports the windows open at the moment of an event.
type WindowProbe interface {
	ActiveApps() []models.ActiveApp
}

// Screenshotter captures the desktop as a JPEG. A nil or empty result
// means no screenshot evidence for this event.
type Screenshotter interface {
	CaptureJPEG() []byte
}

// WindowMinimizer hides open windows before the screen is locked so
// the evidence screenshot shows the desktop state, not the agent.
type WindowMinimizer interface {
	MinimizeAll() error
}

// Nop satisfies every platform interface and does nothing. Used when a
// desktop session is unavailable (headless runs, tests).
type Nop struct{}

func (Nop) Lock() error                    { return nil }
func (Nop) IsLocked() bool                 { return false }
func (Nop) ActiveApps() []models.ActiveApp { return nil }
func (Nop) CaptureJPEG() []byte            { return nil }
func (Nop) MinimizeAll() error             { return nil }
