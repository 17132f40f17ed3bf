package platform

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/start-point/phone-sentry/internal/models"
)

// Desktop is the exec-based implementation for a Linux session with
// systemd-logind and an X11 toolset available. Every call is
// best-effort: a missing tool degrades to a no-op.
type Desktop struct {
	sessionID string
}

// NewDesktop resolves the caller's logind session once at startup.
func NewDesktop() *Desktop {
	d := &Desktop{sessionID: os.Getenv("XDG_SESSION_ID")}
	if d.sessionID == "" {
		d.sessionID = "auto"
	}
	return d
}

func (d *Desktop) Lock() error {
	out, err := exec.Command("loginctl", "lock-session", d.sessionID).CombinedOutput()
	if err != nil {
		return fmt.Errorf("loginctl lock-session: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

func (d *Desktop) IsLocked() bool {
	out, err := exec.Command("loginctl", "show-session", d.sessionID, "-p", "LockedHint", "--value").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "yes"
}

// ActiveApps returns the foreground window plus the rest of the open
// window list. Titles come from wmctrl, the foreground one from xdotool.
func (d *Desktop) ActiveApps() []models.ActiveApp {
	var apps []models.ActiveApp

	if fg := d.foregroundApp(); fg != nil {
		apps = append(apps, *fg)
	}

	out, err := exec.Command("wmctrl", "-lp").Output()
	if err != nil {
		return apps
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		// <window id> <desktop> <pid> <host> <title...>
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		pid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		title := strings.Join(fields[4:], " ")
		if len(apps) > 0 && apps[0].Foreground && apps[0].Title == title {
			continue
		}
		apps = append(apps, models.ActiveApp{
			Process: processName(pid),
			Title:   title,
		})
	}
	return apps
}

func (d *Desktop) foregroundApp() *models.ActiveApp {
	title, err := exec.Command("xdotool", "getactivewindow", "getwindowname").Output()
	if err != nil {
		return nil
	}
	app := models.ActiveApp{
		Title:      strings.TrimSpace(string(title)),
		Foreground: true,
	}
	if pidOut, err := exec.Command("xdotool", "getactivewindow", "getwindowpid").Output(); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(pidOut))); err == nil {
			app.Process = processName(pid)
		}
	}
	return &app
}

func processName(pid int) string {
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(comm))
}

// CaptureJPEG snapshots the root window via ImageMagick.
func (d *Desktop) CaptureJPEG() []byte {
	out, err := exec.Command("import", "-silent", "-window", "root", "jpeg:-").Output()
	if err != nil {
		log.Printf("Platform: screenshot failed: %v", err)
		return nil
	}
	return out
}

// MinimizeAll switches to the "show desktop" mode.
func (d *Desktop) MinimizeAll() error {
	out, err := exec.Command("wmctrl", "-k", "on").CombinedOutput()
	if err != nil {
		return fmt.Errorf("wmctrl -k on: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}
