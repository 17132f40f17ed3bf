// Package notify pushes alerts to a remote bot messaging endpoint.
// Delivery is fire-and-forget on a small worker pool: a dead network
// must never stall the control loop, and one unreachable recipient
// must not cost the others their alert.
package notify

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/start-point/phone-sentry/internal/models"
)

const (
	poolSize      = 2
	queueCapacity = 32

	closeJoinTimeout = 5 * time.Second
)

// Alert is one outbound notification: text plus optional images, sent
// to every recipient.
type Alert struct {
	Recipients []int64
	Severity   models.Severity
	Message    string
	Username   string
	Device     string
	Images     [][]byte
	Timestamp  time.Time
	Extra      map[string]string
}

// Dispatcher fans alerts out on a fixed pool of workers.
type Dispatcher struct {
	client *TelegramClient
	jobs   chan Alert
	done   chan struct{}

	// mu orders submissions against Close: a submission holds the read
	// side, so the jobs channel is only closed when no send is in
	// flight.
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the worker pool.
func NewDispatcher(client *TelegramClient) *Dispatcher {
	d := &Dispatcher{
		client: client,
		jobs:   make(chan Alert, queueCapacity),
		done:   make(chan struct{}, poolSize),
	}
	for i := 0; i < poolSize; i++ {
		go d.worker()
	}
	return d
}

// NotifyAsync submits an alert and returns immediately. When the pool
// is saturated or the dispatcher is closed the alert is dropped and
// logged; notification is best-effort by contract.
func (d *Dispatcher) NotifyAsync(alert Alert) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		log.Printf("Notify: dispatcher closed, dropping %s alert", alert.Severity)
		return
	}
	select {
	case d.jobs <- alert:
	default:
		log.Printf("Notify: queue full, dropping %s alert", alert.Severity)
	}
}

// Close stops accepting alerts and drains the ones already queued.
// Idempotent; NotifyAsync calls racing with or arriving after Close
// drop their alert instead of panicking on a closed channel.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.jobs)
	for i := 0; i < poolSize; i++ {
		select {
		case <-d.done:
		case <-time.After(closeJoinTimeout):
			log.Printf("Notify: worker did not stop within %v", closeJoinTimeout)
			return
		}
	}
}

func (d *Dispatcher) worker() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Notify: worker panic recovered: %v", r)
		}
		d.done <- struct{}{}
	}()

	for alert := range d.jobs {
		d.deliver(alert)
	}
}

// deliver sends the alert text and then each image to every recipient.
// Failures are logged per call and never abort the remaining sends.
func (d *Dispatcher) deliver(alert Alert) {
	text := formatAlert(alert)

	for _, chatID := range alert.Recipients {
		if err := d.client.SendMessage(chatID, text); err != nil {
			log.Printf("Notify: %v", err)
		}
	}

	for _, img := range alert.Images {
		if len(img) == 0 {
			continue
		}
		for _, chatID := range alert.Recipients {
			if err := d.client.SendPhoto(chatID, img); err != nil {
				log.Printf("Notify: %v", err)
			}
		}
	}
}

func severityTag(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "🛑"
	case models.SeverityWarning:
		return "⚠️"
	case models.SeverityRecovery:
		return "✅"
	default:
		return "ℹ️"
	}
}

func formatAlert(alert Alert) string {
	var dataLines []string
	for k, v := range alert.Extra {
		dataLines = append(dataLines, fmt.Sprintf("%s: %s", k, v))
	}
	sort.Strings(dataLines)

	return fmt.Sprintf(
		"%s *%s*\n*Device*: %s\n*User:* %s\n*Description:* %s\n*Time:* %s\n*Data:*\n%s",
		severityTag(alert.Severity),
		alert.Severity,
		EscapeMarkdown(alert.Device),
		EscapeMarkdown(alert.Username),
		EscapeMarkdown(alert.Message),
		EscapeMarkdown(alert.Timestamp.Format(models.TimestampLayout)),
		EscapeMarkdown(strings.Join(dataLines, "\n")),
	)
}
