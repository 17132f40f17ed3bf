// Package recorder persists event records and their evidence images
// without blocking the control loop. Images are written synchronously
// so referenced paths exist before the row does; the row insert runs
// on a single writer goroutine fed by a bounded queue.
package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/start-point/phone-sentry/internal/config"
	"github.com/start-point/phone-sentry/internal/models"
)

const (
	// defaultQueueCapacity bounds pending durable-write tasks.
	defaultQueueCapacity = 100

	closeJoinTimeout = 2 * time.Second

	dbFileName = "detection_log.db"
	imagesDir  = "logs"
)

// Uploader mirrors evidence images to remote storage. Optional.
type Uploader interface {
	Upload(ctx context.Context, objectName string, jpeg []byte) error
}

type task struct {
	ev         models.Event
	framePath  string
	screenPath string
}

// Recorder is the asynchronous event logger.
type Recorder struct {
	root     string
	db       *sql.DB
	queue    chan task
	stop     chan struct{}
	done     chan struct{}
	uploader Uploader
}

// New opens (or creates) the log store under root and starts the
// writer goroutine.
func New(root string) (*Recorder, error) {
	r, err := open(root, defaultQueueCapacity)
	if err != nil {
		return nil, err
	}
	go r.workerLoop()
	return r, nil
}

// open builds a Recorder without starting the worker. Split out so
// tests can exercise the queue against a stalled consumer.
func open(root string, capacity int) (*Recorder, error) {
	dir := filepath.Join(root, imagesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}

	db, err := openStore(filepath.Join(dir, dbFileName))
	if err != nil {
		return nil, err
	}

	return &Recorder{
		root:  root,
		db:    db,
		queue: make(chan task, capacity),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}, nil
}

// SetUploader enables the evidence mirror. Must be called before the
// first event.
func (r *Recorder) SetUploader(u Uploader) { r.uploader = u }

// LogEvent persists one event, best-effort and non-blocking: evidence
// images are written to disk now, the row insert is queued. A full
// queue drops the event and removes the files it just wrote — the
// store never references images that were not accounted for.
func (r *Recorder) LogEvent(ev models.Event) {
	ts := ev.Timestamp.Format(models.FileTimestampLayout)
	slug := ev.Kind.Slug()

	framePath := r.writeImage(fmt.Sprintf("%s/%s_%s.jpg", imagesDir, ts, slug), ev.FrameJPEG)
	screenPath := r.writeImage(fmt.Sprintf("%s/%s_%s_screen.jpg", imagesDir, ts, slug), ev.ScreenJPEG)

	t := task{ev: ev, framePath: framePath, screenPath: screenPath}
	select {
	case r.queue <- t:
	default:
		log.Printf("Recorder: queue full, dropping %s event", ev.Kind)
		r.removeImages(t)
	}
}

// writeImage stores one JPEG under root and returns its relative path,
// or "" when there is nothing to write or the write failed.
func (r *Recorder) writeImage(relPath string, jpeg []byte) string {
	if len(jpeg) == 0 {
		return ""
	}
	abs := filepath.Join(r.root, filepath.FromSlash(relPath))
	if err := os.WriteFile(abs, jpeg, 0o644); err != nil {
		log.Printf("Recorder: write image %s: %v", abs, err)
		return ""
	}
	return relPath
}

func (r *Recorder) removeImages(t task) {
	for _, rel := range []string{t.framePath, t.screenPath} {
		if rel == "" {
			continue
		}
		abs := filepath.Join(r.root, filepath.FromSlash(rel))
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			log.Printf("Recorder: remove dropped image %s: %v", abs, err)
		}
	}
}

func (r *Recorder) workerLoop() {
	defer close(r.done)

	for {
		select {
		case <-r.stop:
			return
		case t := <-r.queue:
			r.process(t)
		}
	}
}

func (r *Recorder) process(t task) {
	rec := models.LogRecord{
		Timestamp:  t.ev.Timestamp.Format(models.TimestampLayout),
		Event:      t.ev.Kind,
		FramePath:  t.framePath,
		ScreenPath: t.screenPath,
		Confidence: marshalJSON(t.ev.Confidences),
		ActiveApps: marshalJSON(t.ev.ActiveApps),
		Username:   t.ev.Username,
		Device:     t.ev.Device,
	}

	if err := r.insert(rec); err != nil {
		// Storage failure drops the event, the loop goes on.
		log.Printf("Recorder: insert %s event: %v", t.ev.Kind, err)
		return
	}

	if r.uploader != nil {
		r.mirror(t)
	}
}

// mirror pushes the evidence images to remote storage, fire-and-forget.
func (r *Recorder) mirror(t task) {
	type img struct {
		path string
		data []byte
	}
	for _, im := range []img{{t.framePath, t.ev.FrameJPEG}, {t.screenPath, t.ev.ScreenJPEG}} {
		if im.path == "" || len(im.data) == 0 {
			continue
		}
		go func(im img) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := r.uploader.Upload(ctx, filepath.Base(im.path), im.data); err != nil {
				log.Printf("Recorder: mirror %s: %v", im.path, err)
			}
		}(im)
	}
}

func marshalJSON(v any) string {
	switch vv := v.(type) {
	case []float64:
		if len(vv) == 0 {
			return ""
		}
	case []models.ActiveApp:
		if len(vv) == 0 {
			return ""
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// CleanOldLogs deletes rows older than the retention window together
// with their image files.
func (r *Recorder) CleanOldLogs(retention config.Retention) error {
	window, ok := retention.Window()
	if !ok {
		return nil
	}
	cutoff := time.Now().Add(-window).Format(models.TimestampLayout)

	paths, err := r.imagePathsBefore(cutoff)
	if err != nil {
		return fmt.Errorf("list old log images: %w", err)
	}
	for _, rel := range paths {
		abs := filepath.Join(r.root, filepath.FromSlash(rel))
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			log.Printf("Recorder: remove old image %s: %v", abs, err)
		}
	}

	if _, err := r.db.Exec(`DELETE FROM logs WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("delete old logs: %w", err)
	}
	return nil
}

// Close stops the writer with a bounded wait and releases the store.
func (r *Recorder) Close() error {
	close(r.stop)
	select {
	case <-r.done:
	case <-time.After(closeJoinTimeout):
		log.Printf("Recorder: worker did not stop within %v", closeJoinTimeout)
	}
	return r.db.Close()
}
