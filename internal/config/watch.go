package config

import (
	"context"
	"log"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Holder hands out the current configuration to the supervisor loop.
// The settings editor rewrites the file while the agent runs; the
// watcher swaps the pointer and running cycles pick it up on the next
// policy read.
type Holder struct {
	cur atomic.Pointer[Config]
}

func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.cur.Store(cfg)
	return h
}

// Current returns the active configuration. Never nil.
func (h *Holder) Current() *Config { return h.cur.Load() }

// Watch re-reads path on every write event until ctx is cancelled.
// Reload failures keep the previous configuration.
func (h *Holder) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Editors replace the file rather than write in place, so the
	// directory is watched, not the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	target, _ := filepath.Abs(path)

	go func() {
		defer watcher.Close()

		// Coalesce bursts of events from a single save.
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				abs, _ := filepath.Abs(ev.Name)
				if abs != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(200 * time.Millisecond)
			case <-pending:
				pending = nil
				cfg, err := Load(path)
				if err != nil {
					log.Printf("Config: reload failed, keeping previous: %v", err)
					continue
				}
				h.cur.Store(cfg)
				log.Printf("Config: reloaded from %s", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Config: watch error: %v", err)
			}
		}
	}()

	return nil
}
