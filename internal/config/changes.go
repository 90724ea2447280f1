package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// ChangeDetector reports whether the configuration document was edited since
// it was last observed. Changed must not move the baseline: a reload that
// fails keeps reporting the change until Observe is called.
type ChangeDetector interface {
	Changed() bool
	Observe()
}

// PollDetector compares the document's modification time on every call.
type PollDetector struct {
	path string
	log  logr.Logger
	stat func(string) (fs.FileInfo, error)

	// zero while the document is missing or was never observed
	modTime time.Time
}

// NewPollDetector returns a detector for the document at path that has not observed it yet.
func NewPollDetector(path string, log logr.Logger) *PollDetector {
	return &PollDetector{path: path, log: log, stat: os.Stat}
}

// Changed reports whether the modification time differs from the observed one.
func (d *PollDetector) Changed() bool {
	info, err := d.stat(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if !d.modTime.IsZero() {
				d.log.Info("configuration file is no longer accessible or has been deleted, using last known configuration",
					"reason", "missing", "path", d.path)
			}
			d.modTime = time.Time{}
			return false
		}
		// Unreadable metadata counts as unchanged; the next cycle stats again.
		d.log.V(1).Info("could not stat configuration file", "path", d.path, "error", err.Error())
		return false
	}
	return !info.ModTime().Equal(d.modTime)
}

// Observe records the current modification time as the baseline.
func (d *PollDetector) Observe() {
	info, err := d.stat(d.path)
	if err != nil {
		d.modTime = time.Time{}
		return
	}
	d.modTime = info.ModTime()
}

// WatchDetector subscribes to filesystem events on the document's directory.
// The directory is watched rather than the file so that editors replacing the
// file and the file reappearing after deletion are both seen.
type WatchDetector struct {
	path    string
	log     logr.Logger
	watcher *fsnotify.Watcher
	dirty   atomic.Bool
	done    chan struct{}

	// events that arrive after Observe for an already observed write are dropped
	modTime time.Time
}

// NewWatchDetector starts watching the directory that holds path. Close releases the watcher.
func NewWatchDetector(path string, log logr.Logger) (*WatchDetector, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	d := &WatchDetector{
		path:    filepath.Clean(path),
		log:     log,
		watcher: w,
		done:    make(chan struct{}),
	}
	go d.run()
	return d, nil
}

func (d *WatchDetector) run() {
	defer close(d.done)
	for {
		select {
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != d.path || ev.Op == fsnotify.Chmod {
				continue
			}
			d.log.V(1).Info("configuration file event", "path", ev.Name, "op", ev.Op.String())
			d.dirty.Store(true)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log.Error(err, "file watcher error", "path", d.path)
		}
	}
}

// Changed ignores pending events while the document is missing, so a deleted
// file keeps the last known configuration until it is recreated.
func (d *WatchDetector) Changed() bool {
	if !d.dirty.Load() {
		return false
	}
	info, err := os.Stat(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			d.dirty.Store(false)
			d.modTime = time.Time{}
		}
		return false
	}
	if info.ModTime().Equal(d.modTime) {
		d.dirty.Store(false)
		return false
	}
	return true
}

// Observe clears pending events and records the current modification time.
func (d *WatchDetector) Observe() {
	d.dirty.Store(false)
	if info, err := os.Stat(d.path); err == nil {
		d.modTime = info.ModTime()
	} else {
		d.modTime = time.Time{}
	}
}

// Close stops the watcher and waits for the event loop to exit.
func (d *WatchDetector) Close() error {
	err := d.watcher.Close()
	<-d.done
	return err
}
