// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package changefeed

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// Watcher reports changed paths, relative to dir, as they happen, using
// the filesystem's native notification mechanism rather than Poll's
// git-diff snapshot. It complements Source for callers that want to
// invalidate Keys continuously instead of at fixed polling intervals.
type Watcher struct {
	dir        string
	extensions []string
	log        hclog.Logger

	fsw     *fsnotify.Watcher
	Changes chan string
	Errors  chan error
	done    chan struct{}
}

// NewWatcher starts watching dir (recursively) for create/write/rename
// events on files matching extensions (a nil or empty extensions watches
// everything). Callers must call Close when done.
func NewWatcher(dir string, extensions []string, log hclog.Logger) (*Watcher, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addRecursive(fsw, dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		dir:        dir,
		extensions: extensions,
		log:        log,
		fsw:        fsw,
		Changes:    make(chan string, 64),
		Errors:     make(chan error, 1),
		done:       make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !w.matches(ev.Name) {
				continue
			}
			rel, err := filepath.Rel(w.dir, ev.Name)
			if err != nil {
				rel = ev.Name
			}
			select {
			case w.Changes <- rel:
			case <-w.done:
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("filesystem watch error", "error", err)
			select {
			case w.Errors <- err:
			default:
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) matches(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	for _, ext := range w.extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// Close stops the watcher and releases its underlying OS resources.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
