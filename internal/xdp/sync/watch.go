// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sync

import (
	"os"
	"time"
)

// ConfigWatcher polls a config file's mtime rather than using an fsnotify
// watch, faithfully reproducing the original loader's
// stat()-mtime-comparison reload trigger (src/loader/prog.c), which
// spec.md's Design Notes call out as load-bearing behavior to preserve.
type ConfigWatcher struct {
	path     string
	lastMod  time.Time
}

func NewConfigWatcher(path string) (*ConfigWatcher, error) {
	w := &ConfigWatcher{path: path}
	if fi, err := os.Stat(path); err == nil {
		w.lastMod = fi.ModTime()
	}
	return w, nil
}

// Changed reports whether the file's mtime has advanced since the last
// call that returned true (or since construction). A stat failure is
// treated as "unchanged" and logged by the caller as a transient error
// (spec.md §7: config reload failure is a transient error that retains
// prior state).
func (w *ConfigWatcher) Changed() (bool, error) {
	fi, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	if fi.ModTime().After(w.lastMod) {
		w.lastMod = fi.ModTime()
		return true, nil
	}
	return false, nil
}
