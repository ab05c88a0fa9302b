package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// reloadSettle is how long the watcher waits after the last file event before
// reloading. Editors emit several events per save.
const reloadSettle = 100 * time.Millisecond

// Change describes one successful reload. Sections lists the top-level
// config sections whose values differ between Old and New.
type Change struct {
	Old      *Config
	New      *Config
	Sections []string
}

// Has reports whether section changed.
func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// LogLevelChanged reports whether server.log_level differs.
func (c Change) LogLevelChanged() bool {
	return c.Old.Server.LogLevel != c.New.Server.LogLevel
}

// RestartRequired lists the changed sections the running gateway cannot
// apply in place. Only server.log_level is applied live; the listeners,
// adapter and router are built once at start.
func (c Change) RestartRequired() []string {
	var pending []string
	for _, s := range c.Sections {
		if s == "server" {
			oldSrv, newSrv := c.Old.Server, c.New.Server
			oldSrv.LogLevel, newSrv.LogLevel = "", ""
			if oldSrv == newSrv {
				continue
			}
		}
		pending = append(pending, s)
	}
	return pending
}

// OnReload receives every reload that changed at least one section.
type OnReload func(Change)

// Watcher reloads anchor.toml when it changes on disk.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	filePath  string
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	callbacks []OnReload
}

// Watch starts watching filePath. Each change is re-loaded through Load, so a
// file that fails validation leaves the current config in place. The parent
// directory is watched rather than the file, since atomic saves replace the
// inode.
func Watch(filePath string) (*Watcher, error) {
	if filePath == "" {
		return nil, fmt.Errorf("config watcher: file path must not be empty")
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("config watcher: resolving path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: creating fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config watcher: watching %s: %w", filepath.Dir(absPath), err)
	}

	w := &Watcher{
		fsWatcher: fsw,
		filePath:  absPath,
		done:      make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// OnChange registers fn for subsequent reloads.
func (w *Watcher) OnChange(fn OnReload) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
	})
	return err
}

// run serializes reloads on one goroutine: each relevant event restarts the
// settle window and the reload happens when the window closes.
func (w *Watcher) run() {
	var settle <-chan time.Time

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if w.relevant(event) {
				settle = time.After(reloadSettle)
			}

		case <-settle:
			settle = nil
			w.reload()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("file", w.filePath).Msg("config watcher error")
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.filePath {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) reload() {
	old := Get()

	next, err := Load(w.filePath)
	if err != nil {
		log.Error().Err(err).Str("file", w.filePath).Msg("anchor.toml reload rejected; previous config stays active")
		return
	}

	change := Change{Old: old, New: next, Sections: changedSections(old, next)}
	if len(change.Sections) == 0 {
		log.Debug().Str("file", w.filePath).Msg("anchor.toml touched without changes")
		return
	}
	log.Info().Str("file", w.filePath).Strs("sections", change.Sections).Msg("anchor.toml reloaded")

	w.mu.Lock()
	cbs := append([]OnReload(nil), w.callbacks...)
	w.mu.Unlock()

	for _, cb := range cbs {
		w.notify(cb, change)
	}
}

func (w *Watcher) notify(cb OnReload, change Change) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("config reload callback panicked")
		}
	}()
	cb(change)
}

// changedSections compares the top-level sections of two configs, using the
// mapstructure tag as the section name.
func changedSections(old, next *Config) []string {
	ov, nv := reflect.ValueOf(*old), reflect.ValueOf(*next)
	t := ov.Type()

	var sections []string
	for i := 0; i < t.NumField(); i++ {
		if !reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			sections = append(sections, t.Field(i).Tag.Get("mapstructure"))
		}
	}
	return sections
}
