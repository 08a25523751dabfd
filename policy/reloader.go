package policy

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/semihalev/zlog/v2"
)

// Reloader keeps the engine's snapshot in sync with the configured list
// files. File changes trigger a wholesale reload; the engine swap is atomic
// so in-flight decisions keep the old lists until the new ones land.
type Reloader struct {
	engine *Engine

	allowPath string
	denyPath  string

	// inline config entries, merged into every reload
	allowStatic []string
	denyStatic  []string

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewReloader returns a reloader for the given paths. Either path may be
// empty; the static entries alone are still loaded.
func NewReloader(engine *Engine, allowPath, denyPath string, allowStatic, denyStatic []string) *Reloader {
	return &Reloader{
		engine:      engine,
		allowPath:   allowPath,
		denyPath:    denyPath,
		allowStatic: allowStatic,
		denyStatic:  denyStatic,
		stopCh:      make(chan struct{}),
	}
}

// Load reads both list files, merges the inline entries and swaps the
// engine snapshot.
func (r *Reloader) Load() error {
	allow := append([]string(nil), r.allowStatic...)
	deny := append([]string(nil), r.denyStatic...)

	if r.allowPath != "" {
		names, err := LoadFile(r.allowPath)
		if err != nil {
			return err
		}
		allow = append(allow, names...)
	}

	if r.denyPath != "" {
		names, err := LoadFile(r.denyPath)
		if err != nil {
			return err
		}
		deny = append(deny, names...)
	}

	r.engine.Swap(allow, deny)

	allowLen, denyLen := r.engine.Counts()
	zlog.Info("Policy lists loaded", "allow", allowLen, "deny", denyLen, "mode", r.engine.Mode().String())

	return nil
}

// Watch starts watching the parent directories of the list files and
// reloads on changes. Directories are watched rather than the files, so
// rename-into-place updates are seen too.
func (r *Reloader) Watch() error {
	dirs := make(map[string]struct{})
	for _, p := range []string{r.allowPath, r.denyPath} {
		if p != "" {
			dirs[filepath.Dir(p)] = struct{}{}
		}
	}
	if len(dirs) == 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy: could not create watcher: %w", err)
	}

	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("policy: could not watch %s: %w", dir, err)
		}
	}

	r.watcher = watcher
	go r.watch()

	return nil
}

// Stop terminates the watch loop.
func (r *Reloader) Stop() {
	close(r.stopCh)
}

func (r *Reloader) watch() {
	defer func() {
		_ = r.watcher.Close()
	}()

	// Debounce timer: list files are often rewritten in several writes.
	var pending *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !r.relevant(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if pending == nil {
				pending = time.AfterFunc(500*time.Millisecond, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else {
				pending.Reset(500 * time.Millisecond)
			}

		case <-reload:
			pending = nil
			if err := r.Load(); err != nil {
				zlog.Error("Policy list reload failed", "error", err.Error())
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			zlog.Warn("Policy list watcher error", "error", err.Error())

		case <-r.stopCh:
			return
		}
	}
}

func (r *Reloader) relevant(name string) bool {
	for _, p := range []string{r.allowPath, r.denyPath} {
		if p != "" && filepath.Clean(name) == filepath.Clean(p) {
			return true
		}
	}
	return false
}
