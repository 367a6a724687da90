// Package watch emits debounced filesystem-change events for a set of path
// roots.
//
// Roots are observed recursively: directories discovered at startup and
// directories created while watching are both registered. Changes arriving
// within one debounce window collapse into a single WatchEvent carrying the
// distinct set of affected paths. Roots that disappear during execution are
// tolerated; they simply stop producing events.
package watch

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"

	"github.com/synthesize-dev/synthesize/internal/bus"
)

// Normalize canonicalizes a path for matching: lexically cleaned and NFC
// normalized, so that paths from config and paths from the OS compare equal
// even when one of them carries decomposed Unicode (macOS does this).
func Normalize(p string) string {
	return norm.NFC.String(filepath.Clean(p))
}

// Intersects reports whether any event path is equal to or below any of the
// trigger's path roots. Both sides must already be Normalized.
func Intersects(roots, eventPaths []string) bool {
	for _, ep := range eventPaths {
		for _, root := range roots {
			if ep == root || strings.HasPrefix(ep, root+string(filepath.Separator)) {
				return true
			}
		}
	}
	return false
}

// Watcher observes one set of roots with one debounce window.
type Watcher struct {
	bus      *bus.Bus
	fsw      *fsnotify.Watcher
	roots    []string
	debounce time.Duration
	log      *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New validates the roots and prepares a watcher. Every root must exist at
// startup; a missing root is a configuration error reported before any node
// runs.
func New(b *bus.Bus, roots []string, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	if debounce <= 0 {
		debounce = 150 * time.Millisecond
	}

	normalized := make([]string, len(roots))
	for i, r := range roots {
		normalized[i] = Normalize(r)
		if _, err := os.Stat(normalized[i]); err != nil {
			return nil, fmt.Errorf("watch root %q: %w", r, err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		bus:      b,
		fsw:      fsw,
		roots:    normalized,
		debounce: debounce,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	for _, root := range normalized {
		if err := w.addRecursive(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Roots returns the watcher's normalized roots.
func (w *Watcher) Roots() []string {
	return w.roots
}

// Start begins observing. Events are published on the bus until Stop.
func (w *Watcher) Start() {
	go w.loop()
}

// Cancel asks the event loop to stop without waiting for it. Idempotent.
// Callers that share the event bus with the watcher must keep draining
// their subscription until Done closes, or a watcher blocked mid-publish
// can never observe the cancellation.
func (w *Watcher) Cancel() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.fsw.Close()
	})
}

// Done closes once the event loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Stop cancels the subscription and waits for the event loop to drain.
// Idempotent.
func (w *Watcher) Stop() {
	w.Cancel()
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)

	pending := map[string]bool{}
	var timer *time.Timer
	var quiet <-chan time.Time

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			p := Normalize(ev.Name)
			pending[p] = true

			// New directories join the watch so nested creates keep
			// arriving.
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(p); err == nil && info.IsDir() {
					if err := w.addRecursive(p); err != nil {
						w.log.Debug("failed to extend watch", "path", p, "error", err)
					}
				}
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			quiet = timer.C

		case <-quiet:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			w.bus.Publish(bus.Event{Kind: bus.KindWatchEvent, Paths: paths})

			pending = map[string]bool{}
			quiet = nil

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Debug("watch error", "error", err)

		case <-w.stop:
			return
		}
	}
}

// addRecursive registers a directory tree (or a single file root). Paths
// that vanish mid-walk are skipped; the tree may be changing underneath us.
func (w *Watcher) addRecursive(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return nil
	}
	if !info.IsDir() {
		if err := w.fsw.Add(root); err != nil {
			return fmt.Errorf("watch %q: %w", root, err)
		}
		return nil
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if addErr := w.fsw.Add(path); addErr != nil {
				w.log.Debug("failed to watch directory", "path", path, "error", addErr)
			}
		}
		return nil
	})
}
