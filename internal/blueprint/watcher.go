package blueprint

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind describes the type of blueprint file change detected.
type ChangeKind int

const (
	ChangeAdded    ChangeKind = iota // New version file appeared
	ChangeModified                   // Existing version rewritten
	ChangeRemoved                    // Version file deleted
)

// String returns the lower-case name of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is a debounced modification of one blueprint version.
type Change struct {
	Kind ChangeKind
	Name string
	Tag  string
	File string
}

// debounce is how long a file must be quiet before its change is emitted.
const debounce = 100 * time.Millisecond

// Watcher monitors a store's root directory for blueprint file changes.
type Watcher struct {
	Dir     string
	Changes <-chan Change // Read-only external channel

	changes chan Change // Internal write channel
	stop    chan struct{}
	done    chan struct{}
	known   map[string]bool
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher for the store's root directory.
func (s *Store) NewWatcher() (*Watcher, error) {
	return NewWatcher(s.root)
}

// NewWatcher creates a watcher for the given blueprint directory.
func NewWatcher(dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ch := make(chan Change, 16)
	return &Watcher{
		Dir:     dir,
		Changes: ch,
		changes: ch,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		known:   make(map[string]bool),
		watcher: fw,
	}, nil
}

// Start records the versions already present and begins watching.
func (w *Watcher) Start() error {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, _, ok := parseFileName(e.Name()); ok {
			w.known[filepath.Join(w.Dir, e.Name())] = true
		}
	}

	if err := w.watcher.Add(w.Dir); err != nil {
		return err
	}

	go w.loop()
	return nil
}

// Stop closes the watcher and the Changes channel. Changes nobody has read
// yet are dropped.
func (w *Watcher) Stop() {
	close(w.stop) // Unblock a pending send
	w.watcher.Close()
	<-w.done // Wait for loop to exit
	close(w.changes)
}

func (w *Watcher) loop() {
	defer close(w.done)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				// Drain pending on close.
				for file := range pending {
					if !w.emitChange(file) {
						return
					}
				}
				return
			}

			if _, _, ok := parseFileName(filepath.Base(event.Name)); !ok {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				pending[event.Name] = time.Now()
			}

		case <-ticker.C:
			now := time.Now()
			for file, t := range pending {
				if now.Sub(t) >= debounce {
					if !w.emitChange(file) {
						return
					}
					delete(pending, file)
				}
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal.
		}
	}
}

// emitChange sends the change for file. It reports false once the watcher
// is stopping.
func (w *Watcher) emitChange(file string) bool {
	name, tag, _ := parseFileName(filepath.Base(file))
	c := Change{Name: name, Tag: tag, File: file}

	info, err := os.Stat(file)
	switch {
	case err != nil:
		if !w.known[file] {
			return true
		}
		delete(w.known, file)
		c.Kind = ChangeRemoved
	case !info.Mode().IsRegular():
		return true
	case w.known[file]:
		c.Kind = ChangeModified
	default:
		w.known[file] = true
		c.Kind = ChangeAdded
	}
	select {
	case w.changes <- c:
		return true
	case <-w.stop:
		return false
	}
}
