package mcpauth

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"zypher/internal/zlog"
)

// TokenRefreshFunc is invoked with a server-URL-hash whenever that hash's
// tokens.json is written or created on disk, whichever process wrote it,
// e.g. a sibling process (or a second CLI invocation) completing the
// browser redirect and persisting fresh tokens while this one's Provider
// is still holding the old, possibly-expired ones in memory. Writes made
// by this process fire it too.
type TokenRefreshFunc func(hash string)

// Watcher watches a Storage's directory with fsnotify so a long-lived
// manager notices externally-completed token refreshes without polling.
type Watcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	onToken TokenRefreshFunc
	done    chan struct{}
}

// WatchStorage starts watching storage's directory for tokens.json writes.
// Callers own the returned Watcher and must call Close to stop it; the
// underlying fsnotify.Watcher is closed exactly once.
func WatchStorage(storage *Storage, onToken TokenRefreshFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(storage.dir); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{watcher: fw, onToken: onToken, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			zlog.Warn("mcpauth", "oauth storage watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, "_"+string(artifactTokens)) {
		return
	}
	hash := strings.TrimSuffix(name, "_"+string(artifactTokens))
	if w.onToken != nil {
		w.onToken(hash)
	}
}

// Close stops the watcher and releases its fsnotify handle. Idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	w.watcher = nil
	<-w.done
	return err
}
