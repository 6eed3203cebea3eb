package presence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/nerrad567/gray-logic-bridges/internal/bridges"
)

// LocalLeaseFile is a LeaseSource backed by a dnsmasq lease file on the
// local filesystem, for deployments where the daemon runs on the router
// itself. The file is read once at creation and re-read whenever the
// watcher reports a change, so Leases never touches the disk on the scan
// path.
//
// dnsmasq rewrites the file in place, so the watch is placed on the
// containing directory and filtered by name.
type LocalLeaseFile struct {
	path    string
	logger  bridges.Logger
	watcher *fsnotify.Watcher

	mu     sync.RWMutex
	leases map[string]Lease

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewLocalLeaseFile opens path and starts watching it for changes.
func NewLocalLeaseFile(path string, logger bridges.Logger) (*LocalLeaseFile, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("presence: creating lease watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("presence: watching %s: %w", filepath.Dir(path), err)
	}

	l := &LocalLeaseFile{
		path:    path,
		logger:  logger,
		watcher: watcher,
		leases:  make(map[string]Lease),
		done:    make(chan struct{}),
	}

	if err := l.reload(); err != nil {
		// A missing file is normal before the first lease is handed out.
		l.logWarn("initial lease file read failed", "path", path, "error", err)
	}

	l.wg.Add(1)
	go l.watchLoop()
	return l, nil
}

// Leases returns the cached lease table.
func (l *LocalLeaseFile) Leases(_ context.Context) (map[string]Lease, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	leases := make(map[string]Lease, len(l.leases))
	for mac, lease := range l.leases {
		leases[mac] = lease
	}
	return leases, nil
}

// Close stops the watcher. Leases keeps returning the last cached table.
func (l *LocalLeaseFile) Close() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.done)
		err = l.watcher.Close()
		l.wg.Wait()
	})
	return err
}

func (l *LocalLeaseFile) watchLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := l.reload(); err != nil {
				l.logWarn("lease file reload failed", "path", l.path, "error", err)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logWarn("lease watcher error", "error", err)
		}
	}
}

func (l *LocalLeaseFile) reload() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}

	leases, skipped := ParseLeases(string(data))
	if skipped > 0 {
		l.logWarn("skipped malformed lease lines", "path", l.path, "count", skipped)
	}

	l.mu.Lock()
	l.leases = leases
	l.mu.Unlock()
	return nil
}

func (l *LocalLeaseFile) logWarn(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Warn(msg, args...)
	}
}
