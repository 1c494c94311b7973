package statefile

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/terrane-dev/terrane/pkg/telemetry"
)

// Watcher re-triggers work when a state file changes on disk. Editors
// tend to fire several events per save, so changes are debounced.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *telemetry.Logger
	delay   time.Duration
}

// NewWatcher creates a watcher for one state file.
func NewWatcher(path string, logger *telemetry.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}

	return &Watcher{
		path:    path,
		watcher: fw,
		logger:  logger.NewComponentLogger("statefile.watcher"),
		delay:   500 * time.Millisecond,
	}, nil
}

// Watch blocks, calling onChange after each debounced change, until the
// context is cancelled.
func (w *Watcher) Watch(ctx context.Context, onChange func(*Document) error) error {
	defer func() { _ = w.watcher.Close() }()

	var debounce *time.Timer
	changed := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.WithField("file", event.Name).Debug("state file changed")

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.delay, func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})

		case <-changed:
			doc, err := Load(w.path)
			if err != nil {
				// A half-written file is expected mid-save; report and
				// wait for the next event.
				w.logger.WithError(err).Warn("state file is not loadable")
				continue
			}
			if err := onChange(doc); err != nil {
				w.logger.WithError(err).Error("change handler failed")
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("watcher error")
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
