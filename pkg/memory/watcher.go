package memory

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileWatcher reports markdown changes twice: onEvent runs for every
// qualifying event, onSettled once the files have been quiet for the
// debounce window. Every new event restarts the window.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	logger    zerolog.Logger
	onEvent   func()
	onSettled func()
	debounce  time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewFileWatcher creates a new file watcher. onEvent may be nil.
func NewFileWatcher(logger zerolog.Logger, debounce time.Duration, onEvent, onSettled func()) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fw := &FileWatcher{
		watcher:   watcher,
		logger:    logger.With().Str("component", "watcher").Logger(),
		onEvent:   onEvent,
		onSettled: onSettled,
		debounce:  debounce,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	go fw.run()

	return fw, nil
}

// Watch watches a single directory (non-recursive).
func (fw *FileWatcher) Watch(path string) error {
	return fw.watcher.Add(path)
}

// WatchTree watches dir and every directory below it. Symlinked directories
// are skipped. A missing dir is not an error.
func (fw *FileWatcher) WatchTree(dir string) error {
	info, err := os.Lstat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fw.watcher.Add(path); err != nil {
				fw.logger.Warn().Err(err).Str("dir", path).Msg("Failed to watch directory")
			}
		}
		return nil
	})
}

// Stop stops the file watcher and cancels a pending notification.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		fw.mu.Lock()
		fw.stopped = true
		if fw.timer != nil {
			fw.timer.Stop()
		}
		fw.mu.Unlock()

		close(fw.stopCh)
		err = fw.watcher.Close()
		<-fw.done
	})
	return err
}

func (fw *FileWatcher) run() {
	defer close(fw.done)
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error().Err(err).Msg("File watcher error")

		case <-fw.stopCh:
			return
		}
	}
}

func (fw *FileWatcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			// New directories may already contain notes.
			_ = fw.WatchTree(event.Name)
			fw.schedule()
			return
		}
	}

	if !isMarkdown(event.Name) {
		// Removing or renaming a directory removes the notes under it.
		if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			fw.schedule()
		}
		return
	}

	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		fw.logger.Debug().
			Str("file", filepath.Base(event.Name)).
			Str("op", event.Op.String()).
			Msg("File change detected")
		fw.schedule()
	}
}

func (fw *FileWatcher) schedule() {
	fw.mu.Lock()
	if fw.stopped {
		fw.mu.Unlock()
		return
	}
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(fw.debounce, func() {
		fw.logger.Debug().Msg("Files settled, notifying")
		fw.onSettled()
	})
	fw.mu.Unlock()

	if fw.onEvent != nil {
		fw.onEvent()
	}
}
