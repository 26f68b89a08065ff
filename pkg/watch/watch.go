package watch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ChangeKind classifies a detected filesystem change.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Change is one detected filesystem event under a watched root.
type Change struct {
	Path string
	Kind ChangeKind
}

// ChangeSet is a batch of changes observed since the last delivery. A
// SourceWatcher is free to batch several raw filesystem events into one
// ChangeSet; this package delivers one ChangeSet per raw event, leaving
// coalescing to the caller.
type ChangeSet struct {
	Changes  []Change
	Observed time.Time
}

// SourceWatcher is the hook contract a re-drive loop consumes to learn
// about configuration or source changes under a set of roots. Detecting
// changes is in scope; deciding what to do about them (debounce, re-plan,
// re-schedule) is left to the caller.
type SourceWatcher interface {
	Watch(ctx context.Context, roots []string) (<-chan ChangeSet, error)
}

// FSWatcher is the fsnotify-backed SourceWatcher. Each watched root is
// walked once at Watch time and every directory found is added to the
// underlying watcher; it does not discover directories created after
// Watch is called.
type FSWatcher struct {
	log zerolog.Logger
}

// NewFSWatcher constructs an FSWatcher.
func NewFSWatcher(log zerolog.Logger) *FSWatcher {
	return &FSWatcher{log: log.With().Str("component", "source-watcher").Logger()}
}

// Watch starts watching roots and returns a channel of ChangeSets. The
// channel is closed when ctx is cancelled.
func (w *FSWatcher) Watch(ctx context.Context, roots []string) (<-chan ChangeSet, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, root := range roots {
		if err := addRecursive(watcher, root); err != nil {
			w.log.Warn().Err(err).Str("root", root).Msg("failed to watch root")
		}
	}

	out := make(chan ChangeSet)
	go w.pump(ctx, watcher, out)
	return out, nil
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func (w *FSWatcher) pump(ctx context.Context, watcher *fsnotify.Watcher, out chan ChangeSet) {
	defer watcher.Close()
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			cs := ChangeSet{
				Changes:  []Change{{Path: event.Name, Kind: classify(event.Op)}},
				Observed: time.Now(),
			}
			select {
			case out <- cs:
			case <-ctx.Done():
				return
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("watcher error")
		}
	}
}

func classify(op fsnotify.Op) ChangeKind {
	switch {
	case op&fsnotify.Create != 0:
		return ChangeCreated
	case op&fsnotify.Remove != 0, op&fsnotify.Rename != 0:
		return ChangeRemoved
	default:
		return ChangeModified
	}
}
