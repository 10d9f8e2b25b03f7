package selection

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Watch reloads and emits the selection record whenever its file is written,
// so a long-lived processing loop notices manual edits between trials. The
// channel closes when ctx is done. The parent directory is watched rather
// than the file itself because atomic replaces swap the inode out from under
// a direct file watch.
func (s *Store) Watch(ctx context.Context) (<-chan *Record, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "error creating selection watcher")
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return nil, errors.Wrap(err, "error watching selection directory")
	}

	out := make(chan *Record)
	go func() {
		//nolint:errcheck
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
				if event.Name != s.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				rec, err := s.Load()
				if err != nil {
					s.logger.Warnw("ignoring unreadable selection record after external edit", "error", err)
					continue
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warnw("selection watcher error", "error", err)
			}
		}
	}()
	return out, nil
}
