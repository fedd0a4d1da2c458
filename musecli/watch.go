package musecli

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"oss.terrastruct.com/muse/appconfig"
	"oss.terrastruct.com/muse/lib/background"
)

// watcher reloads browsers when anything in the app directory changes.
// Settings files are left to appconfig.Watch so they are validated before
// anyone reloads.
type watcher struct {
	s  *server
	fw *fsnotify.Watcher

	lastModified map[string]time.Time
	pollCh       chan struct{}
}

func newWatcher(s *server) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &watcher{
		s:            s,
		fw:           fw,
		lastModified: make(map[string]time.Time),
		pollCh:       make(chan struct{}, 1),
	}, nil
}

func (w *watcher) watchLoop(ctx context.Context) error {
	defer w.fw.Close()

	err := w.addTree(ctx, w.s.dir)
	if err != nil {
		return err
	}
	_, err = w.scan()
	if err != nil {
		return err
	}
	w.s.ms.Log.Info.Printf("watching %s for changes", w.s.ms.HumanPath(w.s.dir))

	// File notification APIs are unreliable enough that a periodic rescan
	// is worth it to catch anything they drop.
	stopPoll := background.Repeat(w.s.clock, func() {
		select {
		case w.pollCh <- struct{}{}:
		default:
		}
	}, w.s.pollInterval)
	defer stopPoll()

	eatBurstTimer := time.NewTimer(0)
	<-eatBurstTimer.C
	defer eatBurstTimer.Stop()

	changed := make(map[string]struct{})

	for {
		select {
		case <-w.pollCh:
			missed, err := w.scan()
			if err != nil {
				return err
			}
			if len(missed) > 0 {
				w.s.ms.Log.Debug.Printf("poll found missed changes in %s", humanList(w.s.ms, missed))
				w.reload(missed)
			}
		case ev, ok := <-w.fw.Events:
			if !ok {
				return errors.New("fsnotify watcher closed")
			}
			w.s.ms.Log.Debug.Printf("received file system event %v", ev)
			if w.ignored(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if d, err := os.Stat(ev.Name); err == nil && d.IsDir() {
					err = w.addTree(ctx, ev.Name)
					if err != nil {
						return err
					}
				}
			}
			if ev.Op == fsnotify.Chmod {
				d, err := os.Stat(ev.Name)
				if err == nil && d.ModTime().Equal(w.lastModified[ev.Name]) {
					// Benign Chmod.
					// See https://github.com/fsnotify/fsnotify/issues/15
					continue
				}
			}
			changed[ev.Name] = struct{}{}
			// Editors often write a file as a burst of events. Wait 16ms after
			// the last one so the burst becomes a single reload of a complete
			// file.
			eatBurstTimer.Reset(time.Millisecond * 16)
		case <-eatBurstTimer.C:
			var changedList []string
			for k := range changed {
				changedList = append(changedList, k)
				delete(changed, k)
			}
			if len(changedList) == 0 {
				continue
			}
			sort.Strings(changedList)
			// Keep the poll from reporting these again.
			_, err := w.scan()
			if err != nil {
				return err
			}
			w.s.ms.Log.Info.Printf("detected change in %s: reloading...", humanList(w.s.ms, changedList))
			w.reload(changedList)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return errors.New("fsnotify watcher closed")
			}
			w.s.ms.Log.Error.Printf("fsnotify error: %v", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *watcher) reload(paths []string) {
	rel := make([]string, 0, len(paths))
	for _, p := range paths {
		r, err := filepath.Rel(w.s.dir, p)
		if err != nil {
			r = p
		}
		rel = append(rel, filepath.ToSlash(r))
	}
	w.s.broadcast(&update{Reload: true, Changed: rel})
}

// ignored reports paths the browser never loads: dot files, editor swap
// files and the settings files.
func (w *watcher) ignored(p string) bool {
	base := filepath.Base(p)
	switch {
	case strings.HasPrefix(base, "."),
		strings.HasSuffix(base, "~"),
		strings.HasSuffix(base, ".swp"):
		return true
	case base == appconfig.BaseFile, base == appconfig.EnvFile(w.s.environment):
		return true
	}
	return false
}

// addTree watches dir and every directory below it. fsnotify is not
// recursive.
func (w *watcher) addTree(ctx context.Context, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && w.ignored(p) {
			return filepath.SkipDir
		}
		return w.ensureAddWatch(ctx, p)
	})
}

func (w *watcher) ensureAddWatch(ctx context.Context, path string) error {
	interval := time.Millisecond * 16
	tc := time.NewTimer(0)
	<-tc.C
	for {
		err := w.fw.Add(path)
		if err == nil {
			return nil
		}
		if interval >= time.Second {
			w.s.ms.Log.Error.Printf("failed to watch %q: %v (retrying in %v)", w.s.ms.HumanPath(path), err, interval)
		}

		tc.Reset(interval)
		select {
		case <-tc.C:
			if interval < time.Second {
				interval = time.Second
			}
			if interval < time.Second*16 {
				interval *= 2
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// scan records the modification time of every file under the app directory
// and returns the files that are new, changed or gone since the last scan.
func (w *watcher) scan() ([]string, error) {
	seen := make(map[string]struct{}, len(w.lastModified))
	var changed []string
	err := filepath.WalkDir(w.s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if p != w.s.dir && w.ignored(p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		seen[p] = struct{}{}
		if mt, ok := w.lastModified[p]; !ok || !mt.Equal(info.ModTime()) {
			w.lastModified[p] = info.ModTime()
			changed = append(changed, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for p := range w.lastModified {
		if _, ok := seen[p]; !ok {
			delete(w.lastModified, p)
			changed = append(changed, p)
		}
	}
	sort.Strings(changed)
	return changed, nil
}
