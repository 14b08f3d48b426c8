//go:build !darwin

package commands

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow batches rapid-fire editor write events into one copy pass.
const debounceWindow = time.Second

// watchFiles watches each file for writes and delivers debounced batches of
// changed paths on the returned channel until stop is called.
func watchFiles(files []string) (<-chan []string, func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	for _, file := range files {
		if err := watcher.Add(file); err != nil {
			watcher.Close()
			return nil, nil, err
		}
	}

	out := make(chan []string)
	done := make(chan struct{})
	go func() {
		defer close(out)
		pending := make(map[string]struct{})
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				pending[ev.Name] = struct{}{}
				if timer == nil {
					timer = time.NewTimer(debounceWindow)
					fire = timer.C
				}
			case <-fire:
				batch := make([]string, 0, len(pending))
				for path := range pending {
					batch = append(batch, path)
				}
				pending = make(map[string]struct{})
				timer, fire = nil, nil
				select {
				case out <- batch:
				case <-done:
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	stop := func() {
		close(done)
		watcher.Close()
	}
	return out, stop, nil
}
