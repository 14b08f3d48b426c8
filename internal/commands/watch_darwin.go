//go:build darwin

package commands

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsevents"
)

// debounceWindow batches rapid-fire editor write events into one copy pass.
const debounceWindow = time.Second

// watchFiles watches each file's parent directory through FSEvents (kqueue
// file watches are unreliable for editors that replace files on save) and
// delivers debounced batches of changed watched paths until stop is called.
func watchFiles(files []string) (<-chan []string, func(), error) {
	watched := make(map[string]struct{}, len(files))
	dirs := make(map[string]struct{})
	for _, file := range files {
		watched[file] = struct{}{}
		dirs[filepath.Dir(file)] = struct{}{}
	}
	paths := make([]string, 0, len(dirs))
	for dir := range dirs {
		paths = append(paths, dir)
	}

	stream := &fsevents.EventStream{
		Paths:   paths,
		Latency: debounceWindow,
		Flags:   fsevents.FileEvents | fsevents.WatchRoot,
	}
	stream.Start()

	out := make(chan []string)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case events := <-stream.Events:
				var batch []string
				for _, ev := range events {
					path := "/" + ev.Path
					if _, ok := watched[path]; ok {
						batch = append(batch, path)
					}
				}
				if len(batch) == 0 {
					continue
				}
				select {
				case out <- batch:
				case <-done:
					return
				}
			}
		}
	}()

	stop := func() {
		close(done)
		stream.Stop()
	}
	return out, stop, nil
}
