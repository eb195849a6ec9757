package server

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// WatchReloadFile watches a marker file and requests a world reload whenever
// it is written or created. This covers platforms where SIGUSR1 delivery is
// awkward; touching the file is equivalent to sending the signal. The
// watcher runs until the stop channel closes.
func WatchReloadFile(path string, sched *Scheduler, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					log.Printf("reload file %s touched, requesting world reload", event.Name)
					sched.RequestReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("reload watcher error: %v", err)
			}
		}
	}()
	return nil
}
