package templates

import (
	"context"
	"fmt"
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the registry whenever a template file in its directory is
// created, written, removed or renamed. It returns once the watcher is
// running; watching stops when ctx is done. onReload, if non-nil, is called
// after every reload attempt.
func (r *Registry) Watch(ctx context.Context, onReload func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isTemplateFile(event.Name) {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				err := r.Reload()
				if err != nil {
					log.Printf("[templates] reload after %s failed: %v", event, err)
				} else {
					r.debugLog("[templates] reloaded after %s (%d templates)", event.Op, r.Len())
				}
				if onReload != nil {
					onReload(err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[templates] watcher error: %v", err)
			}
		}
	}()
	return nil
}
