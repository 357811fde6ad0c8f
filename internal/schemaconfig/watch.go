package schemaconfig

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ── Change notice ──────────────────────────────────────────
// Watches the schema-mapping file and logs a notice when it changes.
// There is deliberately no hot reload: a namespace mapping determines
// column order and target DDL already applied to the target database,
// and swapping it mid-run would silently desync already-written rows.

// WatchForChanges watches path and logs a warning whenever it is
// written to, until stop is closed. It never causes the loader built
// from path to change.
func WatchForChanges(path string, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					log.Printf("schemaconfig: %s changed on disk; restart to pick up the new mapping", path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("schemaconfig: watch error: %v", err)
			case <-stop:
				return
			}
		}
	}()

	return nil
}
