package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch monitors the config file and invokes onChange with freshly loaded
// settings whenever the file is rewritten. A rewrite that fails validation
// is logged and ignored so the previous settings stay in force. Watch
// blocks until the context is cancelled.
//
// The parent directory is watched rather than the file itself: editors that
// rename-over the file would otherwise silently detach the watch.
func Watch(ctx context.Context, path string, log zerolog.Logger, onChange func(*Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	log = log.With().Str("component", "config-watch").Str("path", path).Logger()
	target := filepath.Clean(path)

	var debounce *time.Timer
	reload := func() {
		s, err := Load(path)
		if err != nil {
			log.Warn().Err(err).Msg("ignoring invalid config rewrite")
			return
		}
		log.Info().Msg("config reloaded")
		onChange(s)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Editors fire several events per save; coalesce them.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}
