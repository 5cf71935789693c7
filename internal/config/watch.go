package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// watchDebounce absorbs the write-then-rename burst most editors and `cp` produce for a
// single logical save, so one settings change doesn't trigger several reloads back to back.
const watchDebounce = 200 * time.Millisecond

// WatchSettingsFile watches the settings file's directory for changes and hot-reloads the
// process-wide Config via Load+Set whenever it's written, until ctx is cancelled. Unlike the
// stdio MCP entry point's restart-on-change behavior, the worker service stays up across a
// reload — its dynamic fields (dedup thresholds, filter patterns) are read from config.Get()
// on every pipeline run rather than captured once at boot.
//
// Settings directory watched rather than the file itself: many editors and atomic-write
// patterns replace the file (new inode) rather than writing in place, which a file-level
// watch can silently stop following.
func WatchSettingsFile(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := EnsureDataDir(); err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(DataDir()); err != nil {
		watcher.Close()
		return err
	}

	go runWatchLoop(ctx, watcher)
	return nil
}

func runWatchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	settingsPath := SettingsPath()
	var pending *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != settingsPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(watchDebounce, reloadSettings)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("settings watcher error")
		}
	}
}

func reloadSettings() {
	cfg, err := Load()
	if err != nil {
		log.Warn().Err(err).Msg("settings reload failed, keeping previous config")
		return
	}
	Set(cfg)
	log.Info().Msg("settings reloaded")
}
