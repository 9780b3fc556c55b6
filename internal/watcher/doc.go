// Package watcher keeps the index in step with an inbox directory.
//
// HybridWatcher uses fsnotify and falls back to polling where fsnotify is
// unavailable (network mounts, some container volumes). Events are
// debounced so a file still being copied is indexed once, and filtered by
// extension. Hidden entries and <name>.pages directories are never reported.
//
// Dispatcher applies event batches to the lifecycle manager:
//
//	w, err := watcher.NewHybridWatcher(watcher.OptionsFromConfig(cfg.Watch))
//	if err != nil {
//	    return err
//	}
//	d := watcher.NewDispatcher(inbox, manager, index.RunnerConfig{}, logger)
//	return d.Run(ctx, w)
package watcher
