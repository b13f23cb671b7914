// Package safe provides a recovering goroutine wrapper for fire-and-forget
// background work (the auto-bundling cron tick and similar tasks).
package safe

import "github.com/tanpx12/chain-guard-bundler/pkg/logger"

// Go runs fn in a goroutine, recovering any panic and logging it through log
// instead of crashing the process.
func Go(log logger.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.EnsureLogger(log).Errorf("recovered panic in background task: %v", r)
			}
		}()
		fn()
	}()
}
