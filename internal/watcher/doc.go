// Package watcher reports changes to the source database files so that a
// long-running sync can re-run drift detection soon after a write. It uses
// fsnotify on the database directory and falls back to polling file stats
// when fsnotify is unavailable. Bursts of writes are debounced into one batch.
package watcher
