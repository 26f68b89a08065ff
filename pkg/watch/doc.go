// Package watch defines the SourceWatcher contract for the file-change
// feedback loop and a minimal fsnotify-backed implementation. Debouncing
// and scheduler re-drive are left to the caller; this package only emits
// ChangeSets for a caller to act on.
package watch
