// Package sequencer provides the concrete host for a core.SequenceManager:
// a single dedicated goroutine that owns the manager's main dispatch
// loop, implementing core.ThreadController to receive "there's work"
// and "wake me at this time" notifications from posted and delayed
// tasks.
package sequencer
