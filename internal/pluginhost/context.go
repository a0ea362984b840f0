// Package pluginhost implements the Plugin Host Capability surface (C10):
// the immutable per-execution Context, the kb./secrets./rate-limit
// capability methods exposed to plugin code, and the worker-queue handler
// that drives a PluginExecution from claim to completion. Grounded on the
// teacher's internal/tools capability-binding shape (each tool call is
// handed a bound, read-only invocation context) and on
// internal/scheduler/plugin_source.go for the execution lifecycle this
// package's handler completes the other half of.
package pluginhost

import "ragcore/internal/textextract"

// Context is the immutable value every capability call is bound to.
// Plugins receive a Context by value and cannot mutate PluginName or
// UserID: every capability method on Host reads them from the Context it
// was built with, never from plugin-supplied parameters (spec.md §4.10).
type Context struct {
	PluginName       string
	UserID           string
	ScheduleID       string // empty unless running inside a plugin feed
	KnowledgeBaseIDs []string
	OCRMode          textextract.Mode
}

// InFeed reports whether this execution is running as part of a scheduled
// plugin feed, which gates kb.delete_ko/kb.delete_kos_batch.
func (c Context) InFeed() bool { return c.ScheduleID != "" }

// boundKB returns the single knowledge base a feed-scoped execution is
// allowed to mutate. Feeds bind exactly one KB (spec.md §3 PluginFeed), so
// the first (only) entry of KnowledgeBaseIDs is it.
func (c Context) boundKB() (string, bool) {
	if len(c.KnowledgeBaseIDs) == 0 {
		return "", false
	}
	return c.KnowledgeBaseIDs[0], true
}
