package ipc

import "strings"

// EventType discriminates build lifecycle events.
type EventType string

const (
	// EventStarted is sent when a compilation begins (first build or watch run).
	EventStarted EventType = "started"
	// EventInvalidated is sent when a watched file changed and a rebuild is queued.
	EventInvalidated EventType = "invalidated"
	// EventProgress reports compilation progress.
	EventProgress EventType = "progress"
	// EventDone carries the assets and stats of a completed compilation.
	EventDone EventType = "done"
	// EventError reports a failed compilation. The worker keeps running.
	EventError EventType = "error"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventStarted, EventInvalidated, EventProgress, EventDone, EventError:
		return true
	}
	return false
}

// Event is one message on the worker channel.
type Event struct {
	Type     EventType `msgpack:"type"`
	Platform string    `msgpack:"platform"`

	// Set for EventProgress.
	Progress *Progress `msgpack:"progress,omitempty"`

	// Set for EventDone.
	Assets []Asset `msgpack:"assets,omitempty"`
	Stats  *Stats  `msgpack:"stats,omitempty"`

	// Set for EventError.
	Message string `msgpack:"message,omitempty"`
}

// Progress describes how far a compilation has come.
type Progress struct {
	Completed int    `msgpack:"completed" json:"completed"`
	Total     int    `msgpack:"total" json:"total"`
	Message   string `msgpack:"message,omitempty" json:"message,omitempty"`
}

// Percent returns the progress as a 0-100 value.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return p.Completed * 100 / p.Total
}

// Asset is one compiled artifact.
type Asset struct {
	Name string    `msgpack:"name"`
	Data []byte    `msgpack:"data"`
	Info AssetInfo `msgpack:"info"`
}

// AssetInfo is the metadata the engine attaches to an artifact.
type AssetInfo struct {
	// HotModuleReplacement marks incremental update artifacts.
	HotModuleReplacement bool `msgpack:"hotModuleReplacement,omitempty" json:"hotModuleReplacement,omitempty"`

	// Related maps a relation (e.g. "sourceMap") to another asset name.
	Related map[string]string `msgpack:"related,omitempty" json:"related,omitempty"`
}

// IsHMR reports whether an asset is a hot-update artifact, either by its
// metadata or by its name.
func (a Asset) IsHMR() bool {
	return a.Info.HotModuleReplacement || strings.Contains(a.Name, ".hot-update.")
}

// Stats summarizes one completed compilation.
type Stats struct {
	Name     string   `msgpack:"name" json:"name"`
	Hash     string   `msgpack:"hash" json:"hash"`
	Time     int64    `msgpack:"time" json:"time"`
	Errors   []string `msgpack:"errors" json:"errors"`
	Warnings []string `msgpack:"warnings" json:"warnings"`

	// ChangedModules maps module ids to their names for HMR clients.
	ChangedModules map[string]string `msgpack:"changedModules" json:"changedModules"`
}
