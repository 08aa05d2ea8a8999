// Package reporter collects the dev server's log entries.
//
// Every component logs through log/slog. The Handler returned by
// Reporter.Handler turns records into Entry values, which the Reporter
// keeps in a rolling buffer (served to the dashboard), renders to the
// terminal, and hands to any registered sinks.
//
// Spawned build workers run the Reporter in JSON mode: each entry becomes one
// JSON line on stderr, which the parent decodes with ParseLine and re-issues
// under the worker's platform.
package reporter
