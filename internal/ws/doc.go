// Package ws implements the WebSocket side of the dev server: a Router that
// hands upgrade requests to the protocol server owning the path, and the
// protocol servers themselves.
//
// Servers:
//   - HMRServer (/__hmr?platform=...) pushes build state to hot-reloading apps
//   - MessageServer (/message) bridges RPC and broadcasts between apps and tools
//   - EventsServer (/events) accepts dev-tools commands and fans out server events
//   - DashboardServer (/api/dashboard) streams compilation and log envelopes
//   - DebuggerServer (/debugger-proxy?role=...) pairs one debugger with one app
//   - DevClientServer (/__client) receives console output from apps
//
// Every server keeps its connections in its own registry. A failure on one
// connection never affects the others.
package ws
