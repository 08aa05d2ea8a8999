// Package server is the HTTP entry point of the dev server.
//
// Requests that are not answered locally (status, metrics, symbolication,
// dashboard API, broadcast shortcuts) belong to a platform. The platform is
// taken from the "platform" query parameter or the first path segment; the
// platform's worker is started on demand, compiled assets are served from
// the compiler's cache and everything else is reverse-proxied to the
// worker's private port.
//
// WebSocket upgrades are handed to the ws.Router before chi sees them.
package server
