// Package engine is the reference build engine run inside a platform worker.
//
// It does not compile anything. It publishes a prebuilt output directory
// (one per platform) as the assets of a build, serves the same directory on
// the worker port, and rebuilds whenever a file in the directory changes.
// Build events are written as ipc frames, so the dev server treats it like
// any other engine.
package engine
