// Package compiler orchestrates one build worker per platform.
//
// The Compiler lazily spawns a worker process for each platform the first
// time that platform is requested. Workers report build lifecycle events over
// the framed channel in internal/ipc; the Compiler keeps the latest assets
// and stats of each platform and parks requests for assets that are still
// being built.
//
// # Per-platform serialization
//
// Events from a platform's worker are queued on an unbounded channel and
// applied one at a time by that platform's loop goroutine. The loop is the
// only writer of the platform's asset cache, stats and pending queue;
// readers take the platform mutex.
//
// # Waiting for assets
//
//	asset, err := c.GetAsset(ctx, "ios", "index.bundle")
//
// returns immediately on a cache hit, fails with E202 when the asset is
// missing and no build is running, and otherwise waits for the build in
// flight. Waiters are resolved in the order they arrived, exactly once per
// build completion, build failure or worker exit.
package compiler
