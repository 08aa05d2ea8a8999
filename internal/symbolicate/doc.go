// Package symbolicate translates stack frames reported by a running app
// from bundle locations to original source locations using the bundle's
// source map.
//
// Frames that cannot be resolved are returned as they were received, so a
// missing or broken source map degrades the result instead of failing it.
// One code frame is rendered for the first resolved frame whose source file
// can be read.
package symbolicate
