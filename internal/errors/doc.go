// Package errors provides the coded, structured errors used across devpack.
//
// Every failure the dev server can surface to a caller maps to a registered
// code (e.g. "E202"). A code carries a category, a short message and a longer
// detail; call sites attach the platform, the wrapped cause and an optional
// suggestion:
//
//	err := errors.New("E200").
//	    WithPlatform("ios").
//	    WithSuggestion("Check engine.command in devpack.json").
//	    Wrap(execErr)
//
// Errors wrap with the standard library so errors.Is and errors.As keep
// working; IsCode and CodeOf inspect a chain for a devpack code.
//
// # Code Frames
//
// RenderCodeFrame renders the gutter-and-caret excerpt shared by the terminal
// formatter and the stack-trace symbolicator:
//
//	  12 | function render() {
//	  13 |   const a = b();
//	> 14 |   return a.c.d;
//	     |            ^
//	  15 | }
package errors
