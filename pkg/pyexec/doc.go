// Package pyexec runs Python source supplied at runtime.
//
// An Engine owns one sandbox for its lifetime. Each call to Execute moves a
// request through extraction, safety analysis, dependency resolution and a
// single run, and always returns a textual Report: failures are absorbed
// and reported, never returned to the caller.
//
// The safety analyzer is a syntactic denylist. It is bypassable through
// aliasing, attribute indirection or string-built calls and is not a
// substitute for OS-level isolation.
package pyexec
