// Package safety implements the pre-execution check for submitted Python
// source. A small tokenizer and statement parser reduce the source to
// imports, calls and compound statements; the Analyzer walks that tree and
// rejects restricted imports and direct calls to __import__, eval and exec.
//
// The filter is syntactic. Aliasing, attribute indirection and string-built
// calls all bypass it, so it complements OS-level isolation rather than
// replacing it.
package safety
