/*
Package templating implements a small compiled text-templating engine.
Template source is literal text interleaved with `{{ ... }}` markup tags
(value lookups, if/else conditionals, for loops, with blocks) and `{= =}`
raw sections. Compilation flattens the source into a jump-addressed
instruction sequence; rendering is a single program-counter walk of that
sequence against a caller-supplied data context, so there is no recursive
traversal at render time.

A compiled Template is immutable and safe for concurrent renders. Values
piped through `|` are passed to named formatters from a FormatterRegistry,
which ships with a set of built-ins and accepts caller-registered
functions. The Manager ties it together: a concurrent-safe set of named
templates with a shared registry, safety limits, and optional reloading
from a pluggable Source such as the SQLite store.

For the template syntax and a list of built-in formatters, see README.md.
*/
package templating
