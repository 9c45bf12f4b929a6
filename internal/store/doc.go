// Package store persists processed mods to a single JSON document. The
// document is an append-only cache keyed by mod name: it is loaded once,
// appended to under a mutex and atomically rewritten after every mod.
package store
