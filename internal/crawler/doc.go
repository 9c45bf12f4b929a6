// Package crawler defines the core types and collaborator interfaces shared by
// the mod items crawler: wiki lookups, image downloads, the JSON store and the
// worker pipeline that stitches them together.
package crawler
