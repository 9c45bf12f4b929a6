// Package progress carries crawl milestones (run, mod, item and image
// stages) from workers to pluggable sinks. Workers emit into a Hub without
// blocking; the Hub batches on its own goroutine and hands each batch to the
// log and Prometheus sinks in package sinks.
package progress
