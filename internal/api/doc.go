// Package api hosts the read-only HTTP server over the mod store. Notable
// routes:
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/mods and /v1/mods/{name} for the persisted crawl results.
package api
