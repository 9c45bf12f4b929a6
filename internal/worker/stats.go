package worker

import "sync/atomic"

// Stats aggregates outcomes across every worker of a run.
type Stats struct {
	ModsPersisted   atomic.Int64
	ModsSkipped     atomic.Int64
	ModsFailed      atomic.Int64
	ItemsProcessed  atomic.Int64
	ItemsFailed     atomic.Int64
	ImagesResolved  atomic.Int64
	ImagesFailed    atomic.Int64
	Downloads       atomic.Int64
	DownloadsFailed atomic.Int64
}

// Summary is a point-in-time copy of Stats.
type Summary struct {
	ModsPersisted   int64 `json:"mods_persisted"`
	ModsSkipped     int64 `json:"mods_skipped"`
	ModsFailed      int64 `json:"mods_failed"`
	ItemsProcessed  int64 `json:"items_processed"`
	ItemsFailed     int64 `json:"items_failed"`
	ImagesResolved  int64 `json:"images_resolved"`
	ImagesFailed    int64 `json:"images_failed"`
	Downloads       int64 `json:"downloads"`
	DownloadsFailed int64 `json:"downloads_failed"`
}

// Snapshot reads every counter.
func (s *Stats) Snapshot() Summary {
	return Summary{
		ModsPersisted:   s.ModsPersisted.Load(),
		ModsSkipped:     s.ModsSkipped.Load(),
		ModsFailed:      s.ModsFailed.Load(),
		ItemsProcessed:  s.ItemsProcessed.Load(),
		ItemsFailed:     s.ItemsFailed.Load(),
		ImagesResolved:  s.ImagesResolved.Load(),
		ImagesFailed:    s.ImagesFailed.Load(),
		Downloads:       s.Downloads.Load(),
		DownloadsFailed: s.DownloadsFailed.Load(),
	}
}

// Failed is the combined count of failed mods and items.
func (s Summary) Failed() int64 {
	return s.ModsFailed + s.ItemsFailed
}
