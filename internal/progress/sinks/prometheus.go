package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/moditems-crawler/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns the
// collectors for mods started/completed/running and per-result item and image
// counters.
type PrometheusSink struct {
	modsStarted   prometheus.Counter
	modsCompleted *prometheus.CounterVec
	modsRunning   prometheus.Gauge
	modRuntime    *prometheus.HistogramVec

	items  *prometheus.CounterVec
	images *prometheus.CounterVec

	tracker *modTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		modsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moditems_progress_mods_started_total",
			Help: "Total mods a worker started crawling.",
		}),
		modsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moditems_progress_mods_completed_total",
			Help: "Total mods finished partitioned by result.",
		}, []string{"result"}),
		modsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moditems_progress_mods_running",
			Help: "Current number of mods being crawled.",
		}),
		modRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moditems_progress_mod_runtime_seconds",
			Help:    "Wall time per finished mod.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"result"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moditems_progress_items_total",
			Help: "Items handled partitioned by result.",
		}, []string{"result"}),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moditems_progress_images_total",
			Help: "Images handled partitioned by result.",
		}, []string{"result"}),
		tracker: newModTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.modsStarted,
		s.modsCompleted,
		s.modsRunning,
		s.modRuntime,
		s.items,
		s.images,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageModStart, progress.StageModDone, progress.StageModError, progress.StageModSkipped:
		s.handleModEvent(evt)
	case progress.StageItemDone:
		s.items.WithLabelValues("persisted").Inc()
	case progress.StageItemDropped:
		s.items.WithLabelValues("dropped").Inc()
	case progress.StageItemError:
		s.items.WithLabelValues("failed").Inc()
	case progress.StageImageResolved:
		s.images.WithLabelValues("resolved").Inc()
	case progress.StageImageError:
		s.images.WithLabelValues("unresolved").Inc()
	case progress.StageImageDownload:
		s.images.WithLabelValues("downloaded").Inc()
	case progress.StageDownloadFailed:
		s.images.WithLabelValues("download_failed").Inc()
	}
}

func (s *PrometheusSink) handleModEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageModStart:
		s.modsStarted.Inc()
		if s.tracker.start(evt.RunID, evt.Mod) {
			s.modsRunning.Inc()
		}
		return
	case progress.StageModDone:
		s.modsCompleted.WithLabelValues("persisted").Inc()
		s.observeRuntime(evt, "persisted")
	case progress.StageModError:
		s.modsCompleted.WithLabelValues("failed").Inc()
		s.observeRuntime(evt, "failed")
	case progress.StageModSkipped:
		s.modsCompleted.WithLabelValues("skipped").Inc()
	}
	if s.tracker.complete(evt.RunID, evt.Mod) {
		s.modsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.modRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type modKey struct {
	run [16]byte
	mod string
}

type modTracker struct {
	mu      sync.Mutex
	running map[modKey]struct{}
}

func newModTracker() *modTracker {
	return &modTracker{running: make(map[modKey]struct{})}
}

func (t *modTracker) start(run [16]byte, mod string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := modKey{run: run, mod: mod}
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *modTracker) complete(run [16]byte, mod string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := modKey{run: run, mod: mod}
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
