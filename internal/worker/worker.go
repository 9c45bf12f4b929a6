// Package worker implements the per-mod crawl pipeline: search, fan out over
// items and their images, assemble the record and persist it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/moditems-crawler/internal/clock/system"
	"github.com/JakeFAU/moditems-crawler/internal/crawler"
	"github.com/JakeFAU/moditems-crawler/internal/metrics"
	"github.com/JakeFAU/moditems-crawler/internal/progress"
	"github.com/JakeFAU/moditems-crawler/internal/wiki"
)

// Config controls Worker behavior.
type Config struct {
	// Topic receives a message per persisted mod when a publisher is set.
	Topic string
	// ModDelay is the pause after each persisted mod.
	ModDelay time.Duration
}

// Dependencies are the collaborators a Worker needs. Downloader, Publisher
// and Emitter are optional.
type Dependencies struct {
	Queue      crawler.Queue
	Wiki       crawler.WikiClient
	Store      crawler.ModStore
	Downloader crawler.ImageDownloader
	Publisher  crawler.Publisher
	Clock      crawler.Clock
	Emitter    progress.Emitter
	Stats      *Stats
}

// Worker consumes mod names from the queue and processes them one at a time.
type Worker struct {
	id         int
	runID      [16]byte
	queue      crawler.Queue
	wiki       crawler.WikiClient
	store      crawler.ModStore
	downloader crawler.ImageDownloader
	publisher  crawler.Publisher
	clock      crawler.Clock
	emitter    progress.Emitter
	stats      *Stats
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker.
func New(id int, runID [16]byte, deps Dependencies, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard
	}
	if deps.Stats == nil {
		deps.Stats = &Stats{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	return &Worker{
		id:         id,
		runID:      runID,
		queue:      deps.Queue,
		wiki:       deps.Wiki,
		store:      deps.Store,
		downloader: deps.Downloader,
		publisher:  deps.Publisher,
		clock:      deps.Clock,
		emitter:    deps.Emitter,
		stats:      deps.Stats,
		cfg:        cfg,
		logger:     logger.Named("worker").With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the queue closes or the context
// finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued mod", zap.String("mod", item.ModName))
		metrics.IncActiveWorkers()
		w.ProcessMod(ctx, item.ModName)
		metrics.DecActiveWorkers()
	}
}

// ProcessMod runs the full pipeline for one mod and reports the outcome.
func (w *Worker) ProcessMod(ctx context.Context, modName string) crawler.ModResult {
	start := w.clock.Now()
	result := crawler.ModResult{ModName: modName}
	logger := w.logger.With(zap.String("mod", modName))

	if w.store.Has(modName) || !w.store.Claim(modName) {
		logger.Info("mod already processed, skipping")
		w.stats.ModsSkipped.Add(1)
		w.emit(progress.Event{Stage: progress.StageModSkipped, Mod: modName})
		result.Status = crawler.ModStatusSkipped
		return result
	}
	persisted := false
	defer func() {
		if !persisted {
			w.store.Release(modName)
		}
	}()

	logger.Info("processing mod")
	w.emit(progress.Event{Stage: progress.StageModStart, Mod: modName})

	hits := w.wiki.Search(ctx, modName)
	if len(hits) == 0 {
		return w.fail(logger, result, start, "no items found")
	}

	items, failed := w.collectItems(ctx, modName, hits)
	result.Failed = failed
	if ctx.Err() != nil {
		return w.fail(logger, result, start, "canceled")
	}

	record := crawler.ModRecord{ModName: modName, Items: items}
	if err := w.store.Append(ctx, record); err != nil {
		logger.Error("persist mod failed", zap.Error(err))
		return w.fail(logger, result, start, err.Error())
	}
	persisted = true

	result.Status = crawler.ModStatusPersisted
	result.Items = len(items)
	for _, item := range items {
		result.Images += len(item.Images)
	}
	result.Elapsed = w.clock.Now().Sub(start)
	w.stats.ModsPersisted.Add(1)

	w.publish(ctx, logger, result)
	w.emit(progress.Event{
		Stage: progress.StageModDone,
		Mod:   modName,
		Count: int64(result.Items),
		Dur:   result.Elapsed,
	})
	logger.Info("mod processed",
		zap.Int("items", result.Items),
		zap.Int("images", result.Images),
		zap.Int("failed_items", result.Failed),
		zap.Duration("elapsed", result.Elapsed),
	)

	if err := pause(ctx, w.cfg.ModDelay); err != nil {
		logger.Debug("mod delay interrupted", zap.Error(err))
	}
	return result
}

func (w *Worker) fail(logger *zap.Logger, result crawler.ModResult, start time.Time, reason string) crawler.ModResult {
	result.Status = crawler.ModStatusFailed
	result.Elapsed = w.clock.Now().Sub(start)
	w.stats.ModsFailed.Add(1)
	w.emit(progress.Event{Stage: progress.StageModError, Mod: result.ModName, Dur: result.Elapsed, Note: reason})
	logger.Warn("mod failed", zap.String("reason", reason))
	return result
}

// collectItems processes every search hit concurrently and keeps the items in
// search order. The second return value counts items whose details failed.
func (w *Worker) collectItems(ctx context.Context, modName string, hits []crawler.SearchResult) ([]crawler.ItemRecord, int) {
	slots := make([]*crawler.ItemRecord, len(hits))
	failed := make([]bool, len(hits))

	var g errgroup.Group
	for i, hit := range hits {
		g.Go(func() error {
			slots[i], failed[i] = w.processItem(ctx, modName, hit.Title)
			return nil
		})
	}
	_ = g.Wait()

	items := make([]crawler.ItemRecord, 0, len(hits))
	failedCount := 0
	for i, slot := range slots {
		if failed[i] {
			failedCount++
		}
		if slot != nil {
			items = append(items, *slot)
		}
	}
	return items, failedCount
}

// processItem returns the item record, or nil when it has no resolved image.
// The flag reports that the page details could not be fetched.
func (w *Worker) processItem(ctx context.Context, modName, title string) (*crawler.ItemRecord, bool) {
	details := w.wiki.ItemDetails(ctx, title)
	if details == nil {
		w.stats.ItemsFailed.Add(1)
		w.emit(progress.Event{Stage: progress.StageItemError, Mod: modName, Item: title, Note: "no details"})
		return nil, true
	}

	candidates := wiki.RasterImages(details.Images)
	slots := make([]*crawler.ImageRecord, len(candidates))

	var g errgroup.Group
	for i, imageTitle := range candidates {
		g.Go(func() error {
			slots[i] = w.processImage(ctx, modName, details.Title, imageTitle)
			return nil
		})
	}
	_ = g.Wait()

	images := make([]crawler.ImageRecord, 0, len(slots))
	for _, slot := range slots {
		if slot != nil {
			images = append(images, *slot)
		}
	}
	if len(images) == 0 {
		w.emit(progress.Event{Stage: progress.StageItemDropped, Mod: modName, Item: details.Title})
		return nil, false
	}

	w.stats.ItemsProcessed.Add(1)
	w.emit(progress.Event{Stage: progress.StageItemDone, Mod: modName, Item: details.Title, Count: int64(len(images))})
	w.logger.Info("item processed", zap.String("mod", modName), zap.String("item", details.Title), zap.Int("images", len(images)))
	return &crawler.ItemRecord{Images: images}, false
}

func (w *Worker) processImage(ctx context.Context, modName, itemTitle, imageTitle string) *crawler.ImageRecord {
	imageURL := w.wiki.ImageURL(ctx, imageTitle)
	if imageURL == "" {
		w.stats.ImagesFailed.Add(1)
		w.emit(progress.Event{Stage: progress.StageImageError, Mod: modName, Item: itemTitle, Note: imageTitle})
		return nil
	}
	w.stats.ImagesResolved.Add(1)
	w.emit(progress.Event{Stage: progress.StageImageResolved, Mod: modName, Item: itemTitle, URL: imageURL})

	record := &crawler.ImageRecord{Name: itemTitle, URL: imageURL}
	if w.downloader == nil {
		return record
	}
	record.LocalPath = w.downloader.Download(ctx, imageURL, itemTitle)
	if record.LocalPath == "" {
		w.stats.DownloadsFailed.Add(1)
		w.emit(progress.Event{Stage: progress.StageDownloadFailed, Mod: modName, Item: itemTitle, URL: imageURL})
	} else {
		w.stats.Downloads.Add(1)
		w.emit(progress.Event{Stage: progress.StageImageDownload, Mod: modName, Item: itemTitle, URL: imageURL})
	}
	return record
}

func (w *Worker) publish(ctx context.Context, logger *zap.Logger, result crawler.ModResult) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"run_id":     uuid.UUID(w.runID).String(),
		"mod_name":   result.ModName,
		"items":      result.Items,
		"images":     result.Images,
		"elapsed_ms": result.Elapsed.Milliseconds(),
		"timestamp":  w.clock.Now().Format(time.RFC3339),
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, payload)
	if err != nil {
		logger.Error("publish mod failed", zap.Error(fmt.Errorf("publish payload: %w", err)))
		return
	}
	logger.Debug("mod published", zap.String("message_id", id))
}

func (w *Worker) emit(evt progress.Event) {
	evt.RunID = w.runID
	evt.TS = w.clock.Now()
	w.emitter.Emit(evt)
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
