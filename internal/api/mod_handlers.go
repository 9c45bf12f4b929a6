package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/moditems-crawler/internal/crawler"
	"github.com/JakeFAU/moditems-crawler/internal/store"
)

const (
	maxModLimit  = 1000
	storeTimeout = 3 * time.Second
)

// ModHandler exposes read-only views over the persisted mods.
type ModHandler struct {
	reader  StoreReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewModHandler wires the reader and logger.
func NewModHandler(reader StoreReader, logger *zap.Logger) *ModHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModHandler{
		reader:  reader,
		timeout: storeTimeout,
		logger:  logger,
	}
}

// ListMods handles GET /v1/mods?limit=&offset=. It returns
// {"total": N, "mods": [{"mod_name": ..., "items": N}]} in store order, 400
// for invalid paging, 503 when no reader is configured, or 500 when the
// document cannot be read.
func (h *ModHandler) ListMods(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.load(w, r)
	if !ok {
		return
	}
	limit, offset, err := parseLimitOffset(r, len(doc.Mods), maxModLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total": len(doc.Mods),
		"mods":  toModSummaries(page(doc.Mods, limit, offset)),
	})
}

// GetMod handles GET /v1/mods/{name}. It returns the stored ModRecord or 404
// when the name was never persisted.
func (h *ModHandler) GetMod(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	doc, ok := h.load(w, r)
	if !ok {
		return
	}
	mod, found := store.Find(doc, name)
	if !found {
		writeError(w, http.StatusNotFound, "mod not found")
		return
	}
	writeJSON(w, http.StatusOK, mod)
}

func (h *ModHandler) load(w http.ResponseWriter, r *http.Request) (crawler.Store, bool) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return crawler.Store{}, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	doc, err := h.reader.Read(ctx)
	if err != nil {
		h.logger.Error("read store failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read store")
		return crawler.Store{}, false
	}
	return doc, true
}

// parseLimitOffset reads paging parameters. def applies when limit is absent.
func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func page(mods []crawler.ModRecord, limit, offset int) []crawler.ModRecord {
	if offset >= len(mods) {
		return nil
	}
	end := offset + limit
	if end > len(mods) {
		end = len(mods)
	}
	return mods[offset:end]
}

func toModSummaries(in []crawler.ModRecord) []modSummary {
	out := make([]modSummary, 0, len(in))
	for _, mod := range in {
		out = append(out, modSummary{ModName: mod.ModName, Items: len(mod.Items)})
	}
	return out
}

type modSummary struct {
	ModName string `json:"mod_name"`
	Items   int    `json:"items"`
}
