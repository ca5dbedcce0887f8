// Package syncer drives the delta-sync state machine that keeps the local
// catalog mirror converged with the remote store.
package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/falconrep/catalog-mirror/internal/progress"
	"github.com/falconrep/catalog-mirror/internal/search"
	"github.com/falconrep/catalog-mirror/internal/store"
	"github.com/falconrep/catalog-mirror/internal/wc"
	"github.com/falconrep/catalog-mirror/pkg/logger"
	"github.com/falconrep/catalog-mirror/pkg/metrics"
)

// WatermarkLayout is the persisted sync-watermark format, also the format the
// remote API uses for GMT modification timestamps.
const WatermarkLayout = "2006-01-02T15:04:05"

const jobName = "catalog_sync"

// Remote is the slice of the catalog API the engine consumes.
type Remote interface {
	Categories(ctx context.Context, page int) ([]wc.Category, error)
	Products(ctx context.Context, page int) ([]wc.Product, error)
	ProductIDs(ctx context.Context, page int) ([]int64, error)
	Variations(ctx context.Context, productID int64) ([]wc.Variation, error)
}

// Engine runs one sync pass at a time. It is not safe for concurrent Run
// calls; the job runner serializes them.
type Engine struct {
	store   *store.Store
	remote  Remote
	bus     *progress.Bus
	logg    *logger.Logger
	metrics *metrics.JobMetrics
	skew    time.Duration

	now func() time.Time
}

func New(st *store.Store, remote Remote, bus *progress.Bus, logg *logger.Logger, m *metrics.JobMetrics, skew time.Duration) *Engine {
	return &Engine{
		store:   st,
		remote:  remote,
		bus:     bus,
		logg:    logg,
		metrics: m,
		skew:    skew,
		now:     time.Now,
	}
}

// Run executes one full pass: categories, products (with variations), zombie
// cleanup when doing a full sync, then the watermark commit. A transport
// error anywhere fails the run without committing; cancellation stops the
// run cleanly, also without committing.
func (e *Engine) Run(ctx context.Context) error {
	started := e.now().UTC()
	ctx = e.logg.WithJob(ctx, jobName)
	defer func(t0 time.Time) {
		e.metrics.ObserveDuration(jobName, time.Since(t0))
	}(time.Now())

	e.publish(progress.PhaseInit, 0, "Checking for updates...")

	fullSync, cutoff := e.syncMode(ctx)
	e.logg.Info(ctx, fmt.Sprintf("sync starting, full=%t", fullSync))

	if err := e.syncCategories(ctx); err != nil {
		return e.fail(ctx, err)
	}
	if stopped := e.stopped(ctx); stopped {
		return e.cancelled(ctx)
	}

	if err := e.syncProducts(ctx, fullSync, cutoff); err != nil {
		return e.fail(ctx, err)
	}
	if stopped := e.stopped(ctx); stopped {
		return e.cancelled(ctx)
	}

	if fullSync {
		e.publish(progress.PhaseZombie, 90, "Cleaning up deleted items...")
		if err := e.cleanZombies(ctx); err != nil {
			return e.fail(ctx, err)
		}
		if stopped := e.stopped(ctx); stopped {
			return e.cancelled(ctx)
		}
	}

	if err := e.store.SetWatermark(ctx, started.Format(WatermarkLayout)); err != nil {
		return e.fail(ctx, err)
	}
	e.metrics.IncSuccess(jobName)
	e.logg.Info(ctx, "sync complete")
	e.bus.Publish(progress.Update{
		Phase:   progress.PhaseCommit,
		Percent: 100,
		Message: "Data Sync Complete",
		Outcome: progress.OutcomeSucceeded,
	})
	return nil
}

// syncMode decides between a delta and a full pass. A missing or unreadable
// watermark, and an empty local catalog, both force a full sync.
func (e *Engine) syncMode(ctx context.Context) (full bool, cutoff time.Time) {
	raw, err := e.store.Watermark(ctx)
	if err != nil || raw == "" {
		return true, time.Time{}
	}
	last, err := time.ParseInLocation(WatermarkLayout, raw, time.UTC)
	if err != nil {
		e.logg.Warn(ctx, fmt.Sprintf("unreadable watermark %q, forcing full sync", raw))
		return true, time.Time{}
	}
	count, err := e.store.GetProductCount(ctx)
	if err != nil || count == 0 {
		return true, time.Time{}
	}
	// The buffer absorbs clock skew between this host and the server.
	return false, last.Add(-e.skew)
}

func (e *Engine) syncCategories(ctx context.Context) error {
	e.publish(progress.PhaseCategories, 10, "Fetching Categories...")

	var observed []int64
	for page := 1; ; page++ {
		cats, err := e.remote.Categories(ctx, page)
		if err != nil {
			return err
		}
		e.metrics.AddPagesFetched(jobName, 1)
		for _, c := range cats {
			if err := e.store.UpsertCategory(ctx, store.Category{
				ID:           c.ID,
				Name:         c.Name,
				Slug:         c.Slug,
				ProductCount: c.Count,
			}); err != nil {
				return err
			}
			observed = append(observed, c.ID)
		}
		if len(cats) < wc.CategoryPageSize {
			break
		}
	}

	e.publish(progress.PhaseCategories, 20, "Fetching Categories...")

	// Pruning requires a complete error-free listing; an empty server result
	// is more likely an upstream fault than a deleted taxonomy, so it never
	// wipes the local set.
	if len(observed) > 0 {
		removed, err := e.store.DeleteCategoriesExcept(ctx, observed)
		if err != nil {
			return err
		}
		if removed > 0 {
			e.logg.Info(ctx, fmt.Sprintf("pruned %d stale categories", removed))
		}
	}
	return nil
}

func (e *Engine) syncProducts(ctx context.Context, fullSync bool, cutoff time.Time) error {
	for page := 1; ; page++ {
		if e.stopped(ctx) {
			return nil
		}
		e.publish(progress.PhaseProducts, productPercent(page), fmt.Sprintf("Syncing Products (Page %d)...", page))

		items, err := e.remote.Products(ctx, page)
		if err != nil {
			return err
		}
		e.metrics.AddPagesFetched(jobName, 1)

		for _, p := range items {
			if e.stopped(ctx) {
				return nil
			}
			// Pages arrive newest-modified first; past the cutoff the rest
			// of the listing is already mirrored.
			if !fullSync && olderThan(p.DateModifiedGMT, cutoff) {
				return nil
			}
			if err := e.syncProduct(ctx, p); err != nil {
				return err
			}
		}
		if len(items) < wc.ProductPageSize {
			return nil
		}
	}
}

func (e *Engine) syncProduct(ctx context.Context, p wc.Product) error {
	cats := make([]search.Category, 0, len(p.Categories))
	for _, c := range p.Categories {
		cats = append(cats, search.Category{ID: c.ID, Name: c.Name})
	}

	up := store.ProductUpsert{
		ID:             p.ID,
		Name:           p.Name,
		SKU:            p.SKU,
		Price:          p.Price,
		Description:    p.Description,
		Type:           p.Type,
		WebImageURLs:   p.ImageURLs(),
		CategoryTokens: search.CategoryTokens(cats),
		Meta:           metaEntries(p.MetaData),
	}
	if err := e.store.UpsertProduct(ctx, up); err != nil {
		return err
	}
	e.metrics.AddItemsUpserted(jobName, 1)

	if p.Type != "variable" {
		return nil
	}
	return e.syncVariations(ctx, p.ID)
}

func (e *Engine) syncVariations(ctx context.Context, productID int64) error {
	vars, err := e.remote.Variations(ctx, productID)
	if err != nil {
		return err
	}

	var min, max decimal.Decimal
	var priced bool
	for _, v := range vars {
		price := store.EffectivePrice(metaEntries(v.MetaData), v.Price)
		if err := e.store.UpsertVariation(ctx, store.Variation{
			ID:          v.ID,
			ParentID:    productID,
			Price:       price,
			Attributes:  flattenAttributes(v.Attributes),
			WebImageURL: v.ImageURL(),
		}); err != nil {
			return err
		}
		e.metrics.AddItemsUpserted(jobName, 1)

		d, err := decimal.NewFromString(price)
		if err != nil {
			continue
		}
		if !priced {
			min, max, priced = d, d, true
			continue
		}
		if d.LessThan(min) {
			min = d
		}
		if d.GreaterThan(max) {
			max = d
		}
	}
	if !priced {
		return nil
	}

	display := min.StringFixed(2) + " - " + max.StringFixed(2)
	if max.Sub(min).LessThan(decimal.NewFromFloat(0.01)) {
		display = min.StringFixed(2)
	}
	return e.store.UpdateProductDisplayPrice(ctx, productID, display)
}

func (e *Engine) cleanZombies(ctx context.Context) error {
	var remote []int64
	for page := 1; ; page++ {
		ids, err := e.remote.ProductIDs(ctx, page)
		if err != nil {
			return err
		}
		e.metrics.AddPagesFetched(jobName, 1)
		remote = append(remote, ids...)
		if len(ids) < wc.IDPageSize {
			break
		}
	}

	// Same gate as category pruning: an empty server listing reads as an
	// upstream fault, not a catalog deleted wholesale.
	if len(remote) == 0 {
		e.logg.Warn(ctx, "empty product id listing, skipping zombie cleanup")
		return nil
	}

	local, err := e.store.GetAllLocalProductIDs(ctx)
	if err != nil {
		return err
	}
	alive := make(map[int64]struct{}, len(remote))
	for _, id := range remote {
		alive[id] = struct{}{}
	}
	var zombies []int64
	for _, id := range local {
		if _, ok := alive[id]; !ok {
			zombies = append(zombies, id)
		}
	}
	if len(zombies) == 0 {
		return nil
	}
	if err := e.store.DeleteProducts(ctx, zombies); err != nil {
		return err
	}
	e.metrics.AddItemsDeleted(jobName, len(zombies))
	e.logg.Info(ctx, fmt.Sprintf("removed %d products deleted upstream", len(zombies)))
	return nil
}

func (e *Engine) publish(phase progress.Phase, percent int, msg string) {
	e.bus.Publish(progress.Update{Phase: phase, Percent: percent, Message: msg})
}

func (e *Engine) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return e.cancelled(ctx)
	}
	e.metrics.IncFailure(jobName)
	e.logg.Error(ctx, "sync failed", err)
	e.bus.Publish(progress.Update{
		Message: "Sync failed",
		Outcome: progress.OutcomeFailed,
		Err:     err.Error(),
	})
	return err
}

// cancelled ends a stopped run without committing the watermark; the next
// pass re-covers whatever this one had done.
func (e *Engine) cancelled(ctx context.Context) error {
	e.logg.Info(ctx, "sync stopped before completion")
	e.bus.Publish(progress.Update{
		Message: "Sync stopped",
		Outcome: progress.OutcomeSucceeded,
	})
	return nil
}

func (e *Engine) stopped(ctx context.Context) bool {
	return ctx.Err() != nil
}

// olderThan reports whether the modification stamp is strictly before the
// cutoff. An unparseable stamp counts as modified so the item is never
// skipped on bad data.
func olderThan(modifiedGMT string, cutoff time.Time) bool {
	t, err := time.ParseInLocation(WatermarkLayout, modifiedGMT, time.UTC)
	if err != nil {
		return false
	}
	return t.Before(cutoff)
}

// productPercent maps the page number into the products slice of the
// progress bar, in steps of ten, without ever claiming completion.
func productPercent(page int) int {
	pct := 30 + (page-1)*10
	if pct > 80 {
		return 80
	}
	return pct
}

func metaEntries(meta []wc.Meta) []store.MetaEntry {
	if len(meta) == 0 {
		return nil
	}
	entries := make([]store.MetaEntry, 0, len(meta))
	for _, m := range meta {
		entries = append(entries, store.MetaEntry{Key: m.Key, Value: m.Value})
	}
	return entries
}

// flattenAttributes renders variation attributes as "Name: Option" pairs for
// the list UI, joined with commas.
func flattenAttributes(attrs []wc.Attribute) string {
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		switch {
		case a.Name != "" && a.Option != "":
			parts = append(parts, a.Name+": "+a.Option)
		case a.Option != "":
			parts = append(parts, a.Option)
		}
	}
	return strings.Join(parts, ", ")
}
