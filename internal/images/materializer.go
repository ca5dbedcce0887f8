// Package images materializes remote product and variation images into the
// local blob cache so the catalog renders fully offline.
package images

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/falconrep/catalog-mirror/internal/blob"
	"github.com/falconrep/catalog-mirror/internal/progress"
	"github.com/falconrep/catalog-mirror/internal/store"
	"github.com/falconrep/catalog-mirror/pkg/logger"
	"github.com/falconrep/catalog-mirror/pkg/metrics"
)

const jobName = "image_materializer"

const (
	connectTimeout = 15 * time.Second
	readTimeout    = 30 * time.Second
)

// Materializer drains the dirty sets left behind by a sync pass: every
// product and variation flagged for image sync gets its blobs downloaded,
// then the flag is cleared. A failed download still clears the flag; the
// next sync of that row re-flags it, so failures retry without ever wedging
// the worker in a loop.
type Materializer struct {
	store   *store.Store
	cache   *blob.Cache
	bus     *progress.Bus
	logg    *logger.Logger
	metrics *metrics.JobMetrics
	http    *http.Client
	agent   string
}

func New(st *store.Store, cache *blob.Cache, bus *progress.Bus, logg *logger.Logger, m *metrics.JobMetrics, userAgent string) *Materializer {
	return &Materializer{
		store:   st,
		cache:   cache,
		bus:     bus,
		logg:    logg,
		metrics: m,
		agent:   userAgent,
		http: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
	}
}

// Run processes every flagged product and variation. Cancellation between
// items stops the pass; unfinished rows stay flagged for the next one.
func (m *Materializer) Run(ctx context.Context) error {
	ctx = m.logg.WithJob(ctx, jobName)
	defer func(t0 time.Time) {
		m.metrics.ObserveDuration(jobName, time.Since(t0))
	}(time.Now())

	products, err := m.store.ProductsNeedingImageSync(ctx)
	if err != nil {
		return m.fail(ctx, err)
	}
	variations, err := m.store.VariationsNeedingImageSync(ctx)
	if err != nil {
		return m.fail(ctx, err)
	}

	total := len(products) + len(variations)
	if total == 0 {
		m.bus.Publish(progress.Update{
			Phase:   progress.PhaseImages,
			Percent: 100,
			Message: "Images up to date",
			Outcome: progress.OutcomeSucceeded,
		})
		return nil
	}
	m.logg.Info(ctx, fmt.Sprintf("materializing images for %d rows", total))

	done := 0
	for _, p := range products {
		if ctx.Err() != nil {
			return m.stopped(ctx)
		}
		if err := m.materializeProduct(ctx, p); err != nil {
			return m.fail(ctx, err)
		}
		done++
		m.report(done, total)
	}
	for _, v := range variations {
		if ctx.Err() != nil {
			return m.stopped(ctx)
		}
		if err := m.materializeVariation(ctx, v); err != nil {
			return m.fail(ctx, err)
		}
		done++
		m.report(done, total)
	}

	m.metrics.IncSuccess(jobName)
	m.bus.Publish(progress.Update{
		Phase:   progress.PhaseImages,
		Percent: 100,
		Message: "Images up to date",
		Outcome: progress.OutcomeSucceeded,
	})
	return nil
}

// materializeProduct downloads each of the product's images that is not
// already cached, writes the path list back, and clears the flag. A failed
// download drops that url from the path list rather than failing the row.
func (m *Materializer) materializeProduct(ctx context.Context, p store.Product) error {
	paths := make([]string, 0, len(p.WebImageURLs))
	for i, url := range p.WebImageURLs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path, ok := m.cache.LookupProductImage(p.ID, i); ok {
			paths = append(paths, path)
			continue
		}
		path, err := m.download(ctx, url, blob.ProductImageName(p.ID, i))
		if err != nil {
			m.metrics.IncImageFailure()
			m.logg.Warn(ctx, fmt.Sprintf("image download failed for product %d: %v", p.ID, err))
			continue
		}
		m.metrics.IncImageDownloaded()
		paths = append(paths, path)
	}

	if err := m.store.UpdateLocalImagePaths(ctx, p.ID, paths); err != nil {
		return err
	}
	return m.store.MarkProductImageSynced(ctx, p.ID)
}

func (m *Materializer) materializeVariation(ctx context.Context, v store.Variation) error {
	if v.WebImageURL != "" {
		name := blob.VariationImageName(v.ParentID, v.ID)
		path, ok := m.cache.Lookup(name)
		if !ok {
			var err error
			path, err = m.download(ctx, v.WebImageURL, name)
			if err != nil {
				m.metrics.IncImageFailure()
				m.logg.Warn(ctx, fmt.Sprintf("image download failed for variation %d: %v", v.ID, err))
				path = ""
			} else {
				m.metrics.IncImageDownloaded()
			}
		}
		if path != "" {
			if err := m.store.UpdateVariationImagePath(ctx, v.ID, path); err != nil {
				return err
			}
		}
	}
	return m.store.MarkVariationImageSynced(ctx, v.ID)
}

// download streams the image body straight into the blob cache. Non-2xx
// responses are discarded without writing a blob.
func (m *Materializer) download(ctx context.Context, url, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", m.agent)

	resp, err := m.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("image fetch %s returned %d", url, resp.StatusCode)
	}
	return m.cache.Put(name, resp.Body)
}

// report publishes progress every couple of items so a burst of tiny
// downloads does not flood the bus.
func (m *Materializer) report(done, total int) {
	if done%2 != 0 && done != total {
		return
	}
	pct := done * 100 / total
	m.bus.Publish(progress.Update{
		Phase:   progress.PhaseImages,
		Percent: pct,
		Message: fmt.Sprintf("Downloading images (%d/%d)", done, total),
	})
}

func (m *Materializer) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return m.stopped(ctx)
	}
	m.metrics.IncFailure(jobName)
	m.logg.Error(ctx, "image materialization failed", err)
	m.bus.Publish(progress.Update{
		Phase:   progress.PhaseImages,
		Message: "Image sync failed",
		Outcome: progress.OutcomeFailed,
		Err:     err.Error(),
	})
	return err
}

func (m *Materializer) stopped(ctx context.Context) error {
	m.logg.Info(ctx, "image materialization stopped before completion")
	m.bus.Publish(progress.Update{
		Phase:   progress.PhaseImages,
		Message: "Image sync stopped",
		Outcome: progress.OutcomeSucceeded,
	})
	return nil
}
