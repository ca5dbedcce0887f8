package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/falconrep/catalog-mirror/internal/progress"
	"github.com/falconrep/catalog-mirror/internal/store"
	"github.com/falconrep/catalog-mirror/internal/wc"
	"github.com/falconrep/catalog-mirror/pkg/config"
	"github.com/falconrep/catalog-mirror/pkg/logger"
)

var testDBSeq atomic.Int64

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:synctest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	s, err := store.Open(context.Background(), dsn, testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "synctest", Output: io.Discard})
}

// catalogServer fakes the remote catalog API. Every listing fits on one page.
type catalogServer struct {
	categories []wc.Category
	products   []wc.Product
	ids        []int64
	variations map[int64][]wc.Variation

	failProducts bool
	idRequests   atomic.Int64

	srv *httptest.Server
}

func newCatalogServer(t *testing.T) *catalogServer {
	t.Helper()
	cs := &catalogServer{variations: map[int64][]wc.Variation{}}
	cs.srv = httptest.NewServer(http.HandlerFunc(cs.handle))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *catalogServer) handle(w http.ResponseWriter, r *http.Request) {
	page := r.URL.Query().Get("page")
	later := page != "" && page != "1"

	switch {
	case strings.HasSuffix(r.URL.Path, "/products/categories"):
		if later {
			writeJSON(w, []wc.Category{})
			return
		}
		writeJSON(w, cs.categories)

	case strings.Contains(r.URL.Path, "/variations"):
		var productID int64
		fmt.Sscanf(r.URL.Path, "/products/%d/variations", &productID)
		writeJSON(w, cs.variations[productID])

	case strings.HasSuffix(r.URL.Path, "/products"):
		if r.URL.Query().Get("fields") == "id" {
			cs.idRequests.Add(1)
			if later {
				writeJSON(w, []map[string]int64{})
				return
			}
			out := make([]map[string]int64, 0, len(cs.ids))
			for _, id := range cs.ids {
				out = append(out, map[string]int64{"id": id})
			}
			writeJSON(w, out)
			return
		}
		if cs.failProducts {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
			return
		}
		if later {
			writeJSON(w, []wc.Product{})
			return
		}
		writeJSON(w, cs.products)

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (cs *catalogServer) client() *wc.Client {
	return wc.NewClient(config.RemoteConfig{
		BaseURL:        cs.srv.URL + "/",
		ConsumerKey:    "ck_test",
		ConsumerSecret: "cs_test",
		UserAgent:      "synctest/1.0",
		Timeout:        5 * time.Second,
	})
}

func newEngine(st *store.Store, cs *catalogServer, bus *progress.Bus) *Engine {
	return New(st, cs.client(), bus, testLogger(), nil, 10*time.Minute)
}

// drainBus reads every pending update and returns the terminal one.
func drainBus(t *testing.T, bus *progress.Bus) progress.Update {
	t.Helper()
	closed := make(chan struct{})
	close(closed)
	var last progress.Update
	var sawTerminal bool
	for {
		u, ok := bus.Next(closed)
		if !ok {
			break
		}
		last = u
		sawTerminal = sawTerminal || u.Terminal()
	}
	if !sawTerminal {
		t.Fatalf("no terminal update published, last was %+v", last)
	}
	return last
}

func modifiedStamp(t time.Time) string {
	return t.UTC().Format(WatermarkLayout)
}

func TestFullSyncPopulatesEmptyMirror(t *testing.T) {
	st := newTestStore(t)
	cs := newCatalogServer(t)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	cs.categories = []wc.Category{{ID: 7, Name: "Pens", Slug: "pens", Count: 2}}
	cs.products = []wc.Product{
		{
			ID: 1, Name: "Blue Pencil", SKU: "BP-01", Price: "10.00", Type: "simple",
			DateModifiedGMT: modifiedStamp(now.Add(-time.Hour)),
			Images:          []wc.Image{{Src: "https://img/p1.jpg"}},
			Categories:      []wc.CategoryRef{{ID: 7, Name: "Pens"}},
		},
		{
			ID: 2, Name: "Fancy Pen", Price: "0", Type: "variable",
			DateModifiedGMT: modifiedStamp(now.Add(-2 * time.Hour)),
		},
	}
	cs.ids = []int64{1, 2}
	cs.variations[2] = []wc.Variation{
		{ID: 21, Price: "8.00", Attributes: []wc.Attribute{{Name: "Color", Option: "Red"}}},
		{ID: 22, Price: "12.00", Attributes: []wc.Attribute{{Name: "Color", Option: "Blue"}}},
	}

	bus := progress.NewBus()
	eng := newEngine(st, cs, bus)
	eng.now = func() time.Time { return now }

	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	ctx := context.Background()
	p, err := st.GetProductByID(ctx, 1)
	if err != nil {
		t.Fatalf("product 1: %v", err)
	}
	if !p.NeedsImageSync || p.FirstWebImageURL() != "https://img/p1.jpg" {
		t.Fatalf("product 1 not flagged for images: %+v", p)
	}

	parent, err := st.GetProductByID(ctx, 2)
	if err != nil {
		t.Fatalf("product 2: %v", err)
	}
	if parent.DisplayPrice != "8.00 - 12.00" {
		t.Fatalf("display price = %q", parent.DisplayPrice)
	}
	vars, err := st.GetVariationsForProduct(ctx, 2)
	if err != nil || len(vars) != 2 {
		t.Fatalf("variations: %v %v", vars, err)
	}
	if vars[0].Attributes != "Color: Red" {
		t.Fatalf("attributes = %q", vars[0].Attributes)
	}

	cats, err := st.GetAllCategories(ctx)
	if err != nil || len(cats) != 1 || cats[0].Name != "Pens" {
		t.Fatalf("categories: %v %v", cats, err)
	}

	wm, err := st.Watermark(ctx)
	if err != nil || wm != now.Format(WatermarkLayout) {
		t.Fatalf("watermark = %q, err %v", wm, err)
	}

	u := drainBus(t, bus)
	if u.Outcome != progress.OutcomeSucceeded || u.Percent != 100 || u.Message != "Data Sync Complete" {
		t.Fatalf("terminal update = %+v", u)
	}
}

func TestDeltaSyncStopsAtCutoff(t *testing.T) {
	st := newTestStore(t)
	cs := newCatalogServer(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	// An existing catalog and readable watermark select the delta path.
	seed := store.ProductUpsert{ID: 100, Name: "Old Friend", Price: "1.00", Type: "simple"}
	if err := st.UpsertProduct(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.SetWatermark(ctx, now.Add(-time.Hour).Format(WatermarkLayout)); err != nil {
		t.Fatalf("watermark: %v", err)
	}

	// Cutoff is watermark minus the ten minute skew buffer: 10:50.
	cs.products = []wc.Product{
		{ID: 201, Name: "Fresh", Price: "2.00", Type: "simple", DateModifiedGMT: modifiedStamp(now.Add(-5 * time.Minute))},
		{ID: 202, Name: "Bad Stamp", Price: "2.00", Type: "simple", DateModifiedGMT: "not-a-date"},
		{ID: 203, Name: "Stale", Price: "2.00", Type: "simple", DateModifiedGMT: modifiedStamp(now.Add(-3 * time.Hour))},
		{ID: 204, Name: "Never Reached", Price: "2.00", Type: "simple", DateModifiedGMT: modifiedStamp(now.Add(-4 * time.Hour))},
	}
	cs.ids = []int64{201}

	bus := progress.NewBus()
	eng := newEngine(st, cs, bus)
	eng.now = func() time.Time { return now }

	if err := eng.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := st.GetProductByID(ctx, 201); err != nil {
		t.Fatalf("fresh product missing: %v", err)
	}
	if _, err := st.GetProductByID(ctx, 202); err != nil {
		t.Fatalf("unparseable stamp must still sync: %v", err)
	}
	if _, err := st.GetProductByID(ctx, 204); err == nil {
		t.Fatal("scan should stop at the cutoff")
	}

	// Delta passes never run zombie cleanup.
	if _, err := st.GetProductByID(ctx, 100); err != nil {
		t.Fatalf("delta sync must not delete local products: %v", err)
	}
	if cs.idRequests.Load() != 0 {
		t.Fatalf("id listing fetched %d times during delta sync", cs.idRequests.Load())
	}
}

func TestFullSyncRemovesZombies(t *testing.T) {
	st := newTestStore(t)
	cs := newCatalogServer(t)
	ctx := context.Background()

	gone := store.ProductUpsert{ID: 900, Name: "Zombie", Price: "1.00", Type: "simple"}
	if err := st.UpsertProduct(ctx, gone); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.UpsertVariation(ctx, store.Variation{ID: 901, ParentID: 900, Price: "1.00"}); err != nil {
		t.Fatalf("seed variation: %v", err)
	}

	cs.products = []wc.Product{
		{ID: 1, Name: "Alive", Price: "3.00", Type: "simple", DateModifiedGMT: "2026-08-30T10:00:00"},
	}
	cs.ids = []int64{1}

	bus := progress.NewBus()
	if err := newEngine(st, cs, bus).Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := st.GetProductByID(ctx, 900); err == nil {
		t.Fatal("zombie survived full sync")
	}
	vars, err := st.GetVariationsForProduct(ctx, 900)
	if err != nil || len(vars) != 0 {
		t.Fatalf("zombie variations survived: %v %v", vars, err)
	}
	if _, err := st.GetProductByID(ctx, 1); err != nil {
		t.Fatalf("live product missing: %v", err)
	}
}

func TestEmptyIDListingSkipsZombieCleanup(t *testing.T) {
	st := newTestStore(t)
	cs := newCatalogServer(t)
	ctx := context.Background()

	keeper := store.ProductUpsert{ID: 99, Name: "Keeper", Price: "1.00", Type: "simple"}
	if err := st.UpsertProduct(ctx, keeper); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// An unreadable watermark forces the full path, which is the only one
	// that runs cleanup.
	if err := st.SetWatermark(ctx, "not-a-date"); err != nil {
		t.Fatalf("watermark: %v", err)
	}
	cs.ids = nil

	bus := progress.NewBus()
	if err := newEngine(st, cs, bus).Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := st.GetProductByID(ctx, 99); err != nil {
		t.Fatalf("empty id listing must not wipe the mirror: %v", err)
	}
	if cs.idRequests.Load() == 0 {
		t.Fatal("full sync should have fetched the id listing")
	}
}

func TestProductPercentStepsByTens(t *testing.T) {
	cases := map[int]int{1: 30, 2: 40, 3: 50, 6: 80, 9: 80}
	for page, want := range cases {
		if got := productPercent(page); got != want {
			t.Fatalf("page %d percent = %d, want %d", page, got, want)
		}
	}
}

func TestEmptyCategoryListingDoesNotPrune(t *testing.T) {
	st := newTestStore(t)
	cs := newCatalogServer(t)
	ctx := context.Background()

	if err := st.UpsertCategory(ctx, store.Category{ID: 7, Name: "Pens"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cs.ids = []int64{}

	bus := progress.NewBus()
	if err := newEngine(st, cs, bus).Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	cats, err := st.GetAllCategories(ctx)
	if err != nil || len(cats) != 1 {
		t.Fatalf("empty listing wiped categories: %v %v", cats, err)
	}
}

func TestTransportErrorFailsWithoutCommit(t *testing.T) {
	st := newTestStore(t)
	cs := newCatalogServer(t)
	cs.failProducts = true

	bus := progress.NewBus()
	err := newEngine(st, cs, bus).Run(context.Background())
	if err == nil {
		t.Fatal("expected run to fail")
	}

	wm, werr := st.Watermark(context.Background())
	if werr != nil || wm != "" {
		t.Fatalf("failed run must not commit a watermark, got %q", wm)
	}

	u := drainBus(t, bus)
	if u.Outcome != progress.OutcomeFailed || u.Err == "" {
		t.Fatalf("terminal update = %+v", u)
	}
}

func TestCancellationStopsCleanlyWithoutCommit(t *testing.T) {
	st := newTestStore(t)
	cs := newCatalogServer(t)
	cs.products = []wc.Product{
		{ID: 1, Name: "Alive", Price: "3.00", Type: "simple", DateModifiedGMT: "2026-08-30T10:00:00"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bus := progress.NewBus()
	if err := newEngine(st, cs, bus).Run(ctx); err != nil {
		t.Fatalf("cancelled run must not report an error: %v", err)
	}

	wm, err := st.Watermark(context.Background())
	if err != nil || wm != "" {
		t.Fatalf("cancelled run must not commit a watermark, got %q", wm)
	}

	u := drainBus(t, bus)
	if u.Outcome != progress.OutcomeSucceeded || u.Message != "Sync stopped" {
		t.Fatalf("terminal update = %+v", u)
	}
}

func TestVariationDisplayPriceCollapsesNearEqualRange(t *testing.T) {
	st := newTestStore(t)
	cs := newCatalogServer(t)
	ctx := context.Background()

	cs.products = []wc.Product{
		{ID: 5, Name: "Uniform", Price: "0", Type: "variable", DateModifiedGMT: "2026-08-30T10:00:00"},
	}
	cs.ids = []int64{5}
	cs.variations[5] = []wc.Variation{
		{ID: 51, Price: "10.00"},
		{ID: 52, Price: "10.00"},
	}

	bus := progress.NewBus()
	if err := newEngine(st, cs, bus).Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	p, err := st.GetProductByID(ctx, 5)
	if err != nil {
		t.Fatalf("product: %v", err)
	}
	if p.DisplayPrice != "10.00" {
		t.Fatalf("display price = %q, want collapsed single value", p.DisplayPrice)
	}
}

func TestVariationWholesaleMetaOverridesPrice(t *testing.T) {
	st := newTestStore(t)
	cs := newCatalogServer(t)
	ctx := context.Background()

	cs.products = []wc.Product{
		{ID: 6, Name: "Bulk Pen", Price: "0", Type: "variable", DateModifiedGMT: "2026-08-30T10:00:00"},
	}
	cs.ids = []int64{6}
	cs.variations[6] = []wc.Variation{
		{ID: 61, Price: "20.00", MetaData: []wc.Meta{{Key: "b2b_price", Value: "15.00"}}},
	}

	bus := progress.NewBus()
	if err := newEngine(st, cs, bus).Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	vars, err := st.GetVariationsForProduct(ctx, 6)
	if err != nil || len(vars) != 1 {
		t.Fatalf("variations: %v %v", vars, err)
	}
	if vars[0].Price != "15.00" {
		t.Fatalf("variation price = %q, want wholesale override", vars[0].Price)
	}
	p, err := st.GetProductByID(ctx, 6)
	if err != nil || p.DisplayPrice != "15.00" {
		t.Fatalf("display price = %q, err %v", p.DisplayPrice, err)
	}
}
