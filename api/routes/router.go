// Package routes assembles the read-only HTTP surface of the mirror.
package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/falconrep/catalog-mirror/api/controllers"
	"github.com/falconrep/catalog-mirror/api/middleware"
	"github.com/falconrep/catalog-mirror/internal/blob"
	"github.com/falconrep/catalog-mirror/internal/progress"
	"github.com/falconrep/catalog-mirror/internal/store"
	"github.com/falconrep/catalog-mirror/pkg/config"
	"github.com/falconrep/catalog-mirror/pkg/logger"
)

// RouterParams carry everything the routes need. SubmitSync queues a manual
// catalog refresh; the job runner behind it supersedes any run in flight.
type RouterParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	Store      *store.Store
	Blobs      *blob.Cache
	Bus        *progress.Bus
	SubmitSync func()
	Metrics    prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
	)

	r.Get("/healthz", controllers.Healthz(p.Config))
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/products", controllers.ListProducts(p.Store, p.Blobs, p.Logger))
		r.Get("/products/{id}", controllers.GetProduct(p.Store, p.Blobs, p.Logger))
		r.Get("/categories", controllers.ListCategories(p.Store, p.Logger))
		r.Get("/status", controllers.Status(p.Store, p.Bus, p.Logger))
		r.Get("/images/{name}", controllers.ServeImage(p.Blobs, p.Logger))
		if p.SubmitSync != nil {
			r.Post("/sync", controllers.TriggerSync(p.SubmitSync, p.Logger))
		}
	})

	return r
}
