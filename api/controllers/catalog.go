package controllers

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/falconrep/catalog-mirror/api/responses"
	"github.com/falconrep/catalog-mirror/internal/blob"
	"github.com/falconrep/catalog-mirror/internal/store"
	pkgerrors "github.com/falconrep/catalog-mirror/pkg/errors"
	"github.com/falconrep/catalog-mirror/pkg/logger"
)

type productResponse struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	SKU             string   `json:"sku,omitempty"`
	Price           string   `json:"price"`
	WholesalePrice  string   `json:"wholesale_price,omitempty"`
	DisplayPrice    string   `json:"display_price"`
	Description     string   `json:"description,omitempty"`
	Type            string   `json:"type"`
	Images          []string `json:"images"`
	PrimaryImage    string   `json:"primary_image,omitempty"`
	PrimaryImageURL string   `json:"primary_image_url,omitempty"`
	Offline         bool     `json:"offline"`
}

type variationResponse struct {
	ID         int64  `json:"id"`
	Price      string `json:"price"`
	Attributes string `json:"attributes,omitempty"`
	Image      string `json:"image,omitempty"`
}

type productDetailResponse struct {
	productResponse
	Variations []variationResponse `json:"variations,omitempty"`
}

type categoryResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug,omitempty"`
	ProductCount int64  `json:"product_count"`
}

// toProductResponse renders a mirrored product. Image entries are blob names
// resolvable through the images endpoint; a product with no valid blobs
// reports empty images and offline=false.
func toProductResponse(cache *blob.Cache, p store.Product) productResponse {
	images := make([]string, 0, len(p.LocalImagePaths))
	for _, path := range p.LocalImagePaths {
		if blob.ValidPath(path) {
			images = append(images, filepath.Base(path))
		}
	}
	out := productResponse{
		ID:             p.ID,
		Name:           p.Name,
		SKU:            p.SKU,
		Price:          p.Price,
		WholesalePrice: p.WholesalePrice,
		DisplayPrice:   p.DisplayPrice,
		Description:    p.Description,
		Type:           p.Type,
		Images:         images,
		Offline:        len(images) > 0,
	}

	// Stored paths are hints. A stale row may miss a blob that exists under
	// the predictive name; fall back to it, then to the remote URL.
	switch {
	case len(images) > 0:
		out.PrimaryImage = images[0]
	default:
		if path, ok := cache.LookupProductImage(p.ID, 0); ok {
			out.PrimaryImage = filepath.Base(path)
		} else {
			out.PrimaryImageURL = p.FirstWebImageURL()
		}
	}
	return out
}

// ListProducts searches the mirror. An empty q browses the catalog;
// category_id scopes either mode to one category.
func ListProducts(st *store.Store, cache *blob.Cache, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")

		var categoryID int64
		if raw := r.URL.Query().Get("category_id"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed <= 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid category_id %q", raw))
				return
			}
			categoryID = parsed
		}

		products, err := st.SearchProducts(r.Context(), query, categoryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]productResponse, 0, len(products))
		for _, p := range products {
			out = append(out, toProductResponse(cache, p))
		}
		responses.WriteSuccess(w, out)
	}
}

// GetProduct returns one product with its variations.
func GetProduct(st *store.Store, cache *blob.Cache, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid product id"))
			return
		}

		p, err := st.GetProductByID(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		variations, err := st.GetVariationsForProduct(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		detail := productDetailResponse{productResponse: toProductResponse(cache, *p)}
		for _, v := range variations {
			vr := variationResponse{ID: v.ID, Price: v.Price, Attributes: v.Attributes}
			if blob.ValidPath(v.LocalImagePath) {
				vr.Image = filepath.Base(v.LocalImagePath)
			}
			detail.Variations = append(detail.Variations, vr)
		}
		responses.WriteSuccess(w, detail)
	}
}

// ListCategories returns the taxonomy ordered by display name.
func ListCategories(st *store.Store, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cats, err := st.GetAllCategories(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]categoryResponse, 0, len(cats))
		for _, c := range cats {
			out = append(out, categoryResponse{
				ID:           c.ID,
				Name:         c.Name,
				Slug:         c.Slug,
				ProductCount: c.ProductCount,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
