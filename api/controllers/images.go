package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/falconrep/catalog-mirror/api/responses"
	"github.com/falconrep/catalog-mirror/internal/blob"
	pkgerrors "github.com/falconrep/catalog-mirror/pkg/errors"
	"github.com/falconrep/catalog-mirror/pkg/logger"
)

// ServeImage streams a cached blob by name. A miss on a current-scheme
// product name probes the legacy scheme before giving up, so databases
// written by earlier releases keep rendering. Names are flat; anything that
// looks like a path escapes the cache directory and is rejected.
func ServeImage(cache *blob.Cache, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid image name"))
			return
		}

		path, ok := cache.Lookup(name)
		if !ok && strings.HasPrefix(name, "prod_") {
			path, ok = cache.Lookup("img_" + strings.TrimPrefix(name, "prod_"))
		}
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Newf(pkgerrors.CodeNotFound, "image %s not cached", name))
			return
		}
		http.ServeFile(w, r, path)
	}
}
