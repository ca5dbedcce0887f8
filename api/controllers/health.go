package controllers

import (
	"net/http"

	"github.com/falconrep/catalog-mirror/api/responses"
	"github.com/falconrep/catalog-mirror/pkg/config"
)

func Healthz(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-FalconMirror-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}
