package controllers

import (
	"net/http"

	"github.com/falconrep/catalog-mirror/api/responses"
	"github.com/falconrep/catalog-mirror/internal/progress"
	"github.com/falconrep/catalog-mirror/internal/store"
	"github.com/falconrep/catalog-mirror/pkg/logger"
)

type statusResponse struct {
	ProductCount      int64         `json:"product_count"`
	OfflineReadyCount int64         `json:"offline_ready_count"`
	LastSync          string        `json:"last_sync,omitempty"`
	Sync              *syncProgress `json:"sync,omitempty"`
}

type syncProgress struct {
	Phase   string `json:"phase,omitempty"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Status reports mirror freshness and the latest background job snapshot.
func Status(st *store.Store, bus *progress.Bus, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := st.GetProductCount(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ready, err := st.GetOfflineReadyCount(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		watermark, err := st.Watermark(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := statusResponse{
			ProductCount:      count,
			OfflineReadyCount: ready,
			LastSync:          watermark,
		}
		if u, ok := bus.Latest(); ok {
			out.Sync = &syncProgress{
				Phase:   string(u.Phase),
				Percent: u.Percent,
				Message: u.Message,
				Outcome: string(u.Outcome),
				Error:   u.Err,
			}
		}
		responses.WriteSuccess(w, out)
	}
}

// TriggerSync queues a catalog refresh, superseding any run in flight.
func TriggerSync(submit func(), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submit()
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}
