package server

import (
	"net/http"

	"github.com/maruel/selfiegram/internal/overlay"
	"github.com/maruel/selfiegram/internal/server/handlers"
	"github.com/maruel/selfiegram/internal/storage"
)

// Config holds what the router serves.
type Config struct {
	Records *storage.RecordStore
	Client  *overlay.ManifestClient
	Syncer  *overlay.Synchronizer
	// SyncLog and Locator are optional.
	SyncLog *storage.JSONLTable[overlay.Stats]
	Locator handlers.Locator
	Version string
	// TrustProxy honours X-Forwarded-For and X-Real-IP. Only set it when the
	// server sits behind a reverse proxy that overwrites these headers.
	TrustProxy bool
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *Config) http.Handler {
	mux := http.NewServeMux()

	recordHandler := handlers.NewRecordHandler(cfg.Records, cfg.Locator)
	imageHandler := handlers.NewImageHandler(cfg.Records)
	overlayHandler := handlers.NewOverlayHandler(cfg.Client, cfg.Syncer, cfg.SyncLog)
	healthHandler := handlers.NewHealthHandler(cfg.Version)

	mux.Handle("GET /api/health", Wrap(healthHandler.Health))

	// Records
	mux.Handle("GET /api/records", Wrap(recordHandler.ListRecords))
	mux.Handle("POST /api/records", WrapStatus(http.StatusCreated, recordHandler.CreateRecord))
	mux.Handle("GET /api/records/{id}", Wrap(recordHandler.GetRecord))
	mux.Handle("PUT /api/records/{id}", Wrap(recordHandler.UpdateRecord))
	mux.Handle("DELETE /api/records/{id}", Wrap(recordHandler.DeleteRecord))

	// Images
	mux.HandleFunc("GET /api/records/{id}/image", imageHandler.GetImage)
	mux.HandleFunc("PUT /api/records/{id}/image", imageHandler.PutImage)
	mux.HandleFunc("DELETE /api/records/{id}/image", imageHandler.DeleteImage)

	// Overlays
	mux.Handle("GET /api/overlays", Wrap(overlayHandler.ListOverlays))
	mux.Handle("POST /api/overlays/sync", Wrap(overlayHandler.Sync))
	mux.HandleFunc("GET /api/overlays/assets/{name}", overlayHandler.ServeAsset)

	return RequestMiddleware(mux, cfg.TrustProxy)
}
