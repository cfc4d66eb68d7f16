package handlers

import (
	"context"
	"net/http"
	"os"

	apierrors "github.com/maruel/selfiegram/internal/errors"
	"github.com/maruel/selfiegram/internal/models"
	"github.com/maruel/selfiegram/internal/overlay"
	"github.com/maruel/selfiegram/internal/storage"
	"github.com/maruel/selfiegram/internal/utils"
)

// OverlayHandler exposes the overlay manifest and its synchronization.
type OverlayHandler struct {
	client *overlay.ManifestClient
	syncer *overlay.Synchronizer
	log    *storage.JSONLTable[overlay.Stats]
}

// NewOverlayHandler creates a new overlay handler. log may be nil.
func NewOverlayHandler(client *overlay.ManifestClient, syncer *overlay.Synchronizer, log *storage.JSONLTable[overlay.Stats]) *OverlayHandler {
	return &OverlayHandler{client: client, syncer: syncer, log: log}
}

// ListOverlaysRequest is the request for listing overlays.
type ListOverlaysRequest struct {
	// All includes entries whose assets are not cached yet.
	All bool `query:"all" json:"-"`
}

// ListOverlaysResponse is the response for listing overlays.
type ListOverlaysResponse struct {
	Source   string                 `json:"source"`
	Overlays []models.ManifestEntry `json:"overlays"`
	LastSync *overlay.Stats         `json:"lastSync,omitempty"`
}

// SyncRequest is the request for synchronizing overlay assets.
type SyncRequest struct {
	Refresh bool `json:"refresh"`
}

// ListOverlays returns the overlays ready to use, or every manifest entry
// with ?all=true.
func (h *OverlayHandler) ListOverlays(ctx context.Context, req ListOverlaysRequest) (*ListOverlaysResponse, error) {
	var entries []models.ManifestEntry
	if req.All {
		entries = h.client.Current()
	} else {
		entries = h.client.Available()
	}
	if entries == nil {
		entries = []models.ManifestEntry{}
	}
	resp := &ListOverlaysResponse{Source: h.client.Source().String(), Overlays: entries}
	if h.log != nil {
		if st, ok := h.log.Last(); ok {
			resp.LastSync = &st
		}
	}
	return resp, nil
}

// Sync downloads every asset and reports the outcome. Individual failures
// are counted, never returned as an error.
func (h *OverlayHandler) Sync(ctx context.Context, req SyncRequest) (*overlay.Stats, error) {
	st := h.syncer.SynchronizeWait(ctx, req.Refresh)
	return &st, nil
}

// ServeAsset writes a cached overlay asset.
func (h *OverlayHandler) ServeAsset(w http.ResponseWriter, r *http.Request) {
	p, err := h.client.CachedPath(r.PathValue("name"))
	if err != nil {
		utils.RespondErr(w, apierrors.BadRequest("invalid asset name"))
		return
	}
	if fi, err := os.Stat(p); err != nil || !fi.Mode().IsRegular() {
		utils.RespondErr(w, apierrors.NotFound("asset"))
		return
	}
	http.ServeFile(w, r, p)
}
