package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/maruel/selfiegram/internal/errors"
	"github.com/maruel/selfiegram/internal/storage"
	"github.com/maruel/selfiegram/internal/utils"
)

// maxImageBody caps uploaded images.
const maxImageBody = 32 << 20

// ImageHandler serves and stores the image attached to a record. Bodies are
// raw image bytes, not JSON.
type ImageHandler struct {
	store *storage.RecordStore
}

// NewImageHandler creates a new image handler.
func NewImageHandler(store *storage.RecordStore) *ImageHandler {
	return &ImageHandler{store: store}
}

// GetImage writes the stored JPEG.
func (h *ImageHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r.PathValue("id"))
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	data, ok := h.store.Blobs().ReadBytes(id)
	if !ok {
		utils.RespondErr(w, apierrors.NotFound("image"))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// PutImage replaces the image of an existing record. Any format the codec
// can decode is accepted; it is stored as JPEG.
func (h *ImageHandler) PutImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := ParseID(r.PathValue("id"))
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	if !h.store.Exists(id) {
		utils.RespondErr(w, apierrors.NotFound("record"))
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageBody))
	if err != nil {
		utils.RespondError(w, http.StatusRequestEntityTooLarge, "Image is too large", apierrors.KindValidation)
		return
	}
	if len(data) == 0 {
		utils.RespondErr(w, apierrors.MissingField("image"))
		return
	}
	if err := h.store.Blobs().SetBytes(id, data); err != nil {
		slog.ErrorContext(ctx, "Failed to store image", "id", id, "err", err)
		utils.RespondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteImage removes the image of a record. Removing an absent image
// succeeds.
func (h *ImageHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := ParseID(r.PathValue("id"))
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	if err := h.store.Blobs().Set(id, nil); err != nil {
		slog.ErrorContext(ctx, "Failed to delete image", "id", id, "err", err)
		utils.RespondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
