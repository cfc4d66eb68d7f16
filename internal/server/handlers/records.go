package handlers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/maruel/ksid"

	apierrors "github.com/maruel/selfiegram/internal/errors"
	"github.com/maruel/selfiegram/internal/models"
	"github.com/maruel/selfiegram/internal/storage"
	"github.com/maruel/selfiegram/internal/utils"
)

// maxTitleLength bounds record titles accepted over HTTP.
const maxTitleLength = 256

// Locator resolves a client IP to a coordinate.
type Locator interface {
	Locate(ip string) (*models.Coordinate, bool)
}

// RecordHandler handles record related HTTP requests.
type RecordHandler struct {
	store   *storage.RecordStore
	locator Locator
}

// NewRecordHandler creates a new record handler. locator may be nil.
func NewRecordHandler(store *storage.RecordStore, locator Locator) *RecordHandler {
	return &RecordHandler{store: store, locator: locator}
}

// ListRecordsRequest is the request for listing records.
type ListRecordsRequest struct{}

// ListRecordsResponse is the response for listing records.
type ListRecordsResponse struct {
	Records []*models.Record `json:"records"`
}

// RecordRequest identifies one record.
type RecordRequest struct {
	ID string `path:"id" json:"-"`
}

// CreateRecordRequest is the request for creating a record.
type CreateRecordRequest struct {
	Title    string             `json:"title"`
	Position *models.Coordinate `json:"position,omitempty"`
}

// UpdateRecordRequest is the request for updating a record. Nil fields are
// left unchanged.
type UpdateRecordRequest struct {
	ID       string             `path:"id" json:"-"`
	Title    *string            `json:"title,omitempty"`
	Position *models.Coordinate `json:"position,omitempty"`
}

// DeleteRecordResponse is the response for deleting a record.
type DeleteRecordResponse struct {
	Deleted bool `json:"deleted"`
}

// ListRecords returns every readable record, oldest first.
func (h *RecordHandler) ListRecords(ctx context.Context, req ListRecordsRequest) (*ListRecordsResponse, error) {
	records, err := h.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return &ListRecordsResponse{Records: records}, nil
}

// GetRecord returns one record.
func (h *RecordHandler) GetRecord(ctx context.Context, req RecordRequest) (*models.Record, error) {
	id, err := ParseID(req.ID)
	if err != nil {
		return nil, err
	}
	r, ok := h.store.Load(ctx, id)
	if !ok {
		return nil, apierrors.NotFound("record")
	}
	return r, nil
}

// CreateRecord creates and saves a new record. When no position is given,
// the client IP is geolocated if a locator is configured. Forwarding headers
// only count toward the client IP when the server trusts its proxy.
func (h *RecordHandler) CreateRecord(ctx context.Context, req CreateRecordRequest) (*models.Record, error) {
	title := strings.TrimSpace(req.Title)
	if len(title) > maxTitleLength {
		return nil, apierrors.BadRequest("title is too long")
	}
	if req.Position != nil {
		if err := req.Position.Validate(); err != nil {
			return nil, apierrors.BadRequest(err.Error())
		}
	}
	r := models.NewRecord(title)
	r.Position = req.Position
	if r.Position == nil && h.locator != nil {
		if c, ok := h.locator.Locate(utils.ClientIP(ctx)); ok {
			r.Position = c
		}
	}
	if err := h.store.Save(ctx, r); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Created record", "id", r.ID, "title", r.Title)
	return r, nil
}

// UpdateRecord changes the title or position of an existing record.
func (h *RecordHandler) UpdateRecord(ctx context.Context, req UpdateRecordRequest) (*models.Record, error) {
	id, err := ParseID(req.ID)
	if err != nil {
		return nil, err
	}
	r, ok := h.store.Load(ctx, id)
	if !ok {
		return nil, apierrors.NotFound("record")
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, apierrors.MissingField("title")
		}
		if len(title) > maxTitleLength {
			return nil, apierrors.BadRequest("title is too long")
		}
		r.Title = title
	}
	if req.Position != nil {
		if err := req.Position.Validate(); err != nil {
			return nil, apierrors.BadRequest(err.Error())
		}
		r.Position = req.Position
	}
	if err := h.store.Save(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteRecord removes a record and its image. Deleting an absent record
// succeeds.
func (h *RecordHandler) DeleteRecord(ctx context.Context, req RecordRequest) (*DeleteRecordResponse, error) {
	id, err := ParseID(req.ID)
	if err != nil {
		return nil, err
	}
	existed := h.store.Exists(id)
	if err := h.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	return &DeleteRecordResponse{Deleted: existed}, nil
}

// ParseID validates a record ID from a URL and returns its canonical form.
func ParseID(s string) (string, error) {
	id, err := ksid.Parse(s)
	if err != nil || id.IsZero() {
		return "", apierrors.BadRequest("invalid record id")
	}
	return id.String(), nil
}
