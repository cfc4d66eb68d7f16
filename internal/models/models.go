// Package models defines the core data structures used throughout the application.
package models

import (
	"fmt"
	"math"
	"time"

	"github.com/maruel/ksid"
)

// DefaultTitle is the title given to a record created without one.
const DefaultTitle = "New Selfie!"

// Record is the persisted metadata of one captured photo.
//
// ID and Created are assigned by NewRecord and never change afterward. The
// image bytes are not part of the record; they live in the blob store under
// the same ID.
type Record struct {
	ID       ksid.ID     `json:"id" jsonschema:"description=Unique record identifier"`
	Created  time.Time   `json:"created" jsonschema:"description=Creation time"`
	Title    string      `json:"title" jsonschema:"description=User visible title"`
	Position *Coordinate `json:"position,omitempty" jsonschema:"description=Where the photo was taken"`
}

// NewRecord returns a record with a fresh ID and the current time.
func NewRecord(title string) *Record {
	if title == "" {
		title = DefaultTitle
	}
	return &Record{
		ID:      ksid.NewID(),
		Created: time.Now().UTC(),
		Title:   title,
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	if r.Position != nil {
		p := *r.Position
		c.Position = &p
	}
	return &c
}

// Validate checks that the record can be persisted.
func (r *Record) Validate() error {
	if r.ID.IsZero() {
		return fmt.Errorf("id is required")
	}
	if r.Created.IsZero() {
		return fmt.Errorf("created is required")
	}
	if r.Position != nil {
		return r.Position.Validate()
	}
	return nil
}

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude" jsonschema:"minimum=-90,maximum=90"`
	Longitude float64 `json:"longitude" jsonschema:"minimum=-180,maximum=180"`
}

// Validate checks that the coordinate is on the globe.
func (c *Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range", c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range", c.Longitude)
	}
	return nil
}

// ManifestEntry names the three assets that make up one overlay.
type ManifestEntry struct {
	Icon       string `json:"icon" jsonschema:"description=Preview icon asset name"`
	LeftAsset  string `json:"leftImage" jsonschema:"description=Left overlay asset name"`
	RightAsset string `json:"rightImage" jsonschema:"description=Right overlay asset name"`
}

// Names returns the entry's asset names in icon, left, right order.
func (e ManifestEntry) Names() [3]string {
	return [3]string{e.Icon, e.LeftAsset, e.RightAsset}
}

// Manifest is the ordered list of overlays published by the remote server.
type Manifest []ManifestEntry

// Assets flattens every entry's asset names in order. Duplicates are kept.
func (m Manifest) Assets() []string {
	out := make([]string, 0, 3*len(m))
	for _, e := range m {
		n := e.Names()
		out = append(out, n[:]...)
	}
	return out
}

// Clone returns a copy of the manifest.
func (m Manifest) Clone() Manifest {
	c := make(Manifest, len(m))
	copy(c, m)
	return c
}
