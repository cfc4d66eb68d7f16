// Package ipgeo resolves IP addresses to approximate coordinates using a
// MaxMind City MMDB file.
package ipgeo

import (
	"net/netip"

	"github.com/oschwald/maxminddb-golang/v2"

	"github.com/maruel/selfiegram/internal/models"
)

// Locator resolves IP addresses to coordinates.
type Locator struct {
	reader *maxminddb.Reader
}

// Open opens an MMDB file for city lookups.
func Open(dbPath string) (*Locator, error) {
	r, err := maxminddb.Open(dbPath)
	if err != nil {
		return nil, err
	}
	return &Locator{reader: r}, nil
}

// Close releases the MMDB reader resources.
func (l *Locator) Close() error {
	return l.reader.Close()
}

// cityRecord is the minimal struct for MMDB location lookups.
type cityRecord struct {
	Location struct {
		Latitude  *float64 `maxminddb:"latitude"`
		Longitude *float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// isLocal reports whether addr can never be geolocated.
func isLocal(addr netip.Addr) bool {
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsMulticast()
}

// Locate returns the coordinate of ipStr.
// Returns false for invalid, loopback, private and unspecified IPs, and when
// the database has no location for the address.
func (l *Locator) Locate(ipStr string) (*models.Coordinate, bool) {
	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return nil, false
	}
	addr = addr.Unmap()
	if isLocal(addr) || l == nil || l.reader == nil {
		return nil, false
	}
	res := l.reader.Lookup(addr)
	if !res.Found() {
		return nil, false
	}
	var rec cityRecord
	if err := res.Decode(&rec); err != nil {
		return nil, false
	}
	if rec.Location.Latitude == nil || rec.Location.Longitude == nil {
		return nil, false
	}
	c := &models.Coordinate{Latitude: *rec.Location.Latitude, Longitude: *rec.Location.Longitude}
	if c.Validate() != nil {
		return nil, false
	}
	return c, true
}
