package models

import (
	"encoding/json"
	"math"
	"testing"
)

func TestNewRecord(t *testing.T) {
	r1 := NewRecord("beach")
	r2 := NewRecord("")
	if r1.ID.IsZero() || r2.ID.IsZero() {
		t.Fatal("NewRecord returned zero ID")
	}
	if r1.ID == r2.ID {
		t.Error("NewRecord returned duplicate IDs")
	}
	if r2.Title != DefaultTitle {
		t.Errorf("Title = %q, want %q", r2.Title, DefaultTitle)
	}
	if err := r1.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestRecordClone(t *testing.T) {
	r := NewRecord("x")
	r.Position = &Coordinate{Latitude: 1, Longitude: 2}
	c := r.Clone()
	c.Position.Latitude = 10
	c.Title = "y"
	if r.Position.Latitude != 1 || r.Title != "x" {
		t.Error("Clone shares state with original")
	}
}

func TestCoordinateValidate(t *testing.T) {
	tests := []struct {
		c    Coordinate
		want bool
	}{
		{Coordinate{0, 0}, true},
		{Coordinate{-90, 180}, true},
		{Coordinate{91, 0}, false},
		{Coordinate{0, -181}, false},
		{Coordinate{math.NaN(), 0}, false},
	}
	for _, tt := range tests {
		if got := tt.c.Validate() == nil; got != tt.want {
			t.Errorf("%+v.Validate() ok = %v, want %v", tt.c, got, tt.want)
		}
	}
}

func TestManifestJSON(t *testing.T) {
	data := []byte(`[{"icon":"a.png","leftImage":"b.png","rightImage":"c.png"},{"icon":"d.png","leftImage":"b.png","rightImage":"e.png"}]`)
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	want := []string{"a.png", "b.png", "c.png", "d.png", "b.png", "e.png"}
	got := m.Assets()
	if len(got) != len(want) {
		t.Fatalf("Assets() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Assets()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestManifestClone(t *testing.T) {
	var nilManifest Manifest
	if c := nilManifest.Clone(); c == nil || len(c) != 0 {
		t.Errorf("Clone of nil = %v, want empty non-nil", c)
	}
	if c := (Manifest{}).Clone(); c == nil {
		t.Error("Clone of empty manifest is nil")
	}
	if data, err := json.Marshal(Manifest{}.Clone()); err != nil || string(data) != "[]" {
		t.Errorf("Clone of empty manifest encodes as %s, %v; want []", data, err)
	}
	m := Manifest{{Icon: "a"}}
	c := m.Clone()
	c[0].Icon = "b"
	if m[0].Icon != "a" {
		t.Error("Clone shares backing array")
	}
}
