package models

import (
	"encoding/json"
	"testing"
)

func TestSchema(t *testing.T) {
	t.Run("Record", func(t *testing.T) {
		data, err := Schema("record")
		if err != nil {
			t.Fatal(err)
		}
		var s struct {
			Type       string                     `json:"type"`
			Properties map[string]json.RawMessage `json:"properties"`
			Required   []string                   `json:"required"`
		}
		if err := json.Unmarshal(data, &s); err != nil {
			t.Fatal(err)
		}
		if s.Type != "object" {
			t.Errorf("type = %q", s.Type)
		}
		for _, k := range []string{"id", "created", "title", "position"} {
			if _, ok := s.Properties[k]; !ok {
				t.Errorf("missing property %q", k)
			}
		}
		for _, k := range s.Required {
			if k == "position" {
				t.Error("position should be optional")
			}
		}
	})

	t.Run("Manifest", func(t *testing.T) {
		data, err := Schema("manifest")
		if err != nil {
			t.Fatal(err)
		}
		var s struct {
			Type  string `json:"type"`
			Items struct {
				Properties map[string]json.RawMessage `json:"properties"`
			} `json:"items"`
		}
		if err := json.Unmarshal(data, &s); err != nil {
			t.Fatal(err)
		}
		if s.Type != "array" {
			t.Errorf("type = %q", s.Type)
		}
		for _, k := range []string{"icon", "leftImage", "rightImage"} {
			if _, ok := s.Items.Properties[k]; !ok {
				t.Errorf("missing item property %q", k)
			}
		}
	})

	if _, err := Schema("bogus"); err == nil {
		t.Error("expected error for unknown schema")
	}
}
