package models

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schema returns the indented JSON Schema of the named document type:
// "record" or "manifest".
func Schema(name string) ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	var s *jsonschema.Schema
	switch name {
	case "record":
		s = r.Reflect(&Record{})
	case "manifest":
		s = r.Reflect(Manifest{})
	default:
		return nil, fmt.Errorf("unknown schema %q, want record or manifest", name)
	}
	return json.MarshalIndent(s, "", "  ")
}
