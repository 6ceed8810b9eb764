package manifest

import "encoding/json"

// Serialize re-encodes a Package as canonical JSON. Combined with
// ParsePackage, parsing then re-serializing a manifest yields a
// structurally equal manifest, because Package is a plain typed struct
// round-tripped through encoding/json rather than the dynamic tree the
// permissive parser consumes.
func Serialize(p *Package) ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}
