package manifest

import (
	"encoding/json"
	"testing"
)

const samplePermissive = `{
	// permissive dialect: unquoted keys, single-quoted strings, trailing commas.
	name: 'widgets',
	libraries: [
		{
			name: 'core',
			sources: ['src/**/*.cpp'],
		},
	],
	dependencies: {
		core: [
			{ name: 'fmtlib', range: '^9', kind: 'lib' },
		],
	},
}`

func TestParsePackagePermissiveDialect(t *testing.T) {
	pkg, err := ParsePackage([]byte(samplePermissive))
	if err != nil {
		t.Fatalf("ParsePackage: %v", err)
	}
	if pkg.Name != "widgets" {
		t.Fatalf("name = %q, want widgets", pkg.Name)
	}
	if len(pkg.Libraries) != 1 || pkg.Libraries[0].Name != "core" {
		t.Fatalf("unexpected libraries: %+v", pkg.Libraries)
	}
	deps := pkg.Dependencies["core"]
	if len(deps) != 1 || deps[0].Name != "fmtlib" || deps[0].Kind != KindLib {
		t.Fatalf("unexpected dependencies: %+v", deps)
	}
}

func TestParsePackageUnknownKeyDidYouMean(t *testing.T) {
	_, err := ParsePackage([]byte(`{"nam": "widgets", "libraries": [], "dependencies": {}}`))
	if err == nil {
		t.Fatal("expected an error for unknown key 'nam'")
	}
	if got := err.Error(); !contains(got, "did you mean") {
		t.Fatalf("expected a did-you-mean suggestion, got: %s", got)
	}
}

func TestParsePackageInvalidKind(t *testing.T) {
	src := `{"name":"w","libraries":[{"name":"core","sources":[]}],"dependencies":{"core":[{"name":"x","range":"^1","kind":"lbi"}]}}`
	_, err := ParsePackage([]byte(src))
	if err == nil {
		t.Fatal("expected an error for invalid kind 'lbi'")
	}
}

func TestRoundTrip(t *testing.T) {
	pkg, err := ParsePackage([]byte(samplePermissive))
	if err != nil {
		t.Fatalf("ParsePackage: %v", err)
	}
	encoded, err := Serialize(pkg)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	var roundTripped Package
	if err := json.Unmarshal(encoded, &roundTripped); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	reencoded, err := Serialize(&roundTripped)
	if err != nil {
		t.Fatalf("Serialize (2nd pass): %v", err)
	}
	if string(encoded) != string(reencoded) {
		t.Fatalf("round trip not structurally equal:\n%s\nvs\n%s", encoded, reencoded)
	}
}

func TestClassifySource(t *testing.T) {
	cases := []struct {
		path string
		kind SourceKind
		ok   bool
	}{
		{"include/widgets/widget.hpp", SourceHeaderPublic, true},
		{"src/widget.hpp", SourceHeaderPrivate, true},
		{"src/widget.cpp", SourceSource, true},
		{"src/widget.test.cpp", SourceTestSource, true},
		{"src/widget.main.cpp", SourceAppSource, true},
		{"README.md", "", false},
	}
	for _, c := range cases {
		kind, ok := ClassifySource(c.path)
		if ok != c.ok || kind != c.kind {
			t.Errorf("ClassifySource(%q) = (%q, %v), want (%q, %v)", c.path, kind, ok, c.kind, c.ok)
		}
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
