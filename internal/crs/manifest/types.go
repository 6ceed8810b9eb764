// Package manifest defines the package and library manifest data model and
// a permissive-JSON parser that decodes them with a typed walker over a
// known-keys registry, reporting unknown keys with did-you-mean
// suggestions.
package manifest

import "fmt"

// Kind of a dependency expression.
type Kind string

const (
	KindLib  Kind = "lib"
	KindTest Kind = "test"
	KindApp  Kind = "app"
)

var knownKinds = []string{string(KindLib), string(KindTest), string(KindApp)}

// SourceKind classifies a source file by path prefix/suffix.
type SourceKind string

const (
	SourceHeaderPublic  SourceKind = "header-public"
	SourceHeaderPrivate SourceKind = "header-private"
	SourceSource        SourceKind = "source"
	SourceTestSource    SourceKind = "test-source"
	SourceAppSource     SourceKind = "app-source"
)

// Dependency is a dependency expression: (name, version-range, using, kind).
type Dependency struct {
	Name  string   `json:"name"`
	Range string   `json:"range"`
	Using []string `json:"using,omitempty"`
	Kind  Kind     `json:"kind"`
}

// LibraryUse is a (pkg-name, lib-name) pair, as used by a library's `uses`
// and `links` sets.
type LibraryUse struct {
	Package string `json:"package"`
	Library string `json:"library"`
}

// Library is a library manifest: belongs to a library inside a package.
type Library struct {
	Name    string       `json:"name"`
	Uses    []LibraryUse `json:"uses,omitempty"`
	Links   []LibraryUse `json:"links,omitempty"`
	Sources []string     `json:"sources"` // source globs, relative to the library root
}

// Package is a package manifest: belongs to one package ID.
type Package struct {
	Name         string                `json:"name"`
	Libraries    []Library             `json:"libraries"`
	Dependencies map[string][]Dependency `json:"dependencies"` // keyed by library name
	Metadata     map[string]any        `json:"metadata,omitempty"`
}

// LibraryNames returns the set of library names this package declares.
func (p *Package) LibraryNames() map[string]bool {
	out := make(map[string]bool, len(p.Libraries))
	for _, l := range p.Libraries {
		out[l.Name] = true
	}
	return out
}

// Validate checks that every library name is unique, that dependencies
// are keyed by a declared library, and that every dependency kind is
// valid. It does not check `using` sets against the libraries a
// dependency's package provides.
func (p *Package) Validate() error {
	seen := make(map[string]bool, len(p.Libraries))
	for _, l := range p.Libraries {
		if seen[l.Name] {
			return fmt.Errorf("manifest: duplicate library name %q in package %q", l.Name, p.Name)
		}
		seen[l.Name] = true
	}
	for libName, deps := range p.Dependencies {
		if !seen[libName] {
			return fmt.Errorf("manifest: dependencies listed for unknown library %q in package %q", libName, p.Name)
		}
		for _, d := range deps {
			if d.Kind != KindLib && d.Kind != KindTest && d.Kind != KindApp {
				return fmt.Errorf("manifest: dependency %q of library %q has invalid kind %q (want one of %v)", d.Name, libName, d.Kind, knownKinds)
			}
		}
	}
	return nil
}
