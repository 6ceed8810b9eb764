package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/sauzeros/crs/internal/crs/didyoumean"
)

// normalize handles the two permissive-JSON features jsonc.ToJSON does not
// cover — unquoted keys and single-quoted strings — before handing off to
// jsonc (comments, trailing commas) and then encoding/json. See DESIGN.md
// for the preprocess-then-stdlib-unmarshal pattern this follows.
func normalize(data []byte) []byte {
	var out strings.Builder
	out.Grow(len(data) + 16)

	runes := []rune(string(data))
	n := len(runes)
	i := 0
	for i < n {
		c := runes[i]
		switch {
		case c == '"':
			// Already double-quoted string: copy verbatim, respecting escapes.
			out.WriteRune(c)
			i++
			for i < n && runes[i] != '"' {
				if runes[i] == '\\' && i+1 < n {
					out.WriteRune(runes[i])
					i++
				}
				out.WriteRune(runes[i])
				i++
			}
			if i < n {
				out.WriteRune(runes[i])
				i++
			}
		case c == '\'':
			// Single-quoted string: re-emit as a double-quoted JSON string.
			i++
			var sb strings.Builder
			for i < n && runes[i] != '\'' {
				if runes[i] == '\\' && i+1 < n {
					sb.WriteRune(runes[i])
					i++
				}
				sb.WriteRune(runes[i])
				i++
			}
			if i < n {
				i++
			}
			encoded, _ := json.Marshal(sb.String())
			out.Write(encoded)
		case isIdentStart(c) && precedesUnquotedKey(runes, i):
			start := i
			for i < n && isIdentPart(runes[i]) {
				i++
			}
			encoded, _ := json.Marshal(string(runes[start:i]))
			out.Write(encoded)
		default:
			out.WriteRune(c)
			i++
		}
	}
	return []byte(out.String())
}

func isIdentStart(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c rune) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// precedesUnquotedKey is a shallow heuristic: an identifier run is treated
// as a bare object key only when the immediately preceding non-space rune
// is '{' or ',' (the two contexts a JSON key can start in) and the
// identifier is eventually followed by ':'. We don't need a full
// tokenizer — manifests are small, hand-authored files.
func precedesUnquotedKey(runes []rune, at int) bool {
	j := at - 1
	for j >= 0 && (runes[j] == ' ' || runes[j] == '\t' || runes[j] == '\n' || runes[j] == '\r') {
		j--
	}
	if j < 0 || (runes[j] != '{' && runes[j] != ',') {
		return false
	}
	k := at
	for k < len(runes) && isIdentPart(runes[k]) {
		k++
	}
	for k < len(runes) && (runes[k] == ' ' || runes[k] == '\t' || runes[k] == '\n' || runes[k] == '\r') {
		k++
	}
	return k < len(runes) && runes[k] == ':'
}

// ParsePackage decodes a permissive-JSON package manifest. Unknown keys at
// any mapping level are collected via the walker and reported with
// did-you-mean suggestions rather than silently ignored.
func ParsePackage(data []byte) (*Package, error) {
	clean := jsonc.ToJSON(normalize(data))

	var raw map[string]any
	if err := json.Unmarshal(clean, &raw); err != nil {
		return nil, fmt.Errorf("manifest: invalid JSON after permissive-dialect normalization: %w", err)
	}

	w := newWalker(raw)
	pkg := &Package{Dependencies: make(map[string][]Dependency)}

	pkg.Name = w.stringField("name", true)
	pkg.Metadata, _ = w.field("metadata").(map[string]any)

	if libsRaw, ok := w.field("libraries").([]any); ok {
		for _, entryRaw := range libsRaw {
			entry, ok := entryRaw.(map[string]any)
			if !ok {
				w.errorf("libraries[]: expected an object")
				continue
			}
			pkg.Libraries = append(pkg.Libraries, parseLibrary(w.child("libraries[]", entry)))
		}
	} else if w.has("libraries") {
		w.errorf("libraries: expected an array")
	}

	if depsRaw, ok := w.field("dependencies").(map[string]any); ok {
		for libName, listRaw := range depsRaw {
			list, ok := listRaw.([]any)
			if !ok {
				w.errorf("dependencies.%s: expected an array", libName)
				continue
			}
			var deps []Dependency
			for _, dRaw := range list {
				dMap, ok := dRaw.(map[string]any)
				if !ok {
					w.errorf("dependencies.%s[]: expected an object", libName)
					continue
				}
				deps = append(deps, parseDependency(w.child("dependencies."+libName+"[]", dMap)))
			}
			pkg.Dependencies[libName] = deps
		}
	} else if w.has("dependencies") {
		w.errorf("dependencies: expected an object")
	}

	w.checkKnown("$", []string{"name", "libraries", "dependencies", "metadata"})

	if errs := w.errors(); len(errs) > 0 {
		return nil, fmt.Errorf("manifest: %s", strings.Join(errs, "; "))
	}
	if err := pkg.Validate(); err != nil {
		return nil, err
	}
	return pkg, nil
}

func parseLibrary(w *walker) Library {
	lib := Library{Name: w.stringField("name", true)}
	if usesRaw, ok := w.field("uses").([]any); ok {
		lib.Uses = parseUses(w, "uses", usesRaw)
	}
	if linksRaw, ok := w.field("links").([]any); ok {
		lib.Links = parseUses(w, "links", linksRaw)
	}
	if srcRaw, ok := w.field("sources").([]any); ok {
		for _, s := range srcRaw {
			if str, ok := s.(string); ok {
				lib.Sources = append(lib.Sources, str)
			} else {
				w.errorf("sources[]: expected a string")
			}
		}
	}
	w.checkKnown("libraries[]", []string{"name", "uses", "links", "sources"})
	return lib
}

func parseUses(w *walker, key string, raw []any) []LibraryUse {
	var out []LibraryUse
	for _, entryRaw := range raw {
		entry, ok := entryRaw.(map[string]any)
		if !ok {
			w.errorf("%s[]: expected an object", key)
			continue
		}
		cw := w.child(key+"[]", entry)
		out = append(out, LibraryUse{
			Package: cw.stringField("package", true),
			Library: cw.stringField("library", true),
		})
		cw.checkKnown(key+"[]", []string{"package", "library"})
	}
	return out
}

func parseDependency(w *walker) Dependency {
	d := Dependency{
		Name:  w.stringField("name", true),
		Range: w.stringField("range", true),
	}
	if usingRaw, ok := w.field("using").([]any); ok {
		for _, u := range usingRaw {
			if str, ok := u.(string); ok {
				d.Using = append(d.Using, str)
			} else {
				w.errorf("using[]: expected a string")
			}
		}
	}
	kindStr := strings.ToLower(w.stringField("kind", false))
	if kindStr == "" {
		kindStr = string(KindLib)
	}
	matched := false
	for _, k := range knownKinds {
		if k == kindStr {
			d.Kind = Kind(k)
			matched = true
			break
		}
	}
	if !matched {
		suggestions := didyoumean.Suggestions(kindStr, knownKinds, 1)
		if len(suggestions) > 0 {
			w.errorf("kind: %q is not one of %v (did you mean %q?)", kindStr, knownKinds, suggestions[0])
		} else {
			w.errorf("kind: %q is not one of %v", kindStr, knownKinds)
		}
	}
	w.checkKnown("dependencies.*[]", []string{"name", "range", "using", "kind"})
	return d
}
