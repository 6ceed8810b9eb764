package manifest

import (
	"fmt"

	"github.com/sauzeros/crs/internal/crs/didyoumean"
)

// walker visits one mapping level of the decoded tree with typed accessors,
// recording per-field errors and the keys actually consulted so
// checkKnown can flag anything left over against a known-keys registry.
// Each manifest field gets its own decode call; dynamic dispatch happens
// only here, at the single entry point per mapping level.
type walker struct {
	path     string
	node     map[string]any
	consumed map[string]bool
	errs     *[]string
}

func newWalker(node map[string]any) *walker {
	var errs []string
	return &walker{path: "$", node: node, consumed: map[string]bool{}, errs: &errs}
}

func (w *walker) child(path string, node map[string]any) *walker {
	return &walker{path: path, node: node, consumed: map[string]bool{}, errs: w.errs}
}

func (w *walker) has(key string) bool {
	_, ok := w.node[key]
	return ok
}

func (w *walker) field(key string) any {
	w.consumed[key] = true
	return w.node[key]
}

func (w *walker) stringField(key string, required bool) string {
	v := w.field(key)
	if v == nil {
		if required {
			w.errorf("%s: missing required field", key)
		}
		return ""
	}
	s, ok := v.(string)
	if !ok {
		w.errorf("%s: expected a string", key)
		return ""
	}
	return s
}

func (w *walker) errorf(format string, args ...any) {
	*w.errs = append(*w.errs, fmt.Sprintf(w.path+": "+format, args...))
}

func (w *walker) errors() []string {
	return *w.errs
}

// checkKnown reports any key present in the node but never consumed via
// field/stringField, with a did-you-mean suggestion against known.
func (w *walker) checkKnown(context string, known []string) {
	for key := range w.node {
		if w.consumed[key] {
			continue
		}
		suggestions := didyoumean.Suggestions(key, known, 1)
		if len(suggestions) > 0 {
			w.errorf("%s: unknown key %q (did you mean %q?)", context, key, suggestions[0])
		} else {
			w.errorf("%s: unknown key %q", context, key)
		}
	}
}
