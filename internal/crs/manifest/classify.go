package manifest

import (
	"path"
	"strings"
)

var headerExts = map[string]bool{".h": true, ".hpp": true, ".hxx": true}
var sourceExts = map[string]bool{".c": true, ".cpp": true, ".cxx": true, ".cc": true}

// ClassifySource infers a SourceKind from a library-relative path:
// include/** headers are public, src/** headers are private, src/**
// sources are source/test-source/app-source depending on stem suffix.
func ClassifySource(relPath string) (SourceKind, bool) {
	ext := path.Ext(relPath)
	top := firstComponent(relPath)

	switch top {
	case "include":
		if headerExts[ext] {
			return SourceHeaderPublic, true
		}
		return "", false
	case "src":
		if headerExts[ext] {
			return SourceHeaderPrivate, true
		}
		if sourceExts[ext] {
			stem := strings.TrimSuffix(path.Base(relPath), ext)
			switch {
			case strings.HasSuffix(stem, ".test"):
				return SourceTestSource, true
			case strings.HasSuffix(stem, ".main"):
				return SourceAppSource, true
			default:
				return SourceSource, true
			}
		}
		return "", false
	default:
		return "", false
	}
}

func firstComponent(relPath string) string {
	relPath = strings.TrimPrefix(relPath, "./")
	if i := strings.IndexByte(relPath, '/'); i >= 0 {
		return relPath[:i]
	}
	return relPath
}
