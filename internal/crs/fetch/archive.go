package fetch

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"

	"github.com/sauzeros/crs/internal/crs/errs"
)

// extract decompresses and untars archivePath into destDir, selecting a
// codec from archivePath's extension: .tgz/.tar.gz via pgzip (parallel
// gzip), .tar.zst/.tzst via klauspost/compress/zstd, legacy .tar.xz/.txz
// via ulikunitz/xz, and an uncompressed .tar.
func extract(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return errs.WrapKind(errs.KindTransport, err, "fetch: open "+archivePath)
	}
	defer f.Close()

	var r io.Reader
	switch {
	case hasAnySuffix(archivePath, ".tgz", ".tar.gz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errs.WrapKind(errs.KindIntegrity, err, "fetch: open gzip stream")
		}
		defer gz.Close()
		r = gz
	case hasAnySuffix(archivePath, ".tar.zst", ".tzst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return errs.WrapKind(errs.KindIntegrity, err, "fetch: open zstd stream")
		}
		defer zr.Close()
		r = zr
	case hasAnySuffix(archivePath, ".tar.xz", ".txz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return errs.WrapKind(errs.KindIntegrity, err, "fetch: open xz stream")
		}
		r = xr
	case hasAnySuffix(archivePath, ".tar"):
		r = f
	default:
		return errs.New(errs.KindUserInput, "fetch: unrecognized sdist codec in "+archivePath)
	}

	return untar(r, destDir)
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func untar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errs.WrapKind(errs.KindIntegrity, err, "fetch: read tar entry")
		}

		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(filepath.Separator)) && target != filepath.Clean(destDir) {
			return errs.New(errs.KindIntegrity, "fetch: tar entry escapes destination: "+hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errs.WrapKind(errs.KindTransport, err, "fetch: mkdir "+target)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errs.WrapKind(errs.KindTransport, err, "fetch: mkdir "+filepath.Dir(target))
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return errs.WrapKind(errs.KindTransport, err, "fetch: create "+target)
			}
			_, copyErr := io.Copy(out, tr)
			closeErr := out.Close()
			if copyErr != nil {
				return errs.WrapKind(errs.KindTransport, copyErr, "fetch: write "+target)
			}
			if closeErr != nil {
				return errs.WrapKind(errs.KindTransport, closeErr, "fetch: close "+target)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errs.WrapKind(errs.KindTransport, err, "fetch: mkdir "+filepath.Dir(target))
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return errs.WrapKind(errs.KindTransport, err, "fetch: symlink "+target)
			}
		}
	}
}
