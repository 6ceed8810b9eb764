package fetch

import (
	"archive/tar"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/sauzeros/crs/internal/crs/errs"
)

// Pack creates a .tar.zst sdist at destPath from every file under srcDir.
// It tries the system tar binary first (it compresses and walks faster
// on a large source tree), falling back to an internal archive/tar +
// zstd writer when tar isn't on PATH or refuses the run.
func Pack(srcDir, destPath string) error {
	if path, err := exec.LookPath("tar"); err == nil {
		cmd := exec.Command(path, "--zstd", "-cf", destPath, "-C", srcDir, ".")
		if err := cmd.Run(); err == nil {
			return nil
		}
		os.Remove(destPath)
	}
	return packInternal(srcDir, destPath)
}

func packInternal(srcDir, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return errs.WrapKind(errs.KindTransport, err, "fetch: create "+destPath)
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out)
	if err != nil {
		return errs.WrapKind(errs.KindInternal, err, "fetch: open zstd writer")
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return err
		}
		if rel == "." {
			hdr.Name = "./"
		} else {
			hdr.Name = filepath.ToSlash(rel)
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if rel == "." || !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return errs.WrapKind(errs.KindTransport, err, "fetch: pack "+srcDir)
	}
	return nil
}
