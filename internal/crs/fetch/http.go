package fetch

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/exec"

	"github.com/sauzeros/crs/internal/crs/errs"
)

// downloadHTTP tries curl, then wget, then falls back to net/http, each
// tier a strictly worse UI than the last but strictly more portable.
// Every tier runs non-interactively (no progress passthrough to a
// terminal it doesn't own) since a fetch can be one of several running
// concurrently under the executor's worker pool.
func (f *Fetcher) downloadHTTP(ctx context.Context, url, destPath string) error {
	if path, err := exec.LookPath("curl"); err == nil {
		if err := runQuiet(ctx, path, "-L", "--fail", "-o", destPath, url); err == nil {
			return nil
		}
	}
	if path, err := exec.LookPath("wget"); err == nil {
		if err := runQuiet(ctx, path, "-q", "-O", destPath, url); err == nil {
			return nil
		}
	}
	return f.downloadNative(ctx, url, destPath)
}

func runQuiet(ctx context.Context, path string, args ...string) error {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run()
}

// downloadNative retries the whole request-response-copy sequence on a
// transport error, with exponential backoff between attempts — each
// retry re-issues the request and re-creates destPath from scratch, since
// a short HTTP body can't be resumed mid-copy without range support.
func (f *Fetcher) downloadNative(ctx context.Context, url, destPath string) error {
	return f.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return errs.WrapKind(errs.KindTransport, err, "fetch: build request for "+url)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return errs.WrapKind(errs.KindTransport, err, "fetch: GET "+url)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return errs.New(errs.KindTransport, "fetch: "+url+" returned "+resp.Status)
		}

		out, err := os.Create(destPath)
		if err != nil {
			return errs.WrapKind(errs.KindTransport, err, "fetch: create "+destPath)
		}
		defer out.Close()

		if _, err := copyWithOptionalProgress(f, out, resp.Body, resp.ContentLength, url); err != nil {
			return errs.WrapKind(errs.KindTransport, err, "fetch: write "+destPath)
		}
		return nil
	})
}

// downloadFile is Download's file:// case: a plain copy of the local file
// to destPath. Fetcher.Populate does not use it; for a file:// sdist it
// hashes and expands the local archive in place.
func downloadFile(rest, destPath string) error {
	srcPath := stripSlashes(rest)
	in, err := os.Open(srcPath)
	if err != nil {
		return errs.WrapKind(errs.KindTransport, err, "fetch: open file:// source "+srcPath)
	}
	defer in.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return errs.WrapKind(errs.KindTransport, err, "fetch: create "+destPath)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errs.WrapKind(errs.KindTransport, err, "fetch: copy file:// source")
	}
	return nil
}

func stripSlashes(s string) string {
	i := 0
	for i < len(s) && s[i] == '/' {
		i++
	}
	if i >= 2 {
		return "/" + s[i:]
	}
	return s
}
