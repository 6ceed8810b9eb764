// Package fetch is crs's transport layer: download a URL — http(s)://,
// file://, s3://, or r2:// — to a local path, and decode the sdist
// archive format it names. Grounded on fetch.go's downloadFileWithOptions
// (subprocess-first, net/http fallback) and r2.go's NewR2Client (S3-
// compatible object storage), generalized from a single foreground
// download to one safe for concurrent callers under the executor's
// worker pool.
package fetch

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"path"
	"sync"
	"time"

	"github.com/sauzeros/crs/internal/crs/errs"
	"github.com/sauzeros/crs/internal/crs/store"
)

// Options configures a Fetcher. Values carries config.Config.Values
// verbatim, so remote credentials (e.g. r2_account_id) read straight out
// of the same key/value settings everything else in crs configures from.
type Options struct {
	Values map[string]string
	// Quiet suppresses progress bar output, for fetches driven by a
	// background prefetch pool rather than an interactive command.
	Quiet bool
	// MaxRetries bounds the number of retries after a transport error,
	// not counting the first attempt. Zero means the default of 3.
	MaxRetries int
	// BaseDelay is the first retry's backoff; each subsequent retry
	// doubles it. Zero means a 500ms default.
	BaseDelay time.Duration
}

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 500 * time.Millisecond
)

// Fetcher downloads remote sdists and repo catalog snapshots.
type Fetcher struct {
	opts   Options
	client *http.Client

	mu      sync.Mutex
	s3conns map[string]*s3Client // keyed by scheme ("s3" or "r2")
}

// New builds a Fetcher. The native net/http client carries a generous
// overall timeout since sdists can be large; per-attempt cancellation is
// the caller's ctx, not this timeout.
func New(opts Options) *Fetcher {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.BaseDelay == 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	return &Fetcher{
		opts: opts,
		client: &http.Client{
			Timeout: 10 * time.Minute,
		},
		s3conns: map[string]*s3Client{},
	}
}

// withRetry runs attempt up to f.opts.MaxRetries times past the first
// try, backing off exponentially with jitter between tries. A hash
// mismatch or any other non-transport failure is the caller's to
// classify — withRetry only wraps transport paths (HTTP, S3) that fail
// transiently, grounded on the same bounded exponential-backoff shape
// used by package-registry artifact fetchers in the wild.
func (f *Fetcher) withRetry(ctx context.Context, attempt func() error) error {
	var lastErr error
	for try := 0; try <= f.opts.MaxRetries; try++ {
		if try > 0 {
			delay := f.opts.BaseDelay * time.Duration(uint64(1)<<uint(try-1))
			jitter := time.Duration(float64(delay) * 0.1 * rand.Float64())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay + jitter):
			}
		}
		if err := attempt(); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

// Download fetches url to destPath, dispatching on scheme. destPath's
// parent directory must already exist; Download creates destPath itself.
func (f *Fetcher) Download(ctx context.Context, url, destPath string) error {
	scheme, rest := splitScheme(url)
	switch scheme {
	case "file":
		return downloadFile(rest, destPath)
	case "http", "https":
		return f.downloadHTTP(ctx, url, destPath)
	case "s3", "r2":
		return f.downloadS3(ctx, scheme, rest, destPath)
	default:
		return errs.New(errs.KindUserInput, "fetch: unsupported URL scheme in "+url)
	}
}

// FetchCatalog implements index.CatalogFetcher: download remoteURL's
// repo.db snapshot to a fresh temp file and hand back its path plus a
// cleanup func that removes it.
func (f *Fetcher) FetchCatalog(ctx context.Context, remoteURL string) (string, func(), error) {
	tmp, err := os.CreateTemp("", "crs-catalog-*.db")
	if err != nil {
		return "", nil, errs.WrapKind(errs.KindTransport, err, "fetch: create temp file for catalog")
	}
	path := tmp.Name()
	tmp.Close()

	cleanup := func() { os.Remove(path) }
	if err := f.Download(ctx, remoteURL, path); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

// FetchCatalogSignature downloads remoteURL+".sig" (the detached
// signature published alongside a signed repo.db) to a temp file. A
// remote that publishes no signature is not a transport error the
// caller must treat specially here — index.Sync already succeeded, so
// the caller decides whether to require one.
func (f *Fetcher) FetchCatalogSignature(ctx context.Context, remoteURL string) (string, func(), error) {
	tmp, err := os.CreateTemp("", "crs-catalog-sig-*")
	if err != nil {
		return "", nil, errs.WrapKind(errs.KindTransport, err, "fetch: create temp file for catalog signature")
	}
	path := tmp.Name()
	tmp.Close()

	cleanup := func() { os.Remove(path) }
	if err := f.Download(ctx, remoteURL+".sig", path); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

// Populate returns a store.Populate that downloads url, verifies its
// content hash against expectedHash (skipped if expectedHash is empty),
// and extracts it into tmpDir. Plugs directly into store.Store.Get.
//
// file:// skips the download and temp-file stage entirely: the sdist
// already sits on local disk, so Populate hashes and expands it in place
// from its real path rather than copying it to a temp file first.
func (f *Fetcher) Populate(url, expectedHash string) store.Populate {
	return func(ctx context.Context, tmpDir string) error {
		if scheme, rest := splitScheme(url); scheme == "file" {
			return populateFromLocalPath(stripSlashes(rest), url, expectedHash, tmpDir)
		}

		// Keep the URL's file name as the suffix: extract picks its codec
		// from the archive path's extension.
		tmp, err := os.CreateTemp("", "crs-sdist-*-"+path.Base(url))
		if err != nil {
			return errs.WrapKind(errs.KindTransport, err, "fetch: create temp file for sdist")
		}
		archivePath := tmp.Name()
		tmp.Close()
		defer os.Remove(archivePath)

		if err := f.Download(ctx, url, archivePath); err != nil {
			return err
		}

		if expectedHash != "" {
			got, err := store.HashFile(archivePath)
			if err != nil {
				return errs.WrapKind(errs.KindIntegrity, err, "fetch: hash downloaded sdist")
			}
			if got != expectedHash {
				return errs.New(errs.KindIntegrity, "fetch: content hash mismatch for "+url+": got "+got+", want "+expectedHash)
			}
		}

		return extract(archivePath, tmpDir)
	}
}

func populateFromLocalPath(srcPath, url, expectedHash, tmpDir string) error {
	if expectedHash != "" {
		got, err := store.HashFile(srcPath)
		if err != nil {
			return errs.WrapKind(errs.KindIntegrity, err, "fetch: hash local sdist")
		}
		if got != expectedHash {
			return errs.New(errs.KindIntegrity, "fetch: content hash mismatch for "+url+": got "+got+", want "+expectedHash)
		}
	}
	return extract(srcPath, tmpDir)
}

func splitScheme(url string) (scheme, rest string) {
	for i := 0; i < len(url); i++ {
		if url[i] == ':' {
			return url[:i], url[i+1:]
		}
	}
	return "", url
}
