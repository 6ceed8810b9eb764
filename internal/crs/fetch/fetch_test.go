package fetch

import (
	"archive/tar"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/pgzip"

	"github.com/sauzeros/crs/internal/crs/store"
)

func TestDownloadFileScheme(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := New(Options{})
	dest := filepath.Join(dir, "dest.txt")
	if err := f.Download(context.Background(), "file://"+src, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestDownloadHTTPFallsBackToNativeClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	// curl/wget may or may not be on PATH in the test environment; either
	// path should produce the same bytes on disk.
	f := New(Options{Quiet: true})
	dest := filepath.Join(t.TempDir(), "out")
	if err := f.Download(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q, want %q", got, "payload")
	}
}

func TestDownloadNativeRetriesTransportErrors(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("eventually"))
	}))
	defer srv.Close()

	f := New(Options{Quiet: true, BaseDelay: time.Millisecond})
	dest := filepath.Join(t.TempDir(), "out")
	if err := f.downloadNative(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("downloadNative: %v", err)
	}
	if requests != 3 {
		t.Fatalf("got %d requests, want 3 (2 failures + 1 success)", requests)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "eventually" {
		t.Fatalf("got %q, want %q", got, "eventually")
	}
}

func TestDownloadNativeGivesUpAfterMaxRetries(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := New(Options{Quiet: true, MaxRetries: 2, BaseDelay: time.Millisecond})
	dest := filepath.Join(t.TempDir(), "out")
	if err := f.downloadNative(context.Background(), srv.URL, dest); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if requests != 3 {
		t.Fatalf("got %d requests, want 3 (1 try + 2 retries)", requests)
	}
}

func TestFetchCatalogSignatureDownloadsSigSuffix(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "repo.db")
	if err := os.WriteFile(src+".sig", []byte("deadbeef"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := New(Options{})
	path, cleanup, err := f.FetchCatalogSignature(context.Background(), "file://"+src)
	if err != nil {
		t.Fatalf("FetchCatalogSignature: %v", err)
	}
	defer cleanup()

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "deadbeef" {
		t.Fatalf("got %q, want %q", got, "deadbeef")
	}
}

func TestFetchCatalogReturnsCleanup(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "repo.db")
	if err := os.WriteFile(src, []byte("catalog-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := New(Options{})
	path, cleanup, err := f.FetchCatalog(context.Background(), "file://"+src)
	if err != nil {
		t.Fatalf("FetchCatalog: %v", err)
	}
	defer cleanup()

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "catalog-bytes" {
		t.Fatalf("got %q, want %q", got, "catalog-bytes")
	}

	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected cleanup to remove the temp file")
	}
}

func buildTgz(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sdist.tgz")
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	gz := pgzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for name, contents := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(contents))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(contents)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPopulateVerifiesHashAndExtracts(t *testing.T) {
	archivePath := buildTgz(t, map[string]string{"include/foo.h": "int x;"})
	hash, err := store.HashFile(archivePath)
	if err != nil {
		t.Fatal(err)
	}

	f := New(Options{})
	populate := f.Populate("file://"+archivePath, hash)

	dest := t.TempDir()
	if err := populate(context.Background(), dest); err != nil {
		t.Fatalf("populate: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "include", "foo.h"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "int x;" {
		t.Fatalf("got %q, want %q", got, "int x;")
	}
}

// TestPopulateFileSchemeDoesNotStageATempFile confirms file:// sdists are
// expanded straight from their source path: no crs-sdist-* temp file is
// ever created in os.TempDir.
func TestPopulateFileSchemeDoesNotStageATempFile(t *testing.T) {
	archivePath := buildTgz(t, map[string]string{"include/foo.h": "int x;"})
	hash, err := store.HashFile(archivePath)
	if err != nil {
		t.Fatal(err)
	}

	before, err := filepath.Glob(filepath.Join(os.TempDir(), "crs-sdist-*"))
	if err != nil {
		t.Fatal(err)
	}

	f := New(Options{})
	populate := f.Populate("file://"+archivePath, hash)
	if err := populate(context.Background(), t.TempDir()); err != nil {
		t.Fatalf("populate: %v", err)
	}

	after, err := filepath.Glob(filepath.Join(os.TempDir(), "crs-sdist-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) {
		t.Fatalf("expected no new crs-sdist-* temp file, before=%v after=%v", before, after)
	}
}

func TestPopulateRejectsHashMismatch(t *testing.T) {
	archivePath := buildTgz(t, map[string]string{"a.txt": "a"})

	f := New(Options{})
	populate := f.Populate("file://"+archivePath, "not-the-real-hash")

	if err := populate(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected a hash-mismatch error")
	}
}
