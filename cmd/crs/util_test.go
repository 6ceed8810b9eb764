package main

import "testing"

func TestPkgFetchURL(t *testing.T) {
	got := pkgFetchURL("https://repo.crs-lang.org/", "zlib", "1.3.1", 2)
	want := "https://repo.crs-lang.org/pkg/zlib/1.3.1~2/pkg.tgz"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParseRequirementExpr(t *testing.T) {
	req, err := parseRequirementExpr("zlib ^1.2.0")
	if err != nil {
		t.Fatalf("parseRequirementExpr: %v", err)
	}
	if req.Name != "zlib" {
		t.Fatalf("got name %q, want zlib", req.Name)
	}
}

func TestParseRequirementExprRejectsMissingRange(t *testing.T) {
	if _, err := parseRequirementExpr("zlib"); err == nil {
		t.Fatal("expected an error for a requirement with no range")
	}
}
