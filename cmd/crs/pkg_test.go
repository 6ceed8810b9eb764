package main

import (
	"testing"

	"github.com/sauzeros/crs/internal/crs/store"
)

func TestParseStoreID(t *testing.T) {
	id, err := parseStoreID("zlib/1.3.1~0")
	if err != nil {
		t.Fatalf("parseStoreID: %v", err)
	}
	want := store.ID{Name: "zlib", Version: "1.3.1", Revision: 0}
	if id != want {
		t.Fatalf("got %+v, want %+v", id, want)
	}
}

func TestParseStoreIDRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"zlib", "zlib/1.3.1", "zlib/1.3.1~abc"} {
		if _, err := parseStoreID(raw); err == nil {
			t.Fatalf("parseStoreID(%q): expected an error", raw)
		}
	}
}
