package sign

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	data := []byte("repo.db contents")
	sigHex, err := Sign(data, priv)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	entry := KeyringEntry{RemoteID: 1, KeyID: "test", PublicKey: pub}
	if err := Verify(data, []byte(sigHex), entry); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	pub, priv, _ := GenerateKeyPair()
	sigHex, _ := Sign([]byte("original"), priv)
	entry := KeyringEntry{PublicKey: pub}

	if err := Verify([]byte("tampered"), []byte(sigHex), entry); err == nil {
		t.Fatal("expected verification to fail for tampered data")
	}
}

func TestVerifyRejectsBadPublicKey(t *testing.T) {
	_, priv, _ := GenerateKeyPair()
	sigHex, _ := Sign([]byte("data"), priv)
	entry := KeyringEntry{PublicKey: "not-hex!!"}

	if err := Verify([]byte("data"), []byte(sigHex), entry); err == nil {
		t.Fatal("expected an error for a malformed public key")
	}
}

func TestLoadKeyringMissingFileIsNotAnError(t *testing.T) {
	entries, err := LoadKeyring(filepath.Join(t.TempDir(), "no-such-keyring"))
	if err != nil {
		t.Fatalf("LoadKeyring: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries, want 0", len(entries))
	}
}

func TestLoadKeyringParsesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyring")
	content := "# comment\nhttps://repo.example.org official abcd1234\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := LoadKeyring(path)
	if err != nil {
		t.Fatalf("LoadKeyring: %v", err)
	}
	entry, ok := entries["https://repo.example.org"]
	if !ok {
		t.Fatalf("missing entry, got %+v", entries)
	}
	if entry.KeyID != "official" || entry.PublicKey != "abcd1234" {
		t.Fatalf("got %+v", entry)
	}
}

func TestLoadKeyringRejectsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyring")
	if err := os.WriteFile(path, []byte("only-one-field\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadKeyring(path); err == nil {
		t.Fatal("expected an error for a malformed keyring line")
	}
}
