// Package sign implements optional Ed25519 signature verification over a
// remote's published catalog. crypto/ed25519 is stdlib: no third-party
// signing library exists anywhere in the retrieved corpus, and
// verification is three stdlib calls (see DESIGN.md).
package sign

import (
	"bufio"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/sauzeros/crs/internal/crs/errs"
)

// KeyringEntry is a trusted public key for one remote.
type KeyringEntry struct {
	RemoteID  int64
	KeyID     string
	PublicKey string // hex-encoded Ed25519 public key
}

// Verify checks sigHex (a hex-encoded Ed25519 signature, as published
// alongside repo.db in a repo.db.sig file) against data using entry's
// public key. A mismatch or malformed signature downgrades to an
// Integrity error, the same way store hash mismatches do.
func Verify(data []byte, sigHex []byte, entry KeyringEntry) error {
	pubBytes, err := hex.DecodeString(entry.PublicKey)
	if err != nil {
		return errs.WrapKind(errs.KindIntegrity, err, fmt.Sprintf("sign: decode public key for keyring entry %s", entry.KeyID))
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		return errs.New(errs.KindIntegrity, fmt.Sprintf("sign: public key for %s is %d bytes, want %d", entry.KeyID, len(pubBytes), ed25519.PublicKeySize))
	}

	sig, err := hex.DecodeString(strings.TrimSpace(string(sigHex)))
	if err != nil {
		return errs.WrapKind(errs.KindIntegrity, err, "sign: decode signature")
	}

	if !ed25519.Verify(ed25519.PublicKey(pubBytes), data, sig) {
		return errs.New(errs.KindIntegrity, fmt.Sprintf("sign: signature verification failed for remote %d", entry.RemoteID))
	}
	return nil
}

// GenerateKeyPair creates a fresh Ed25519 key pair, hex-encoded, for a
// repository operator to sign their own repo.db with.
func GenerateKeyPair() (publicHex, privateHex string, err error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", "", errs.WrapKind(errs.KindInternal, err, "sign: generate key pair")
	}
	return hex.EncodeToString(pub), hex.EncodeToString(priv), nil
}

// LoadKeyring reads a keyring file of "remoteURL keyID pubkeyHex" lines,
// one trusted key per remote, keyed by remote URL. A missing file is not
// an error — remotes with no keyring entry simply sync unsigned.
func LoadKeyring(path string) (map[string]KeyringEntry, error) {
	entries := map[string]KeyringEntry{}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, errs.WrapKind(errs.KindTransport, err, "sign: open keyring")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, errs.New(errs.KindUserInput, "sign: malformed keyring line: "+line)
		}
		entries[fields[0]] = KeyringEntry{KeyID: fields[1], PublicKey: fields[2]}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.WrapKind(errs.KindTransport, err, "sign: read keyring")
	}
	return entries, nil
}

// Sign produces a hex-encoded Ed25519 signature of data using a
// hex-encoded private key, for use by `repo` commands that publish a
// signed catalog.
func Sign(data []byte, privateHex string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(privateHex))
	if err != nil {
		return "", errs.WrapKind(errs.KindUserInput, err, "sign: decode private key")
	}
	if len(raw) != ed25519.PrivateKeySize {
		return "", errs.New(errs.KindUserInput, fmt.Sprintf("sign: private key is %d bytes, want %d", len(raw), ed25519.PrivateKeySize))
	}
	sig := ed25519.Sign(ed25519.PrivateKey(raw), data)
	return hex.EncodeToString(sig), nil
}
