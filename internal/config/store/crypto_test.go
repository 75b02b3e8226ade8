package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	t.Parallel()

	key := make([]byte, keySize)
	for i := range key {
		key[i] = byte(i)
	}

	tests := []string{"", "short", "ghp_" + strings.Repeat("x", 200), "emoji 🔑 value"}
	for _, plaintext := range tests {
		encrypted, err := encryptValue(key, plaintext)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plaintext, err)
		}
		if !strings.HasPrefix(encrypted, encPrefix) {
			t.Fatalf("missing prefix on %q", encrypted)
		}
		decrypted, err := decryptValue(key, encrypted)
		if err != nil {
			t.Fatalf("decrypt %q: %v", plaintext, err)
		}
		if decrypted != plaintext {
			t.Fatalf("roundtrip mismatch: got %q want %q", decrypted, plaintext)
		}
	}
}

func TestDecryptRejectsBadInput(t *testing.T) {
	t.Parallel()

	key := make([]byte, keySize)

	if _, err := decryptValue(key, "plaintext"); err == nil {
		t.Fatal("expected error for unprefixed value")
	}
	if _, err := decryptValue(key, encPrefix+"!!!not-base64"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := decryptValue(key, encPrefix+"AAAA"); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}

	// Tampering with another key must fail authentication.
	encrypted, err := encryptValue(key, "secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	otherKey := make([]byte, keySize)
	otherKey[0] = 0xff
	if _, err := decryptValue(otherKey, encrypted); err == nil {
		t.Fatal("expected error decrypting with wrong key")
	}
}

func TestCreateEncryptionKeyIsStable(t *testing.T) {
	t.Parallel()

	keyPath := filepath.Join(t.TempDir(), keyFileName)

	key1, err := createEncryptionKey(keyPath)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if len(key1) != keySize {
		t.Fatalf("key size = %d, want %d", len(key1), keySize)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("key file mode = %v, want 0600", info.Mode().Perm())
	}

	// A second create must return the existing key, not replace it.
	key2, err := createEncryptionKey(keyPath)
	if err != nil {
		t.Fatalf("create key again: %v", err)
	}
	if string(key1) != string(key2) {
		t.Fatal("second create replaced the existing key")
	}

	loaded, err := loadEncryptionKey(keyPath)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	if string(loaded) != string(key1) {
		t.Fatal("loaded key differs from created key")
	}
}

func TestLoadEncryptionKeyMissing(t *testing.T) {
	t.Parallel()

	key, err := loadEncryptionKey(filepath.Join(t.TempDir(), "nope.key"))
	if err != nil {
		t.Fatalf("load missing key: %v", err)
	}
	if key != nil {
		t.Fatal("expected nil key for missing file")
	}
}
