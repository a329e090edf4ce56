// internal/core/domain/vault/vault_test.go
package vault

import (
	"errors"
	"strings"
	"testing"

	"trading-bot-orchestrator/internal/types"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestNewVaultRejectsBadKey(t *testing.T) {
	if _, err := NewVault("short"); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := NewVault(testKey); err != nil {
		t.Fatalf("unexpected error for valid key: %v", err)
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	v, err := NewVault(testKey)
	if err != nil {
		t.Fatal(err)
	}

	secrets := []string{"api-key-12345", "секретный ключ", "a", strings.Repeat("x", 4096)}

	for _, secret := range secrets {
		encrypted, err := v.Encrypt(secret)
		if err != nil {
			t.Fatalf("encrypt %q: %v", secret, err)
		}
		if strings.Contains(encrypted, secret) {
			t.Fatalf("ciphertext contains plaintext for %q", secret)
		}

		decrypted, err := v.Decrypt(encrypted)
		if err != nil {
			t.Fatalf("decrypt %q: %v", secret, err)
		}
		if decrypted != secret {
			t.Fatalf("roundtrip mismatch: got %q, want %q", decrypted, secret)
		}
	}
}

func TestEncryptEmptyPassthrough(t *testing.T) {
	v, _ := NewVault(testKey)

	encrypted, err := v.Encrypt("")
	if err != nil || encrypted != "" {
		t.Fatalf("empty plaintext: got (%q, %v)", encrypted, err)
	}

	decrypted, err := v.Decrypt("")
	if err != nil || decrypted != "" {
		t.Fatalf("empty ciphertext: got (%q, %v)", decrypted, err)
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	v, _ := NewVault(testKey)

	encrypted, err := v.Encrypt("sensitive")
	if err != nil {
		t.Fatal(err)
	}

	// Портим последний символ base64
	tampered := encrypted[:len(encrypted)-2] + "AA"
	if _, err := v.Decrypt(tampered); !errors.Is(err, types.ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}

	// Совсем не base64
	if _, err := v.Decrypt("!!!not-base64!!!"); !errors.Is(err, types.ErrDecryption) {
		t.Fatalf("expected ErrDecryption for garbage, got %v", err)
	}

	// Слишком короткий шифртекст
	if _, err := v.Decrypt("QUFB"); !errors.Is(err, types.ErrDecryption) {
		t.Fatalf("expected ErrDecryption for short ciphertext, got %v", err)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	v1, _ := NewVault(testKey)
	v2, _ := NewVault("fedcba9876543210fedcba9876543210")

	encrypted, err := v1.Encrypt("sensitive")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := v2.Decrypt(encrypted); !errors.Is(err, types.ErrDecryption) {
		t.Fatalf("expected ErrDecryption with wrong key, got %v", err)
	}
}
