package crypto

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "vault.salt"))
}

func TestInitialize_EmptyPassword(t *testing.T) {
	s := newTestService(t)
	for _, pw := range []string{"", "   ", "\t\n"} {
		if err := s.Initialize(pw); !errors.Is(err, ErrKeyDerivation) {
			t.Errorf("Initialize(%q) = %v, want ErrKeyDerivation", pw, err)
		}
	}
	if s.IsInitialized() {
		t.Error("service should not be initialized after failed derivation")
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	s := newTestService(t)
	if err := s.Initialize("correct horse battery staple"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	tests := []string{
		"",
		"hello world",
		"multi\nline\ttext",
		"unicode: 日本語 héllo",
		string(make([]byte, 10000)),
	}
	for _, plain := range tests {
		env, err := s.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		got, err := s.Decrypt(env)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plain {
			t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(plain))
		}
	}
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	s := newTestService(t)
	if err := s.Initialize("pw-nonce-test"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	a, _ := s.Encrypt("same plaintext")
	b, _ := s.Encrypt("same plaintext")
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical envelopes")
	}
}

func TestDecrypt_TamperDetection(t *testing.T) {
	s := newTestService(t)
	if err := s.Initialize("tamper-test"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	env, err := s.Encrypt("sensitive payload")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(env)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	// Flip each byte in turn: version, nonce, ciphertext, and tag bytes must
	// all cause authentication failure.
	for i := range raw {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[i] ^= 0x01
		if _, err := s.Decrypt(base64.StdEncoding.EncodeToString(mutated)); !errors.Is(err, ErrDecryption) {
			t.Fatalf("byte %d flipped: err = %v, want ErrDecryption", i, err)
		}
	}
}

func TestDecrypt_TruncatedAndGarbage(t *testing.T) {
	s := newTestService(t)
	if err := s.Initialize("trunc-test"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	for _, env := range []string{"", "not base64!!", base64.StdEncoding.EncodeToString([]byte{envelopeVersion, 1, 2})} {
		if _, err := s.Decrypt(env); !errors.Is(err, ErrDecryption) {
			t.Errorf("Decrypt(%q) = %v, want ErrDecryption", env, err)
		}
	}
}

func TestLifecycle_NotInitialized(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Encrypt("x"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Encrypt before init = %v, want ErrNotInitialized", err)
	}
	if _, err := s.Decrypt("x"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Decrypt before init = %v, want ErrNotInitialized", err)
	}
}

func TestClear_BlocksFurtherUse(t *testing.T) {
	s := newTestService(t)
	if err := s.Initialize("clear-test"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	env, _ := s.Encrypt("secret")

	s.Clear()
	if s.IsInitialized() {
		t.Error("IsInitialized after Clear = true")
	}
	if _, err := s.Encrypt("x"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Encrypt after Clear = %v, want ErrNotInitialized", err)
	}
	if _, err := s.Decrypt(env); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Decrypt after Clear = %v, want ErrNotInitialized", err)
	}
}

func TestInitialize_SamePasswordSameKey(t *testing.T) {
	saltPath := filepath.Join(t.TempDir(), "vault.salt")

	first := New(saltPath)
	if err := first.Initialize("stable-password"); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	env, err := first.Encrypt("persisted across reopen")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	first.Clear()

	second := New(saltPath)
	if err := second.Initialize("stable-password"); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	got, err := second.Decrypt(env)
	if err != nil {
		t.Fatalf("Decrypt after reopen: %v", err)
	}
	if got != "persisted across reopen" {
		t.Errorf("got %q", got)
	}
}

func TestInitialize_WrongPasswordRejected(t *testing.T) {
	saltPath := filepath.Join(t.TempDir(), "vault.salt")

	first := New(saltPath)
	if err := first.Initialize("right password"); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	first.Clear()

	second := New(saltPath)
	if err := second.Initialize("wrong password"); !errors.Is(err, ErrDecryption) {
		t.Fatalf("wrong password Initialize = %v, want ErrDecryption", err)
	}
	if second.IsInitialized() {
		t.Error("service initialized with wrong password")
	}
}

func TestInitialize_PersistsSalt(t *testing.T) {
	saltPath := filepath.Join(t.TempDir(), "vault.salt")
	s := New(saltPath)
	if err := s.Initialize("salt-persist"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	data, err := os.ReadFile(saltPath)
	if err != nil {
		t.Fatalf("read salt file: %v", err)
	}
	if len(data) != saltLen {
		t.Errorf("salt length = %d, want %d", len(data), saltLen)
	}
}
