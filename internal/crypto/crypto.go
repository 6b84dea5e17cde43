// Package crypto provides password-based field encryption for the vault.
// A Service owns the only copy of the key material and moves through an
// explicit lifecycle: uninitialized → ready → cleared.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 round count. The floor for new stores is
	// 100,000; reading this from the salt file header would be needed to
	// lower it later, so the count is fixed here.
	Iterations = 200000

	keyLen  = 32
	saltLen = 16

	// envelopeVersion prefixes every ciphertext envelope so the layout can
	// change without breaking old rows.
	envelopeVersion = 0x01
)

// canaryPlain is the fixed plaintext encrypted into the key-check file.
// Decrypting it on reopen detects a wrong password before any row is read.
var canaryPlain = []byte("chatvault-key-check-v1")

var (
	ErrKeyDerivation  = errors.New("crypto: key derivation failed")
	ErrNotInitialized = errors.New("crypto: not initialized")
	ErrDecryption     = errors.New("crypto: decryption failed")
)

type state int

const (
	stateUninitialized state = iota
	stateReady
	stateCleared
)

// Service derives the vault key from a password and performs authenticated
// field encryption. Safe for concurrent use.
type Service struct {
	mu       sync.Mutex
	state    state
	key      []byte
	salt     []byte
	aead     cipher.AEAD
	saltPath string
}

// New returns an uninitialized Service. The salt (and the key-check canary)
// are persisted at saltPath so reopening with the same password reconstructs
// the same key.
func New(saltPath string) *Service {
	return &Service{saltPath: saltPath}
}

// Initialize derives the key from password and transitions to ready.
// On a fresh store it generates and persists a new random salt; on an
// existing store it reloads the salt and verifies the password against the
// key-check canary, returning ErrDecryption if it does not match.
func (s *Service) Initialize(password string) error {
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: empty password", ErrKeyDerivation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-initializing releases any previous key first.
	zero(s.key)
	zero(s.salt)

	salt, fresh, err := s.loadOrCreateSalt()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}

	key := pbkdf2.Key([]byte(password), salt, Iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		zero(key)
		return fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		zero(key)
		return fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}

	s.key = key
	s.salt = salt
	s.aead = aead
	s.state = stateReady

	if err := s.checkCanary(fresh); err != nil {
		s.clearLocked()
		return err
	}
	return nil
}

// IsInitialized reports whether the service holds a usable key.
func (s *Service) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateReady
}

// Encrypt seals plaintext with a fresh random nonce and returns a versioned
// base64 envelope of nonce, ciphertext and authentication tag.
func (s *Service) Encrypt(plaintext string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateReady {
		return "", ErrNotInitialized
	}
	env, err := s.encryptLocked([]byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	return env, nil
}

// Decrypt verifies and opens an envelope produced by Encrypt. It returns
// ErrDecryption on a bad tag, truncated envelope, unknown version, or wrong
// key; it never returns unauthenticated plaintext.
func (s *Service) Decrypt(envelope string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateReady {
		return "", ErrNotInitialized
	}
	return s.decryptLocked(envelope)
}

// Clear zeroizes the key and salt buffers and transitions to cleared. All
// subsequent Encrypt/Decrypt calls fail with ErrNotInitialized. The service
// may be re-initialized with the password to unlock again.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Service) clearLocked() {
	zero(s.key)
	zero(s.salt)
	s.key = nil
	s.salt = nil
	s.aead = nil
	s.state = stateCleared
}

func (s *Service) loadOrCreateSalt() (salt []byte, fresh bool, err error) {
	salt, err = os.ReadFile(s.saltPath)
	if err == nil {
		if len(salt) != saltLen {
			return nil, false, fmt.Errorf("salt file %s: invalid length %d", s.saltPath, len(salt))
		}
		return salt, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("read salt: %w", err)
	}

	salt = make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, false, fmt.Errorf("generate salt: %w", err)
	}
	if err := os.WriteFile(s.saltPath, salt, 0o600); err != nil {
		return nil, false, fmt.Errorf("write salt: %w", err)
	}
	return salt, true, nil
}

// checkCanary verifies the derived key against the persisted canary
// envelope, writing it first on a fresh store. Called with s.mu held and
// s.state ready.
func (s *Service) checkCanary(fresh bool) error {
	canaryPath := s.saltPath + ".check"

	if fresh {
		env, err := s.encryptLocked(canaryPlain)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrKeyDerivation, err)
		}
		if err := os.WriteFile(canaryPath, []byte(env), 0o600); err != nil {
			return fmt.Errorf("%w: write key check: %v", ErrKeyDerivation, err)
		}
		return nil
	}

	env, err := os.ReadFile(canaryPath)
	if errors.Is(err, os.ErrNotExist) {
		// Older store without a canary: fall back to lazy detection on the
		// first row decrypt.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read key check: %v", ErrKeyDerivation, err)
	}

	plain, err := s.decryptLocked(string(env))
	if err != nil {
		return ErrDecryption
	}
	if subtle.ConstantTimeCompare([]byte(plain), canaryPlain) != 1 {
		return ErrDecryption
	}
	return nil
}

// encryptLocked and decryptLocked mirror Encrypt/Decrypt for callers that
// already hold s.mu.
func (s *Service) encryptLocked(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	buf := make([]byte, 0, 1+len(nonce)+len(plaintext)+s.aead.Overhead())
	buf = append(buf, envelopeVersion)
	buf = append(buf, nonce...)
	buf = s.aead.Seal(buf, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(buf), nil
}

func (s *Service) decryptLocked(envelope string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", ErrDecryption
	}
	ns := s.aead.NonceSize()
	if len(data) < 1+ns || data[0] != envelopeVersion {
		return "", ErrDecryption
	}
	plain, err := s.aead.Open(nil, data[1:1+ns], data[1+ns:], nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plain), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
