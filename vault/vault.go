package vault

// Token encryption at rest. Secrets are sealed with AES-256-GCM under a
// key derived from the ENCRYPTION_KEY environment variable via
// PBKDF2-SHA256 and a per-secret random salt. The stored envelope is
// four base64 segments joined by colons: salt:iv:authTag:ciphertext.

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLenBytes      = 32
	saltLenBytes     = 32
	ivLenBytes       = 16
	tagLenBytes      = 16
	pbkdf2Iterations = 100000
)

// CryptoError wraps any failure of the sealing layer so callers can
// distinguish crypto faults from storage faults.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("vault: %s failed", e.Op)
	}
	return fmt.Sprintf("vault: %s failed: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

var (
	masterOnce sync.Once
	masterKey  []byte
	masterErr  error
)

func loadMasterKey() ([]byte, error) {
	masterOnce.Do(func() {
		raw := os.Getenv("ENCRYPTION_KEY")
		if raw == "" {
			masterErr = &CryptoError{Op: "load key", Err: fmt.Errorf("ENCRYPTION_KEY is not set")}
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			masterErr = &CryptoError{Op: "load key", Err: err}
			return
		}
		if len(decoded) != keyLenBytes {
			masterErr = &CryptoError{Op: "load key",
				Err: fmt.Errorf("ENCRYPTION_KEY must decode to %d bytes, got %d", keyLenBytes, len(decoded))}
			return
		}
		masterKey = decoded
	})
	return masterKey, masterErr
}

// resetMasterKey allows tests to swap ENCRYPTION_KEY between cases.
func resetMasterKey() {
	masterOnce = sync.Once{}
	masterKey = nil
	masterErr = nil
}

// Seal encrypts plaintext and returns the storable envelope string.
// The salt and IV are freshly random, so sealing the same plaintext
// twice yields different envelopes.
func Seal(plaintext string) (string, error) {
	master, err := loadMasterKey()
	if err != nil {
		return "", err
	}
	salt := make([]byte, saltLenBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", &CryptoError{Op: "seal", Err: err}
	}
	iv := make([]byte, ivLenBytes)
	if _, err := rand.Read(iv); err != nil {
		return "", &CryptoError{Op: "seal", Err: err}
	}
	aead, err := newAead(master, salt)
	if err != nil {
		return "", &CryptoError{Op: "seal", Err: err}
	}
	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	// GCM appends the tag to the ciphertext. The envelope stores them
	// as separate segments.
	cipherBytes := sealed[:len(sealed)-tagLenBytes]
	tag := sealed[len(sealed)-tagLenBytes:]
	segments := []string{
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(cipherBytes),
	}
	return strings.Join(segments, ":"), nil
}

// Open decrypts an envelope produced by Seal. Any tampering with the
// ciphertext, tag, salt, or IV fails authentication.
func Open(envelope string) (string, error) {
	master, err := loadMasterKey()
	if err != nil {
		return "", err
	}
	segments := strings.Split(envelope, ":")
	if len(segments) != 4 {
		return "", &CryptoError{Op: "open",
			Err: fmt.Errorf("malformed envelope: expected 4 segments, got %d", len(segments))}
	}
	salt, err := base64.StdEncoding.DecodeString(segments[0])
	if err != nil {
		return "", &CryptoError{Op: "open", Err: err}
	}
	iv, err := base64.StdEncoding.DecodeString(segments[1])
	if err != nil {
		return "", &CryptoError{Op: "open", Err: err}
	}
	tag, err := base64.StdEncoding.DecodeString(segments[2])
	if err != nil {
		return "", &CryptoError{Op: "open", Err: err}
	}
	cipherBytes, err := base64.StdEncoding.DecodeString(segments[3])
	if err != nil {
		return "", &CryptoError{Op: "open", Err: err}
	}
	if len(salt) != saltLenBytes || len(iv) != ivLenBytes || len(tag) != tagLenBytes {
		return "", &CryptoError{Op: "open", Err: fmt.Errorf("malformed envelope: bad segment length")}
	}
	aead, err := newAead(master, salt)
	if err != nil {
		return "", &CryptoError{Op: "open", Err: err}
	}
	plaintext, err := aead.Open(nil, iv, append(cipherBytes, tag...), nil)
	if err != nil {
		return "", &CryptoError{Op: "open", Err: err}
	}
	return string(plaintext), nil
}

func newAead(master, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key(master, salt, pbkdf2Iterations, keyLenBytes, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivLenBytes)
}

// Hash returns the hex SHA-256 of the input. Used for deduplication and
// lookups where the plaintext must not be stored.
func Hash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// SafeCompare reports whether two strings are equal in constant time.
func SafeCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateKey returns a fresh base64 master key suitable for
// ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	key := make([]byte, keyLenBytes)
	if _, err := rand.Read(key); err != nil {
		return "", &CryptoError{Op: "generate key", Err: err}
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
