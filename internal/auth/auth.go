// Package auth derives and verifies padrelay credentials.
//
// A credential is a PBKDF2-HMAC-SHA256 hash over the password with a hex salt.
// Stream transports prove knowledge of it with an HMAC challenge-response; UDP
// datagrams carry an HMAC token bound to a 60 second time window.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// HashPrefix tags a serialized credential.
	HashPrefix = "pbkdf2_sha256"
	// DefaultIterations is the PBKDF2 work factor for new credentials.
	DefaultIterations = 100000
	// MinIterations is the lowest work factor HashPassword accepts.
	MinIterations = 100000
	// TokenWindow is the lifetime of one UDP token.
	TokenWindow = 60 * time.Second

	saltSize      = 16
	keySize       = 32
	challengeSize = 16
)

var (
	// ErrInvalidHashString is returned for a malformed pbkdf2_sha256$... string.
	ErrInvalidHashString = errors.New("invalid hash string")
	// ErrHashOnly is returned when new parameters cannot be applied because
	// the plaintext password is not known.
	ErrHashOnly = errors.New("credential is hash-only")
	// ErrInvalidParameters is returned for an empty salt or a non-positive
	// iteration count.
	ErrInvalidParameters = errors.New("invalid key derivation parameters")
)

// Authenticator holds one credential. It is safe for concurrent use.
//
// The zero value, and an Authenticator built from an empty password, holds no
// key material: every response verifies and every datagram authenticates.
type Authenticator struct {
	mu         sync.RWMutex
	plaintext  string
	salt       string
	iterations int
	hash       string
}

// New builds an Authenticator from a password. A string in the
// pbkdf2_sha256$<iterations>$<salt>$<hash> format is parsed as a hash-only
// credential; anything else is a plaintext password hashed under a fresh salt.
func New(password string) (*Authenticator, error) {
	a := &Authenticator{iterations: DefaultIterations}
	if password == "" {
		return a, nil
	}

	if IsHashString(password) {
		iter, salt, hash, err := ParseHashString(password)
		if err != nil {
			return nil, err
		}
		a.iterations, a.salt, a.hash = iter, salt, hash
		return a, nil
	}

	salt, err := randomHex(saltSize)
	if err != nil {
		return nil, err
	}
	a.plaintext = password
	a.salt = salt
	a.hash = derive(password, salt, a.iterations)
	return a, nil
}

// IsHashString reports whether s looks like a serialized credential.
func IsHashString(s string) bool {
	return strings.HasPrefix(s, HashPrefix+"$") && strings.Count(s, "$") == 3
}

// ParseHashString splits a serialized credential into its parts.
func ParseHashString(s string) (iterations int, salt, hash string, err error) {
	parts := strings.Split(s, "$")
	if len(parts) != 4 || parts[0] != HashPrefix {
		return 0, "", "", ErrInvalidHashString
	}
	iterations, err = strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return 0, "", "", fmt.Errorf("%w: iterations %q", ErrInvalidHashString, parts[1])
	}
	if parts[2] == "" || parts[3] == "" {
		return 0, "", "", fmt.Errorf("%w: empty salt or hash", ErrInvalidHashString)
	}
	return iterations, parts[2], parts[3], nil
}

// HashPassword returns a serialized credential for password under a fresh
// random salt.
func HashPassword(password string, iterations int) (string, error) {
	if iterations < MinIterations {
		return "", fmt.Errorf("%w: %d iterations, minimum is %d", ErrInvalidParameters, iterations, MinIterations)
	}
	salt, err := randomHex(saltSize)
	if err != nil {
		return "", err
	}
	return formatHash(iterations, salt, derive(password, salt, iterations)), nil
}

// SetParameters adopts the salt and iteration count announced by a server and
// re-derives the hash from the plaintext password.
//
// A hash-only credential cannot be re-derived; it is left untouched and
// ErrHashOnly is returned unless the parameters already match.
func (a *Authenticator) SetParameters(salt string, iterations int) error {
	if salt == "" || iterations <= 0 {
		return fmt.Errorf("%w: salt %q, iterations %d", ErrInvalidParameters, salt, iterations)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.plaintext == "" {
		if a.hash == "" {
			a.salt, a.iterations = salt, iterations
			return nil
		}
		if a.salt == salt && a.iterations == iterations {
			return nil
		}
		return ErrHashOnly
	}

	if a.salt == salt && a.iterations == iterations {
		return nil
	}
	a.salt, a.iterations = salt, iterations
	a.hash = derive(a.plaintext, salt, iterations)
	return nil
}

// DropPlaintext forgets the plaintext password, keeping only the derived hash.
func (a *Authenticator) DropPlaintext() {
	a.mu.Lock()
	a.plaintext = ""
	a.mu.Unlock()
}

// HasPlaintext reports whether the plaintext password is retained.
func (a *Authenticator) HasPlaintext() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.plaintext != ""
}

// Configured reports whether any key material is held.
func (a *Authenticator) Configured() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hash != "" || a.plaintext != ""
}

// Salt returns the current salt.
func (a *Authenticator) Salt() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.salt
}

// Iterations returns the current PBKDF2 iteration count.
func (a *Authenticator) Iterations() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.iterations
}

// HashString serializes the credential, or returns "" when there is none.
func (a *Authenticator) HashString() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.hash == "" || a.salt == "" {
		return ""
	}
	return formatHash(a.iterations, a.salt, a.hash)
}

// VerifyPassword reports whether password derives the stored hash.
func (a *Authenticator) VerifyPassword(password string) bool {
	a.mu.RLock()
	salt, iter, hash := a.salt, a.iterations, a.hash
	a.mu.RUnlock()
	if hash == "" || salt == "" {
		return false
	}
	return hmac.Equal([]byte(derive(password, salt, iter)), []byte(hash))
}

// Challenge returns 128 random bits, hex encoded.
func (a *Authenticator) Challenge() (string, error) {
	return randomHex(challengeSize)
}

// Response answers challenge with an HMAC keyed by the derived hash, or by
// the plaintext when no hash exists. It returns "" when no key material is
// held.
func (a *Authenticator) Response(challenge string) string {
	key := a.streamKey()
	if key == "" {
		return ""
	}
	return sign(key, challenge)
}

// Verify checks a challenge response in constant time. Without key material
// every response is accepted.
func (a *Authenticator) Verify(challenge, response string) bool {
	key := a.streamKey()
	if key == "" {
		return true
	}
	return hmac.Equal([]byte(sign(key, challenge)), []byte(response))
}

// UDPToken returns the datagram token for the window containing t, or "" when
// no key material is held.
func (a *Authenticator) UDPToken(t time.Time) string {
	key := a.datagramKey()
	if key == "" {
		return ""
	}
	return tokenFor(key, window(t))
}

// AuthenticateUDP accepts a token from the window containing t or the one
// before it. Without key material every datagram is accepted.
func (a *Authenticator) AuthenticateUDP(token string, t time.Time) bool {
	key := a.datagramKey()
	if key == "" {
		return true
	}
	if token == "" {
		return false
	}
	w := window(t)
	current := hmac.Equal([]byte(token), []byte(tokenFor(key, w)))
	previous := hmac.Equal([]byte(token), []byte(tokenFor(key, w-1)))
	return current || previous
}

func (a *Authenticator) streamKey() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.hash != "" {
		return a.hash
	}
	return a.plaintext
}

func (a *Authenticator) datagramKey() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.plaintext != "" {
		return a.plaintext
	}
	return a.hash
}

// derive salts with the bytes of the hex string, not the decoded salt, so
// credentials interoperate with existing hash strings.
func derive(password, salt string, iterations int) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(password), []byte(salt), iterations, keySize, sha256.New))
}

func sign(key, msg string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

func tokenFor(key string, w int64) string {
	return sign(key, "udp_auth"+strconv.FormatInt(w, 10))
}

func window(t time.Time) int64 {
	return t.Unix() / int64(TokenWindow/time.Second)
}

func formatHash(iterations int, salt, hash string) string {
	return fmt.Sprintf("%s$%d$%s$%s", HashPrefix, iterations, salt, hash)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
