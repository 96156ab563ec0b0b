// Package secret provides the shared RCON secret sessions authenticate
// against. A secret is built once at startup and never mutated, so it is
// safe to share between concurrent sessions.
package secret

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

// ErrNoSecret is returned when neither a password nor a hash is configured.
var ErrNoSecret = errors.New("no rcon password configured")

// Secret reports whether a candidate password matches the configured one.
type Secret interface {
	Match(candidate string) bool
}

// Plain is a secret held as cleartext.
type Plain struct {
	value []byte
}

// NewPlain creates a cleartext secret.
func NewPlain(password string) *Plain {
	return &Plain{value: []byte(password)}
}

// Match compares the exact bytes of candidate in constant time.
func (p *Plain) Match(candidate string) bool {
	return subtle.ConstantTimeCompare(p.value, []byte(candidate)) == 1
}

// Params are the argon2id cost parameters used by Hash.
type Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns the argon2id parameters used for new hashes.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 is a secret stored as an argon2id PHC string.
type Argon2 struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

// Hash produces a PHC-encoded argon2id hash of password.
func Hash(password string, params Params) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Parallelism, params.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		params.Memory,
		params.Time,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// ParseArgon2 parses a PHC string of the form
// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>.
func ParseArgon2(encoded string) (*Argon2, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, fmt.Errorf("unsupported algorithm %q", parts[1])
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return nil, errors.New("invalid argon2 version")
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("unsupported argon2 version %d", version)
	}

	a := &Argon2{}
	var memorySet, timeSet, parallelismSet bool
	for _, pair := range strings.Split(parts[3], ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.New("invalid parameter entry")
		}
		switch key {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v == 0 {
				return nil, errors.New("invalid memory parameter")
			}
			a.memory, memorySet = uint32(v), true
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v == 0 {
				return nil, errors.New("invalid time parameter")
			}
			a.time, timeSet = uint32(v), true
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v == 0 {
				return nil, errors.New("invalid parallelism parameter")
			}
			a.parallelism, parallelismSet = uint8(v), true
		default:
			return nil, fmt.Errorf("unsupported parameter %q", key)
		}
	}
	if !memorySet || !timeSet || !parallelismSet {
		return nil, errors.New("missing argon2 parameters")
	}

	if a.salt, err = decodeB64(parts[4]); err != nil || len(a.salt) == 0 {
		return nil, errors.New("invalid salt encoding")
	}
	if a.hash, err = decodeB64(parts[5]); err != nil || len(a.hash) == 0 {
		return nil, errors.New("invalid hash encoding")
	}

	return a, nil
}

// Match derives the key for candidate and compares it in constant time.
func (a *Argon2) Match(candidate string) bool {
	key := argon2.IDKey([]byte(candidate), a.salt, a.time, a.memory, a.parallelism, uint32(len(a.hash)))
	return subtle.ConstantTimeCompare(key, a.hash) == 1
}

// FromConfig builds the secret from configuration. A hash takes precedence
// over a cleartext password.
func FromConfig(password, passwordHash string) (Secret, error) {
	if passwordHash != "" {
		a, err := ParseArgon2(passwordHash)
		if err != nil {
			return nil, fmt.Errorf("invalid password hash: %w", err)
		}
		return a, nil
	}
	if password == "" {
		return nil, ErrNoSecret
	}
	return NewPlain(password), nil
}

// decodeB64 accepts both padded and unpadded standard base64.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
