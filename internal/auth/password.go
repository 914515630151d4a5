package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash is returned for stored hashes that are not argon2id PHC strings.
var ErrMalformedHash = errors.New("malformed password hash")

// HashParams are the argon2id cost settings written into every hash.
type HashParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultHashParams() HashParams {
	p := runtime.NumCPU()
	if p > 255 {
		p = 255
	}
	return HashParams{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: uint8(p),
		SaltLength:  16,
		KeyLength:   32,
	}
}

// PasswordHasher hashes user passwords for the users section of the config.
// Verification uses the parameters stored in the hash, so hashes made with
// older settings keep working.
type PasswordHasher struct {
	params HashParams
}

func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{params: DefaultHashParams()}
}

func NewPasswordHasherWithParams(params HashParams) *PasswordHasher {
	return &PasswordHasher{params: params}
}

// HashPassword returns $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt>$<key>.
func (ph *PasswordHasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	salt := make([]byte, ph.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, ph.params.Iterations, ph.params.Memory, ph.params.Parallelism, ph.params.KeyLength)
	return encodeHash(ph.params, salt, key), nil
}

func (ph *PasswordHasher) VerifyPassword(password, encodedHash string) (bool, error) {
	stored, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}

	key := argon2.IDKey([]byte(password), stored.salt, stored.params.Iterations, stored.params.Memory,
		stored.params.Parallelism, uint32(len(stored.key)))
	return subtle.ConstantTimeCompare(stored.key, key) == 1, nil
}

// NeedsRehash reports whether a hash was made with weaker settings than the
// hasher's current ones.
func (ph *PasswordHasher) NeedsRehash(encodedHash string) bool {
	stored, err := decodeHash(encodedHash)
	if err != nil {
		return true
	}
	p := stored.params
	return p.Memory < ph.params.Memory || p.Iterations < ph.params.Iterations || uint32(len(stored.key)) < ph.params.KeyLength
}

type storedHash struct {
	params HashParams
	salt   []byte
	key    []byte
}

func encodeHash(p HashParams, salt, key []byte) string {
	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key))
}

func decodeHash(encoded string) (*storedHash, error) {
	// leading "$" yields an empty first field
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported argon2 version %d", ErrMalformedHash, version)
	}

	var out storedHash
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &out.params.Memory, &out.params.Iterations, &out.params.Parallelism); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}

	var err error
	if out.salt, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil {
		return nil, fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}
	if out.key, err = base64.RawStdEncoding.DecodeString(fields[5]); err != nil {
		return nil, fmt.Errorf("%w: key: %v", ErrMalformedHash, err)
	}
	if len(out.key) == 0 {
		return nil, ErrMalformedHash
	}
	out.params.SaltLength = uint32(len(out.salt))
	out.params.KeyLength = uint32(len(out.key))
	return &out, nil
}
