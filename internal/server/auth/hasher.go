package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword is returned when hashing an empty secret.
var ErrEmptyPassword = oops.Code(common.CodeValidation).Wrap(fmt.Errorf("%w: password cannot be empty", common.ErrValidation))

var errInvalidHash = errors.New("invalid hash")

// PasswordHasher hashes and verifies account secrets.
type PasswordHasher interface {
	Hash(secret string) (string, error)
	// Verify reports whether secret matches storedHash. Any parsing or
	// hashing problem yields false.
	Verify(storedHash, secret string) bool
	// NeedsUpgrade reports whether storedHash should be re-hashed with the
	// current algorithm after a successful verification.
	NeedsUpgrade(storedHash string) bool
}

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	SaltLen int
	KeyLen  uint32
}

// DefaultArgon2Params follow the OWASP recommendation.
var DefaultArgon2Params = Argon2Params{
	Time:    1,
	Memory:  64 * 1024,
	Threads: 4,
	SaltLen: 16,
	KeyLen:  32,
}

// Argon2idHasher stores hashes as PHC strings:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
//
// Legacy bcrypt hashes are still accepted by Verify.
type Argon2idHasher struct {
	params Argon2Params

	dummyOnce sync.Once
	dummy     string
}

func NewArgon2idHasher() *Argon2idHasher {
	return NewArgon2idHasherWithParams(DefaultArgon2Params)
}

func NewArgon2idHasherWithParams(p Argon2Params) *Argon2idHasher {
	return &Argon2idHasher{params: p}
}

func (h *Argon2idHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code(common.CodeInternal).Wrap(err)
	}

	key := argon2.IDKey([]byte(secret), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
	defer common.WipeByteArray(key)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Argon2idHasher) Verify(storedHash, secret string) bool {
	if isBcrypt(storedHash) {
		return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(secret)) == nil
	}
	ok, err := verifyArgon2id(storedHash, secret)
	return err == nil && ok
}

func (h *Argon2idHasher) NeedsUpgrade(storedHash string) bool {
	return !strings.HasPrefix(storedHash, "$argon2id$")
}

// DummyHash returns a valid hash of a random secret. Verifying against it
// costs the same as a real verification, which keeps unknown-account
// lookups indistinguishable by timing.
func (h *Argon2idHasher) DummyHash() string {
	h.dummyOnce.Do(func() {
		secret, err := common.MakeRandHexString(16)
		if err != nil {
			secret = "dummy-secret"
		}
		h.dummy, _ = h.Hash(secret)
	})
	return h.dummy
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

func verifyArgon2id(encoded, secret string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, errInvalidHash
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, errInvalidHash
	}
	if threads == 0 || threads > 255 || iterations == 0 {
		return false, errInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errInvalidHash
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, errInvalidHash
	}
	if len(expected) == 0 || len(expected) > 1<<10 {
		return false, errInvalidHash
	}

	computed := argon2.IDKey([]byte(secret), salt, iterations, memory, uint8(threads), uint32(len(expected)))
	defer common.WipeByteArray(computed)

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// PasswordCheck validates a new secret before it is hashed.
type PasswordCheck func(secret string) error

// MinLength rejects secrets shorter than n characters.
func MinLength(n int) PasswordCheck {
	return func(secret string) error {
		if len([]rune(secret)) < n {
			return oops.Code(common.CodeValidation).
				With("min_length", n).
				Wrap(fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, n))
		}
		return nil
	}
}
