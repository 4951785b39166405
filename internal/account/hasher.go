// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package account

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// Default argon2id parameters.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("ACCOUNT_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides salted one-way password digests.
type PasswordHasher interface {
	// Hash produces a salted digest of the password.
	Hash(password string) (string, error)

	// Verify reports whether password matches the encoded digest.
	// Returns (true, nil) on match, (false, nil) on mismatch, or an error on a malformed digest.
	Verify(password, encoded string) (bool, error)

	// NeedsUpgrade reports whether the digest was produced with weaker parameters.
	NeedsUpgrade(encoded string) bool
}

// Argon2idHasher implements PasswordHasher with argon2id in PHC string format.
type Argon2idHasher struct {
	time    uint32
	memory  uint32
	threads uint8
}

// NewArgon2idHasher creates a hasher with the default parameters.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{time: argon2Time, memory: argon2Memory, threads: argon2Threads}
}

// Hash produces an argon2id digest of the password with a fresh random salt.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("ACCOUNT_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.time, h.memory, h.threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.time,
		h.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// phcParams are the parameters decoded from a PHC string.
type phcParams struct {
	version int
	memory  uint32
	time    uint32
	threads uint32
	salt    []byte
	key     []byte
}

func decodePHC(encoded string) (*phcParams, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	p := &phcParams{}
	if _, err := fmt.Sscanf(parts[2], "v=%d", &p.version); err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Wrap(err)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Wrap(err)
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Wrap(err)
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Wrap(err)
	}

	if p.threads == 0 || p.threads > 255 {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("threads value %d out of range", p.threads)
	}
	if len(p.key) == 0 || len(p.key) > 1<<10 {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("invalid hash key length: %d", len(p.key))
	}
	return p, nil
}

// Verify recomputes the digest with the stored salt and parameters and
// compares in constant time.
func (h *Argon2idHasher) Verify(password, encoded string) (bool, error) {
	p, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, uint8(p.threads), uint32(len(p.key)))
	return subtle.ConstantTimeCompare(computed, p.key) == 1, nil
}

// NeedsUpgrade returns true for non-argon2id digests and for argon2id digests
// computed with weaker parameters than the hasher's.
func (h *Argon2idHasher) NeedsUpgrade(encoded string) bool {
	p, err := decodePHC(encoded)
	if err != nil {
		return true
	}
	return p.version != argon2.Version || p.memory < h.memory || p.time < h.time
}
