// Package fingerprint implements the salted PBKDF2 derivation used by the
// single-document verification mode. This scheme predates content-hash
// batching and is kept as an alternate path; the anchoring engine never
// touches it.
package fingerprint

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// ErrInvalidParams indicates derivation parameters outside usable bounds.
var ErrInvalidParams = errors.New("fingerprint: invalid params")

// Params fixes the PBKDF2 derivation shape. All three values must agree
// between derivation and later verification.
type Params struct {
	Iterations int
	KeyLength  int
	SaltLength int
}

func (p Params) validate() error {
	if p.Iterations <= 0 {
		return fmt.Errorf("%w: iterations must be positive", ErrInvalidParams)
	}
	if p.KeyLength <= 0 {
		return fmt.Errorf("%w: key length must be positive", ErrInvalidParams)
	}
	if p.SaltLength <= 0 {
		return fmt.Errorf("%w: salt length must be positive", ErrInvalidParams)
	}
	return nil
}

// Deriver produces salted PBKDF2-SHA512 fingerprints.
type Deriver struct {
	params Params
}

// NewDeriver validates the parameters and returns a Deriver.
func NewDeriver(params Params) (*Deriver, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Deriver{params: params}, nil
}

// Params returns the derivation parameters, for inclusion in responses so a
// holder can re-derive independently.
func (d *Deriver) Params() Params {
	return d.params
}

// NewSalt returns a fresh random salt of the configured length.
func (d *Deriver) NewSalt() ([]byte, error) {
	salt := make([]byte, d.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// Derive computes the PBKDF2-SHA512 fingerprint of data under the given salt.
func (d *Deriver) Derive(data, salt []byte) []byte {
	return pbkdf2.Key(data, salt, d.params.Iterations, d.params.KeyLength, sha512.New)
}

// DeriveHex is Derive with hex-encoded output, the wire form handed to clients.
func (d *Deriver) DeriveHex(data, salt []byte) string {
	return hex.EncodeToString(d.Derive(data, salt))
}

// Record is the persisted fingerprint token, keyed by the derived value.
type Record struct {
	ID         string    `gorm:"column:id;primaryKey;size:512;not null"`
	IngestedAt time.Time `gorm:"column:date_ingested;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "fingerprints"
}
