package keylift

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/pbkdf2"
)

// Validator checks candidate keys against the first page of an encrypted
// database.
//
// Validation reproduces the database's documented scheme exactly: the raw
// key is stretched with PBKDF2-HMAC-SHA512 over the page salt to produce the
// encryption key, the encryption key is stretched again (two iterations,
// salt XORed with MACSaltXOR) to produce the MAC key, and the MAC key
// authenticates the page body plus the little-endian page number. A key is
// valid when the computed tag matches the tag stored in the page's reserve
// trailer.
//
// SECURITY NOTES:
//   - Validate is a pure function of its inputs: no I/O, no shared state,
//     safe to call concurrently from any number of goroutines.
//   - Derived key material is wiped before returning.
//   - The tag comparison is constant-time.
//   - A failed validation is the expected common case, never an error.
type Validator struct {
	format Format
}

// NewValidator returns a Validator for the given page format.
func NewValidator(format Format) (*Validator, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid page format: %w", err)
	}
	return &Validator{format: format}, nil
}

// Format returns the page format this validator checks against.
func (v *Validator) Format() Format {
	return v.format
}

// Validate reports whether key authenticates the first page of the database.
// Structurally impossible inputs (wrong page or key length) report false
// rather than erroring: a candidate that cannot possibly work is simply not
// the key.
func (v *Validator) Validate(page, key []byte) bool {
	f := v.format
	if len(page) != f.PageSize || len(key) != f.KeySize {
		return false
	}

	salt := page[:f.SaltSize]

	// Stage one: expensive derivation of the encryption key from the raw
	// key and the page salt.
	encKey := pbkdf2.Key(key, salt, f.EncIterations, f.KeySize, sha512.New)
	defer memguard.WipeBytes(encKey)

	// Stage two: cheap derivation of the MAC key, keyed off the derived
	// encryption key with the XORed salt.
	macSalt := make([]byte, f.SaltSize)
	for i, b := range salt {
		macSalt[i] = b ^ f.MACSaltXOR
	}
	macKey := pbkdf2.Key(encKey, macSalt, f.MACIterations, f.KeySize, sha512.New)
	defer memguard.WipeBytes(macKey)

	// The tag covers everything between the salt and the stored MAC,
	// which includes the page's IV, followed by the page number. Only the
	// first page is ever validated, so the page number is the literal 1.
	dataEnd := f.DataEnd()
	var pageNo [4]byte
	binary.LittleEndian.PutUint32(pageNo[:], 1)

	mac := hmac.New(sha512.New, macKey)
	mac.Write(page[f.SaltSize:dataEnd])
	mac.Write(pageNo[:])

	return hmac.Equal(mac.Sum(nil), page[dataEnd:dataEnd+f.MACSize])
}
