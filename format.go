// Package keylift recovers a database's at-rest encryption key by searching
// a live process's memory for candidate 32-byte keys and validating each one
// against the first page of the encrypted database file.
//
// The package splits the problem into two pure pieces: a Validator, which
// reproduces the database's documented key-derivation-and-authentication
// scheme against a single page, and a Scanner, which walks the readable and
// writable regions of a target process looking for byte windows worth
// validating. Process access itself is delegated to the procmem package so
// both pieces stay testable with synthetic data.
package keylift

import "fmt"

// Page-encryption format constants. These are the external contract of the
// target database format and must match real files bit-for-bit; they are not
// tunables.
const (
	// PageSize is the size of one database page in bytes.
	PageSize = 4096

	// KeySize is the size of the raw encryption key in bytes.
	KeySize = 32

	// SaltSize is the size of the key-derivation salt stored at the head of
	// the first page.
	SaltSize = 16

	// MACSize is the HMAC-SHA512 digest length used for the page tag.
	MACSize = 64

	// IVSize is the size of the per-page initialization vector held in the
	// page's reserve trailer.
	IVSize = 16

	// AESBlockSize is the cipher block size the reserve trailer is padded to.
	AESBlockSize = 16

	// EncIterations is the PBKDF2-HMAC-SHA512 iteration count used to derive
	// the encryption key from the raw key and the page salt.
	EncIterations = 256000

	// MACIterations is the PBKDF2-HMAC-SHA512 iteration count used to derive
	// the MAC key from the already-derived encryption key.
	MACIterations = 2

	// MACSaltXOR is XORed into every salt byte to produce the MAC salt.
	MACSaltXOR = 0x3A
)

// Format describes the page-encryption layout the validator and decryptor
// work against. DefaultFormat returns the contract values above; tests use
// cheaper iteration counts with the same structure.
type Format struct {
	PageSize      int
	KeySize       int
	SaltSize      int
	MACSize       int
	IVSize        int
	BlockSize     int
	EncIterations int
	MACIterations int
	MACSaltXOR    byte
}

// DefaultFormat returns the documented format of the target database.
func DefaultFormat() Format {
	return Format{
		PageSize:      PageSize,
		KeySize:       KeySize,
		SaltSize:      SaltSize,
		MACSize:       MACSize,
		IVSize:        IVSize,
		BlockSize:     AESBlockSize,
		EncIterations: EncIterations,
		MACIterations: MACIterations,
		MACSaltXOR:    MACSaltXOR,
	}
}

// Reserve returns the size of the page's reserve trailer: the smallest
// multiple of the cipher block size that holds the IV and the MAC. With the
// default constants this is 96; the rounding is not a no-op for other
// digest sizes.
func (f Format) Reserve() int {
	reserve := f.IVSize + f.MACSize
	if rem := reserve % f.BlockSize; rem != 0 {
		reserve += f.BlockSize - rem
	}
	return reserve
}

// DataEnd returns the offset one past the authenticated portion of a page.
// The authenticated portion runs from the end of the salt through the IV,
// so the stored MAC sits at [DataEnd, DataEnd+MACSize).
func (f Format) DataEnd() int {
	return f.PageSize - f.Reserve() + f.IVSize
}

// Validate checks that the format is internally consistent: every size
// positive, the trailer and MAC fit inside a page, and the page body left
// for ciphertext is a whole number of cipher blocks.
func (f Format) Validate() error {
	if f.PageSize <= 0 || f.KeySize <= 0 || f.SaltSize <= 0 ||
		f.MACSize <= 0 || f.IVSize <= 0 || f.BlockSize <= 0 {
		return fmt.Errorf("format sizes must be positive")
	}
	if f.EncIterations < 1 || f.MACIterations < 1 {
		return fmt.Errorf("iteration counts must be at least 1")
	}
	if f.DataEnd()+f.MACSize > f.PageSize {
		return fmt.Errorf("reserve trailer does not fit in a %d byte page", f.PageSize)
	}
	if body := f.PageSize - f.Reserve() - f.SaltSize; body <= 0 || body%f.BlockSize != 0 {
		return fmt.Errorf("page body is not a whole number of cipher blocks")
	}
	return nil
}
