package keylift

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha512"
	"errors"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/pbkdf2"

	"southwinds.dev/keylift/internal/misc"
)

// plainHeader replaces the salt at the head of the decrypted output, turning
// page one back into a standard database file header.
var plainHeader = []byte("SQLite format 3\x00")

// ErrInvalidKey reports that the supplied key does not authenticate the
// database's first page.
var ErrInvalidKey = errors.New("invalid key: page authentication failed")

// Decryptor rebuilds a plaintext database from an encrypted one using a
// recovered raw key. Every page body is decrypted with AES-256-CBC using the
// IV stored in that page's reserve trailer; the trailers themselves are
// copied through unchanged, which is what the plaintext on-disk form expects.
type Decryptor struct {
	format    Format
	validator *Validator
}

// NewDecryptor returns a Decryptor for the given page format.
func NewDecryptor(format Format) (*Decryptor, error) {
	validator, err := NewValidator(format)
	if err != nil {
		return nil, err
	}
	return &Decryptor{format: format, validator: validator}, nil
}

// DecryptDatabase decrypts the database at dbPath with key and writes the
// plaintext database to outPath. The key is verified against the first page
// before anything is written, so a wrong key fails with ErrInvalidKey and
// leaves no output behind.
func (d *Decryptor) DecryptDatabase(dbPath, outPath string, key []byte) error {
	f := d.format
	if len(key) != f.KeySize {
		return fmt.Errorf("key must be %d bytes, got %d", f.KeySize, len(key))
	}

	data, err := os.ReadFile(dbPath)
	if err != nil {
		return fmt.Errorf("read database: %w", err)
	}
	if len(data) < f.PageSize {
		return fmt.Errorf("%w: %s", ErrShortRead, dbPath)
	}
	if len(data)%f.PageSize != 0 {
		return fmt.Errorf("database size %d is not a multiple of the page size", len(data))
	}

	if !d.validator.Validate(data[:f.PageSize], key) {
		return ErrInvalidKey
	}

	salt := data[:f.SaltSize]
	encKey := pbkdf2.Key(key, salt, f.EncIterations, f.KeySize, sha512.New)
	defer memguard.WipeBytes(encKey)

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}

	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, misc.FilePermissions)
	if err != nil {
		return fmt.Errorf("create output database: %w", err)
	}
	defer out.Close()

	if _, err = out.Write(plainHeader); err != nil {
		return fmt.Errorf("write database header: %w", err)
	}

	reserveStart := f.PageSize - f.Reserve()
	for i := 0; i < len(data)/f.PageSize; i++ {
		page := data[i*f.PageSize : (i+1)*f.PageSize]

		// The salt occupies the head of page one only; every other page's
		// ciphertext starts at offset zero.
		offset := 0
		if i == 0 {
			offset = f.SaltSize
		}

		iv := page[reserveStart : reserveStart+f.IVSize]
		body := page[offset:reserveStart]
		plain := make([]byte, len(body))
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

		if _, err = out.Write(plain); err != nil {
			return fmt.Errorf("write page %d: %w", i+1, err)
		}
		if _, err = out.Write(page[reserveStart:]); err != nil {
			return fmt.Errorf("write page %d trailer: %w", i+1, err)
		}
	}

	return nil
}
