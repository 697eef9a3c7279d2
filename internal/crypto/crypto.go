package crypto

import (
	"encoding/hex"
	"errors"

	"github.com/gtank/cryptopasta"
)

// Cipher is a hex-encoded 256-bit key used to encrypt credentials at
// rest in the account store.
type Cipher string

// NewKey generates a fresh random key suitable for use as a Cipher.
func NewKey() Cipher {
	return Cipher(hex.EncodeToString(cryptopasta.NewEncryptionKey()[:]))
}

func (c Cipher) secureKey() (*[32]byte, error) {
	secureKey, err := hex.DecodeString(string(c))
	if err != nil {
		return nil, err
	}
	if len(secureKey) != 32 {
		return nil, errors.New("cipher key must be 32 bytes")
	}

	return (*[32]byte)(secureKey), nil
}

func (c Cipher) Encrypt(value string) (string, error) {
	secureKey, err := c.secureKey()
	if err != nil {
		return "", err
	}

	encryptedValue, err := cryptopasta.Encrypt([]byte(value), secureKey)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(encryptedValue), nil
}

func (c Cipher) Decrypt(value string) (string, error) {
	secureKey, err := c.secureKey()
	if err != nil {
		return "", err
	}

	decodedValue, err := hex.DecodeString(value)
	if err != nil {
		return "", err
	}

	decryptedValue, err := cryptopasta.Decrypt(decodedValue, secureKey)
	if err != nil {
		return "", err
	}

	return string(decryptedValue), nil
}
