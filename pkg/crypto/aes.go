// Package crypto implements the relay's symmetric cipher service: AES-256-CBC
// with PKCS#7 padding, a well-known default key for group traffic, and a
// retry-with-default-key fallback so best-effort decryption for logging never
// fails hard.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// DefaultKey is the well-known group key. Content encrypted with it is
// readable by every participant, including the relay; clients that negotiate
// a private key out-of-band use that instead.
var DefaultKey = []byte("12345678901234567890123456789012")

// DecryptFailedSentinel is returned by DecryptText when neither the supplied
// key nor the default key recovers the plaintext.
const DecryptFailedSentinel = "[unreadable encrypted message]"

var (
	ErrInvalidKeySize = errors.New("key must be 32 bytes")
	ErrInvalidIV      = errors.New("iv must match the cipher block size")
	ErrShortCipher    = errors.New("ciphertext is empty or not block-aligned")
)

// normalizeKey maps a nil/empty key to the default key.
func normalizeKey(key []byte) []byte {
	if len(key) == 0 {
		return DefaultKey
	}
	return key
}

// EncryptText encrypts a string with AES-256-CBC. A nil key means the
// well-known default key. A fresh random IV is generated per call and
// returned alongside the ciphertext.
func EncryptText(plaintext string, key []byte) (ciphertext, iv []byte, err error) {
	return EncryptBytes([]byte(plaintext), key)
}

// EncryptBytes encrypts a binary payload (file or video data) the same way
// EncryptText encrypts strings.
func EncryptBytes(data, key []byte) (ciphertext, iv []byte, err error) {
	key = normalizeKey(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKeySize, err)
	}

	iv = make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	padded := pkcs7Pad(data, aes.BlockSize)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return ciphertext, iv, nil
}

// DecryptText decrypts ciphertext, retrying once with the default key when
// the supplied key fails and differs from the default. If both attempts fail
// it returns DecryptFailedSentinel rather than an error, so callers
// inspecting content for logging never have to handle a failure path.
func DecryptText(ciphertext, key, iv []byte) string {
	plaintext, err := decryptWithFallback(ciphertext, key, iv)
	if err != nil {
		return DecryptFailedSentinel
	}
	return string(plaintext)
}

// DecryptBytes is the binary-payload variant of DecryptText. The failure
// sentinel is a nil slice.
func DecryptBytes(ciphertext, key, iv []byte) []byte {
	plaintext, err := decryptWithFallback(ciphertext, key, iv)
	if err != nil {
		return nil
	}
	return plaintext
}

func decryptWithFallback(ciphertext, key, iv []byte) ([]byte, error) {
	key = normalizeKey(key)

	plaintext, err := decryptOnce(ciphertext, key, iv)
	if err == nil {
		return plaintext, nil
	}

	// Group and broadcast traffic always uses the well-known key; a private
	// key that fails here usually means the content was not for that key.
	if !bytes.Equal(key, DefaultKey) {
		return decryptOnce(ciphertext, DefaultKey, iv)
	}

	return nil, err
}

func decryptOnce(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeySize, err)
	}

	if len(iv) != aes.BlockSize {
		return nil, ErrInvalidIV
	}

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrShortCipher
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	return pkcs7Unpad(padded, aes.BlockSize)
}
