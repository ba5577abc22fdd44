package crypto

import (
	"bytes"
	"errors"
)

var ErrInvalidPadding = errors.New("invalid padding")

// pkcs7Pad pads data to a multiple of blockSize. A full block of padding is
// added when data is already aligned, so padding is always removable.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

// pkcs7Unpad removes PKCS#7 padding. Every padding byte is checked; a single
// wrong byte fails the whole unpad, which is how a wrong-key decrypt is
// usually detected in CBC mode.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}

	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, ErrInvalidPadding
	}

	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrInvalidPadding
		}
	}

	return data[:len(data)-padLen], nil
}
