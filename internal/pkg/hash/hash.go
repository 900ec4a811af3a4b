// Package hash provides hashing utilities.
package hash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/mr-tron/base58"
)

// SHA256 computes the SHA256 hash of data and returns it as a hex string.
func SHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256String computes the SHA256 hash of a string.
func SHA256String(s string) string {
	return SHA256([]byte(s))
}

// SHA256Short returns the first n characters of a SHA256 hash.
func SHA256Short(data []byte, n int) string {
	h := SHA256(data)
	if n > len(h) {
		return h
	}
	return h[:n]
}

// Base58Short computes SHA256 over data and returns the first n characters
// of the Base58 rendering of the digest.
func Base58Short(data []byte, n int) string {
	h := sha256.Sum256(data)
	enc := base58.Encode(h[:])
	if n > len(enc) {
		return enc
	}
	return enc[:n]
}

// Digest computes the content digest used for change detection.
func Digest(content string) string {
	return SHA256String(content)
}
