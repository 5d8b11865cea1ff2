package hmac

import (
	"crypto/hmac"
	"crypto/sha256"
)

// DigestSize is the length of an HMAC-SHA256 tag.
const DigestSize = sha256.Size

// Sum computes HMAC-SHA256 over the concatenation of parts using key.
func Sum(key []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

// Equal compares two tags in constant time.
func Equal(a, b []byte) bool {
	return hmac.Equal(a, b)
}
