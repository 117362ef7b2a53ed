package secure

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SignHMAC computes the hex-encoded HMAC-SHA256 of message under secret.
func SignHMAC(secret, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC recomputes HMAC-SHA256(secret, message) and compares it against
// the provided hex signature in constant time. Inputs of different lengths
// are padded to the longer length before comparison so the cost does not
// short-circuit on a length mismatch; the mismatch itself still fails.
func VerifyHMAC(secret, message []byte, provided string) bool {
	expected := SignHMAC(secret, message)
	return ConstantTimeEqual(expected, provided)
}

// ConstantTimeEqual compares two strings without early exit. Both inputs are
// zero-padded to equal length so that comparing values of different lengths
// costs the same as comparing equal-length ones.
func ConstantTimeEqual(a, b string) bool {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	aPad := make([]byte, maxLen)
	bPad := make([]byte, maxLen)
	copy(aPad, a)
	copy(bPad, b)

	equal := subtle.ConstantTimeCompare(aPad, bPad) == 1
	return equal && len(a) == len(b)
}
