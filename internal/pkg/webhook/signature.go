package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the payload signature subscribers use to authenticate a
// delivery: hex(HMAC-SHA256(secret, event ":" operationRef ":" status)).
// The field order is fixed; recipients rebuild the exact same string.
func Sign(secret, event, operationRef, status string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(event + ":" + operationRef + ":" + status))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature in constant time.
func Verify(secret, event, operationRef, status, signature string) bool {
	expected := Sign(secret, event, operationRef, status)
	return hmac.Equal([]byte(expected), []byte(signature))
}
