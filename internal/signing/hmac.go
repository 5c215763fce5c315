package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Sign returns a "v1=<hex>" HMAC-SHA256 signature over "<timestamp>.<payload>".
func Sign(secret string, payload []byte) (signature string, timestamp int64) {
	timestamp = time.Now().Unix()
	return SignAt(secret, payload, timestamp), timestamp
}

func SignAt(secret string, payload []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}

func Verify(secret string, payload []byte, timestamp int64, signature string) bool {
	expected := SignAt(secret, payload, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}
