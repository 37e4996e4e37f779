package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultReplayWindow bounds the age of a signed callback.
const DefaultReplayWindow = 5 * time.Minute

// GenerateSignature returns the hex HMAC-SHA256 of "{timestamp}.{payload}".
func GenerateSignature(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateSignature verifies a signature and rejects timestamps more than
// replayWindow away from now.
func ValidateSignature(secret, signature string, timestamp int64, payload []byte, replayWindow time.Duration, now time.Time) error {
	if abs(now.Unix()-timestamp) > int64(replayWindow.Seconds()) {
		return ErrReplayWindowExceeded
	}

	expected := GenerateSignature(secret, timestamp, payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
