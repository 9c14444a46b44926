package provider

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// SignHMACSHA512 returns the hex HMAC-SHA512 of body under secret.
func SignHMACSHA512(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validHMACSHA512(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := SignHMACSHA512(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// normalizeStatus folds provider specific status words into the three
// statuses settlement understands. Unknown words stay pending.
func normalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "successful", "success", "succeeded", "completed", "approved", "paid":
		return StatusSuccessful
	case "failed", "failure", "declined", "reversed", "cancelled", "canceled", "abandoned", "rejected":
		return StatusFailed
	default:
		return StatusPending
	}
}

func normalizeAccountStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved", "active", "success", "successful":
		return AccountActive
	case "declined", "failed", "rejected":
		return AccountDeclined
	case "closed", "deactivated", "inactive":
		return AccountClosed
	default:
		return AccountPending
	}
}
