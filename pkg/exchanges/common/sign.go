package common

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignHex computes HMAC-SHA256 over data and returns the lowercase hex digest.
// All three supported venues authenticate with this primitive; only the signed
// payload layout differs.
func SignHex(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
