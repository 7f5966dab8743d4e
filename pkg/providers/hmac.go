package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"
)

// SignHex returns the hex HMAC of msg with the given hash constructor.
func SignHex(newHash func() hash.Hash, secret string, msg []byte) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHex compares a hex signature against the expected HMAC in constant time.
func VerifyHex(newHash func() hash.Hash, secret string, msg []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrAuthentication
	}
	got, err := hex.DecodeString(strings.TrimSpace(strings.ToLower(signature)))
	if err != nil {
		return ErrAuthentication
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(msg)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrAuthentication
	}
	return nil
}

// SHA256 and SHA512 are the hash constructors providers sign with.
var (
	SHA256 = sha256.New
	SHA512 = sha512.New
)
