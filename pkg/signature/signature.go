// Package signature signs and verifies gateway parameters with HMAC-SHA256.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// ParamName is the parameter that carries the signature itself.
const ParamName = "signature"

func HMACSHA256Hex(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares hex signatures in constant time, ignoring case.
func Equal(expected, actual string) bool {
	return hmac.Equal([]byte(strings.ToLower(expected)), []byte(strings.ToLower(actual)))
}

// Canonical renders params as sorted key=value pairs joined by &, skipping the signature.
// Only the first value of each key is signed.
func Canonical(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == ParamName {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params.Get(k))
	}
	return b.String()
}

// SignParams returns the signature of params under secret.
func SignParams(secret string, params url.Values) string {
	return HMACSHA256Hex(secret, Canonical(params))
}

// VerifyParams checks the signature parameter carried in params.
func VerifyParams(secret string, params url.Values) bool {
	sig := params.Get(ParamName)
	if sig == "" {
		return false
	}
	return Equal(SignParams(secret, params), sig)
}

// WithSignature returns a copy of params with the signature set.
func WithSignature(secret string, params url.Values) url.Values {
	out := url.Values{}
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}
	out.Set(ParamName, SignParams(secret, params))
	return out
}
