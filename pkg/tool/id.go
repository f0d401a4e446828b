package tool

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// GenerateUUIDV7 returns a time-ordered id, used as the surrogate key of every row.
func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// RandomHex returns n random bytes hex encoded.
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
