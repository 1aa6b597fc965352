package util

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewSecret returns a bearer credential of the form "<prefix>-<n random
// alphanumeric characters>". The suffix is drawn from crypto/rand; the value
// is handed to callers exactly once and stored verbatim for lookup.
func NewSecret(prefix string, n int) string {
	alphabetSize := big.NewInt(int64(len(secretAlphabet)))
	suffix := make([]byte, n)
	for i := range suffix {
		idx, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			// crypto/rand only fails when the platform entropy source is broken.
			panic(err)
		}
		suffix[i] = secretAlphabet[idx.Int64()]
	}
	return prefix + "-" + string(suffix)
}
