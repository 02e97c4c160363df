// Package id generates identifiers and credentials for minion runs.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const tokenLength = 32
const tokenChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Generate creates a unique identifier with the given prefix.
// Format: <prefix>_<8 hex chars> (e.g., "run_abc12345").
func Generate(prefix string) string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID if crypto/rand fails (extremely unlikely)
		return prefix + "_" + hex.EncodeToString([]byte(time.Now().Format("150405.0")))[:8]
	}
	return prefix + "_" + hex.EncodeToString(b)
}

// ForkBranch returns a fresh fork branch name. UUIDv7 keeps branch names
// time-ordered, so successive runs sort chronologically in branch listings.
func ForkBranch() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating fork branch name: %w", err)
	}
	return u.String(), nil
}

// Token creates a cryptographically random alphanumeric bearer credential.
func Token() (string, error) {
	b := make([]byte, tokenLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(tokenChars))))
		if err != nil {
			return "", fmt.Errorf("generating token: %w", err)
		}
		b[i] = tokenChars[n.Int64()]
	}
	return string(b), nil
}
