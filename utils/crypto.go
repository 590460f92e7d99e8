package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ZeroResolver is the resolver value that cancels a hash-locked transfer
// instead of claiming it.
const ZeroResolver = "0x0000000000000000000000000000000000000000000000000000000000000000"

// GeneratePreImage returns a fresh 32-byte secret as a 0x-prefixed hex string.
func GeneratePreImage() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate preimage: %w", err)
	}
	return hexutil.Encode(buf), nil
}

// HashLockOf derives the hashlock committed to by a preimage.
func HashLockOf(preImage string) (string, error) {
	raw, err := hexutil.Decode(preImage)
	if err != nil {
		return "", fmt.Errorf("invalid preimage: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hexutil.Encode(sum[:]), nil
}

// IsZeroResolver reports whether a resolver value is the cancellation signal.
// An empty resolver is not a cancellation.
func IsZeroResolver(resolver string) bool {
	trimmed := strings.TrimPrefix(resolver, "0x")
	if trimmed == "" {
		return false
	}
	for _, c := range trimmed {
		if c != '0' {
			return false
		}
	}
	return true
}
