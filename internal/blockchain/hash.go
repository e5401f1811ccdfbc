package blockchain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/core-coin/go-core/v2/common"
)

// NormalizeTxHash returns hash as 0x followed by 64 lower-case hex digits.
// Differently spelled references to the same transaction normalize equal.
func NormalizeTxHash(hash string) (string, error) {
	h := strings.TrimSpace(hash)
	if strings.HasPrefix(h, "0x") || strings.HasPrefix(h, "0X") {
		h = h[2:]
	}
	if len(h) != 2*common.HashLength {
		return "", fmt.Errorf("invalid transaction hash %q", hash)
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return "", fmt.Errorf("invalid transaction hash %q: %w", hash, err)
	}
	return common.BytesToHash(b).Hex(), nil
}
