package blockchain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTxHash(t *testing.T) {
	const canonical = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	bare := strings.TrimPrefix(canonical, "0x")

	for _, in := range []string{canonical, bare, "0x" + strings.ToUpper(bare), "0X" + bare, "  " + canonical + "\n"} {
		got, err := NormalizeTxHash(in)
		require.NoError(t, err, in)
		assert.Equal(t, canonical, got)
	}

	for _, in := range []string{"", "0x", "0x1234", canonical + "00", "0x" + strings.Repeat("zz", 32)} {
		_, err := NormalizeTxHash(in)
		assert.Error(t, err, in)
	}
}
