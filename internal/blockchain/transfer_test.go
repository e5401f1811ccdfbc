package blockchain

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "cb27de521e43741cf785cbad450d5649187b9612018f"
	bob   = "cb57bbbb54cdf60fa666fd741be78f794d4608d67109"
)

func encodeWordAddress(t *testing.T, addr string) []byte {
	t.Helper()
	raw, err := hex.DecodeString(addr)
	require.NoError(t, err)
	w := make([]byte, wordSize)
	copy(w[wordSize-len(raw):], raw)
	return w
}

func encodeWordInt(v int64) []byte {
	w := make([]byte, wordSize)
	b := big.NewInt(v).Bytes()
	copy(w[wordSize-len(b):], b)
	return w
}

func calldata(selector []byte, words ...[]byte) []byte {
	out := append([]byte{}, selector...)
	for _, w := range words {
		out = append(out, w...)
	}
	return out
}

func TestDecodeTokenTransfers_Transfer(t *testing.T) {
	input := calldata(selectorTransfer, encodeWordAddress(t, bob), encodeWordInt(1500))

	transfers := DecodeTokenTransfers(input)
	require.Len(t, transfers, 1)
	assert.Equal(t, bob, transfers[0].To)
	assert.Empty(t, transfers[0].From)
	assert.Equal(t, int64(1500), transfers[0].Amount.Int64())
}

func TestDecodeTokenTransfers_TransferFrom(t *testing.T) {
	input := calldata(selectorTransferFrom,
		encodeWordAddress(t, alice), encodeWordAddress(t, bob), encodeWordInt(42))

	transfers := DecodeTokenTransfers(input)
	require.Len(t, transfers, 1)
	assert.Equal(t, alice, transfers[0].From)
	assert.Equal(t, bob, transfers[0].To)
	assert.Equal(t, int64(42), transfers[0].Amount.Int64())
}

func TestDecodeTokenTransfers_Batch(t *testing.T) {
	// head: offset of recipients (0x40), offset of amounts (0xa0)
	input := calldata(selectorBatchTransfer,
		encodeWordInt(0x40), encodeWordInt(0xa0),
		encodeWordInt(2), encodeWordAddress(t, alice), encodeWordAddress(t, bob),
		encodeWordInt(2), encodeWordInt(10), encodeWordInt(20),
	)

	transfers := DecodeTokenTransfers(input)
	require.Len(t, transfers, 2)
	assert.Equal(t, alice, transfers[0].To)
	assert.Equal(t, int64(10), transfers[0].Amount.Int64())
	assert.Equal(t, bob, transfers[1].To)
	assert.Equal(t, int64(20), transfers[1].Amount.Int64())
}

func TestDecodeTokenTransfers_Rejects(t *testing.T) {
	assert.Nil(t, DecodeTokenTransfers(nil))
	assert.Nil(t, DecodeTokenTransfers([]byte{0x01, 0x02}))
	assert.Nil(t, DecodeTokenTransfers(calldata(selectorTransfer, encodeWordAddress(t, bob))))
	assert.Nil(t, DecodeTokenTransfers(calldata([]byte{0xde, 0xad, 0xbe, 0xef}, encodeWordAddress(t, bob), encodeWordInt(1))))
	// batch with mismatched array lengths
	assert.Nil(t, DecodeTokenTransfers(calldata(selectorBatchTransfer,
		encodeWordInt(0x40), encodeWordInt(0x80),
		encodeWordInt(1), encodeWordAddress(t, alice),
		encodeWordInt(2), encodeWordInt(10), encodeWordInt(20),
	)))
}
