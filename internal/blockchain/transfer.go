package blockchain

import (
	"bytes"
	"encoding/hex"
	"math/big"
)

// Selectors of the CBC20 transfer functions (first four bytes of the calldata).
var (
	// transfer(address,uint256)
	selectorTransfer = mustSelector("4b40e901")
	// batchTransfer(address[],uint256[])
	selectorBatchTransfer = mustSelector("e86e7c5f")
	// transferFrom(address,address,uint256)
	selectorTransferFrom = mustSelector("31f2e679")
)

const (
	wordSize    = 32
	addressSize = 22
)

// TokenTransfer is one token movement encoded in a CBC20 call.
type TokenTransfer struct {
	// From is empty for transfer and batchTransfer, where the sender is the transaction signer.
	From   string
	To     string
	Amount *big.Int
}

// DecodeTokenTransfers decodes the transfers carried by CBC20 calldata.
// It returns nil for calldata that is not a supported transfer call or is malformed.
func DecodeTokenTransfers(input []byte) []*TokenTransfer {
	if len(input) < 4 {
		return nil
	}
	selector, args := input[:4], input[4:]

	switch {
	case bytes.Equal(selector, selectorTransfer):
		if len(args) < 2*wordSize {
			return nil
		}
		return []*TokenTransfer{{
			To:     wordAddress(word(args, 0)),
			Amount: new(big.Int).SetBytes(word(args, 1)),
		}}
	case bytes.Equal(selector, selectorTransferFrom):
		if len(args) < 3*wordSize {
			return nil
		}
		return []*TokenTransfer{{
			From:   wordAddress(word(args, 0)),
			To:     wordAddress(word(args, 1)),
			Amount: new(big.Int).SetBytes(word(args, 2)),
		}}
	case bytes.Equal(selector, selectorBatchTransfer):
		return decodeBatch(args)
	}
	return nil
}

// decodeBatch reads the two dynamic arrays of batchTransfer(address[],uint256[]).
func decodeBatch(args []byte) []*TokenTransfer {
	if len(args) < 2*wordSize {
		return nil
	}
	recipients, ok := dynamicArray(args, word(args, 0))
	if !ok {
		return nil
	}
	amounts, ok := dynamicArray(args, word(args, 1))
	if !ok || len(amounts) != len(recipients) {
		return nil
	}
	transfers := make([]*TokenTransfer, 0, len(recipients))
	for i := range recipients {
		transfers = append(transfers, &TokenTransfer{
			To:     wordAddress(recipients[i]),
			Amount: new(big.Int).SetBytes(amounts[i]),
		})
	}
	return transfers
}

func dynamicArray(args []byte, offsetWord []byte) ([][]byte, bool) {
	offset := new(big.Int).SetBytes(offsetWord)
	if !offset.IsInt64() || offset.Int64()+wordSize > int64(len(args)) {
		return nil, false
	}
	start := int(offset.Int64())
	count := new(big.Int).SetBytes(args[start : start+wordSize])
	if !count.IsInt64() {
		return nil, false
	}
	n := int(count.Int64())
	if start+wordSize+n*wordSize > len(args) {
		return nil, false
	}
	items := make([][]byte, n)
	for i := 0; i < n; i++ {
		from := start + wordSize + i*wordSize
		items[i] = args[from : from+wordSize]
	}
	return items, true
}

func word(args []byte, i int) []byte {
	return args[i*wordSize : (i+1)*wordSize]
}

// wordAddress takes the right-aligned 22-byte address out of an ABI word.
func wordAddress(w []byte) string {
	return hex.EncodeToString(w[wordSize-addressSize:])
}

func mustSelector(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
