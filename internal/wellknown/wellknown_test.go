package wellknown

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/pkg/logger"
)

const ctnAddress = "ab27de521e43741cf785cbad450d5649187b9612018f"

func TestCatalogue_StaticLookup(t *testing.T) {
	c := NewCatalogue("", "xab", []*models.Token{
		{Symbol: "XCB", Decimals: 18, Native: true},
		{Symbol: "CTN", Address: "0x" + strings.ToUpper(ctnAddress), Decimals: 18},
	}, logger.NewNop())

	token, ok := c.Lookup("xcb")
	require.True(t, ok)
	assert.True(t, token.Native)

	token, ok = c.Lookup(ctnAddress)
	require.True(t, ok)
	assert.Equal(t, "CTN", token.Symbol)

	_, ok = c.Lookup("USDT")
	assert.False(t, ok)
	assert.NoError(t, c.FetchAndUpdateTokens())
}

func TestCatalogue_FetchAndUpdateTokens(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/tokens/xab/tokens.json", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			json.NewEncoder(w).Encode(TokensResponse{
				Tokens:     []string{ctnAddress},
				Pagination: Pagination{HasNext: true, Cursor: "next"},
			})
			return
		}
		json.NewEncoder(w).Encode(TokensResponse{Tokens: []string{"ab00000000000000000000000000000000000000nft0"}})
	})
	mux.HandleFunc("/.well-known/tokens/xab/"+ctnAddress+".json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TokenMetadata{Symbol: "CTN", Name: "Core Token", Decimals: 18, Type: "CBC20"})
	})
	mux.HandleFunc("/.well-known/tokens/xab/ab00000000000000000000000000000000000000nft0.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TokenMetadata{Symbol: "ART", Type: "CBC721"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := NewCatalogue(server.URL, "xab", nil, logger.NewNop())
	defer c.Stop()
	require.NoError(t, c.FetchAndUpdateTokens())

	token, ok := c.Lookup("ctn")
	require.True(t, ok)
	assert.Equal(t, ctnAddress, token.Address)
	assert.Equal(t, 18, token.Decimals)

	_, ok = c.Lookup("ART")
	assert.False(t, ok, "non-fungible tokens are not payment currencies")
}

func TestCatalogue_FetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewCatalogue(server.URL, "xab", nil, logger.NewNop())
	defer c.Stop()
	assert.Error(t, c.FetchAndUpdateTokens())
}
