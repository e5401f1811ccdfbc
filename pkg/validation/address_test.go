package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const testAddress = "cb27de521e43741cf785cbad450d5649187b9612018f"

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(testAddress))
	assert.NoError(t, ValidateAddress("0x"+testAddress))
	assert.NoError(t, ValidateAddress("CB27DE521E43741CF785CBAD450D5649187B9612018F"))

	assert.Error(t, ValidateAddress(""))
	assert.Error(t, ValidateAddress("cb27"))
	assert.Error(t, ValidateAddress("zz27de521e43741cf785cbad450d5649187b9612018f"))
}

func TestSameAddress(t *testing.T) {
	assert.True(t, SameAddress(testAddress, "0xCB27DE521E43741CF785CBAD450D5649187B9612018F"))
	assert.False(t, SameAddress(testAddress, "cb27de521e43741cf785cbad450d5649187b9612018e"))
	assert.False(t, SameAddress("", ""))
}

func TestValidateAndNormalizeAddress(t *testing.T) {
	normalized, err := ValidateAndNormalizeAddress("0xCB27DE521E43741CF785CBAD450D5649187B9612018F")
	assert.NoError(t, err)
	assert.Equal(t, testAddress, normalized)

	_, err = ValidateAndNormalizeAddress("nope")
	assert.Error(t, err)
}
