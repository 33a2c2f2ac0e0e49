package room

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^[A-Z]+-[A-Z]+-\d{4}$`)

func TestGenerateCode_MatchesProtocolFormat(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := GenerateCode()
		assert.Regexp(t, codePattern, code)
		assert.True(t, ValidCode(code), code)
	}
}

func TestValidCode(t *testing.T) {
	assert.True(t, ValidCode("SWIFT-CODER-1234"))
	assert.True(t, ValidCode("A-B-0000"))

	assert.False(t, ValidCode("swift-coder-1234"))
	assert.False(t, ValidCode("SWIFT-CODER-123"))
	assert.False(t, ValidCode("SWIFT-CODER-12345"))
	assert.False(t, ValidCode("SWIFTCODER1234"))
	assert.False(t, ValidCode("SWIFT-COD3R-1234"))
	assert.False(t, ValidCode(""))
}

func TestCodeAllocator_NilLockAlwaysReserves(t *testing.T) {
	a := NewCodeAllocator(nil)
	require.True(t, a.Reserve(nil, "SWIFT-CODER-1234"))

	// Release без Redis - no-op
	a.Release(nil, "SWIFT-CODER-1234")
}
