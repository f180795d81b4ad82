package fsfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCurrentModernFormatIsABareDecimal(t *testing.T) {
	cur, err := parseCurrent([]byte("42\n"), Format{Number: 6})
	require.NoError(t, err)
	assert.Equal(t, int64(42), cur.Youngest)
}

func TestParseCurrentLegacyFormatIsThreeBase36Tokens(t *testing.T) {
	cur, err := parseCurrent([]byte("2a 1 1\n"), Format{Number: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2*36+10), cur.Youngest)
	assert.Equal(t, "1", cur.NextNodeID)
	assert.Equal(t, "1", cur.NextCopyID)
}

func TestParseCurrentRejectsMalformedLegacyLine(t *testing.T) {
	_, err := parseCurrent([]byte("only-one-field\n"), Format{Number: 2})
	require.Error(t, err)
}

func TestParseCurrentRejectsNonNumericModernLine(t *testing.T) {
	_, err := parseCurrent([]byte("not-a-number\n"), Format{Number: 6})
	require.Error(t, err)
}
