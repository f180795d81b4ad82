package fsfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormatReadsLinearLayout(t *testing.T) {
	f, err := ParseFormat([]byte("6\nlayout linear\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, f.Number)
	assert.False(t, f.Layout.Sharded)
}

func TestParseFormatReadsShardedLayout(t *testing.T) {
	f, err := ParseFormat([]byte("6\nlayout sharded 1000\n"))
	require.NoError(t, err)
	assert.True(t, f.Layout.Sharded)
	assert.Equal(t, 1000, f.Layout.ShardSize)
}

func TestParseFormatRejectsFutureFormat(t *testing.T) {
	_, err := ParseFormat([]byte("99\nlayout linear\n"))
	require.Error(t, err)
	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, FormatUnsupported, ferr.Kind)
}

func TestParseFormatRejectsEmptyFile(t *testing.T) {
	_, err := ParseFormat(nil)
	require.Error(t, err)
}

func TestFormatEncodeRoundTripsSharded(t *testing.T) {
	f := Format{Number: 6, Layout: Layout{Sharded: true, ShardSize: 1000}}
	parsed, err := ParseFormat(f.Encode())
	require.NoError(t, err)
	assert.Equal(t, f, parsed)
}

func TestFormatEncodeRoundTripsLinear(t *testing.T) {
	f := Format{Number: 6, Layout: Layout{Sharded: false}}
	parsed, err := ParseFormat(f.Encode())
	require.NoError(t, err)
	assert.Equal(t, f, parsed)
}

func TestFormatFeatureGatesByNumber(t *testing.T) {
	old := Format{Number: 3}
	assert.False(t, old.packedLayoutSupported())
	assert.False(t, old.repSharingSupported())
	assert.True(t, old.mergeinfoSupported())
	assert.True(t, old.txnCurrentSupported())

	current := Format{Number: CurrentFormat}
	assert.True(t, current.packedLayoutSupported())
	assert.True(t, current.packedRevpropsSupported())
	assert.True(t, current.deltificationCtlSupported())
}
