package svndiff

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeApplyRoundTripSingleByteAppend(t *testing.T) {
	base := []byte(strings.Repeat("x", 200))
	target := append(append([]byte(nil), base...), 'y')

	ops := Encode(base, target)
	got, err := Apply(base, ops)
	assert.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestEncodeApplyRoundTripEmptyBase(t *testing.T) {
	target := []byte("hello\n")
	ops := Encode(nil, target)
	got, err := Apply(nil, ops)
	assert.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestEncodeApplyRoundTripEmptyTarget(t *testing.T) {
	base := []byte("hello\n")
	ops := Encode(base, nil)
	got, err := Apply(base, ops)
	assert.NoError(t, err)
	assert.Equal(t, []byte(nil), got)
}

func TestEncodeFindsDuplicateRegion(t *testing.T) {
	base := []byte(strings.Repeat("0123456789", 20))
	target := append([]byte("PREFIX-"), base...)

	ops := Encode(base, target)
	var hasCopy bool
	for _, op := range ops {
		if op.IsCopy() {
			hasCopy = true
		}
	}
	assert.True(t, hasCopy, "expected at least one copy instruction for a duplicated region")

	got, err := Apply(base, ops)
	assert.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestWriteReadWindowRoundTrip(t *testing.T) {
	base := []byte(strings.Repeat("abcdefgh", 40))
	target := append(append([]byte(nil), base...), []byte("tail")...)
	ops := Encode(base, target)

	var buf bytes.Buffer
	assert.NoError(t, WriteWindow(&buf, ops))

	got, err := ReadWindow(bufio.NewReader(&buf))
	assert.NoError(t, err)
	assert.Equal(t, ops, got)

	reconstructed, err := Apply(base, got)
	assert.NoError(t, err)
	assert.Equal(t, target, reconstructed)
}

func TestApplyRejectsOutOfBoundsCopy(t *testing.T) {
	base := []byte("short")
	ops := []Op{{Tag: opCopy, Offset: 0, Length: 100}}
	_, err := Apply(base, ops)
	assert.Error(t, err)
}
