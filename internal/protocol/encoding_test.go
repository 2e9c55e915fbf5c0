package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestB64KnownValues(t *testing.T) {
	assert.Equal(t, []byte("@@"), EncodeB64(0, 2))
	assert.Equal(t, []byte("@A"), EncodeB64(1, 2))
	assert.Equal(t, []byte("AK"), EncodeB64(75, 2))
	assert.Equal(t, []byte("@@D"), EncodeB64(4, 3))

	assert.Equal(t, 75, DecodeB64([]byte("AK")))
	assert.Equal(t, 4, DecodeB64([]byte("@@D")))
	assert.Equal(t, MaxB64(3), DecodeB64([]byte{127, 127, 127}))
}

func TestB64RoundTrip(t *testing.T) {
	for _, length := range []int{1, 2, 3} {
		for _, value := range []int{0, 1, 63, 64, 65, 4095, MaxB64(length)} {
			if value > MaxB64(length) {
				continue
			}
			encoded := EncodeB64(value, length)
			require.Len(t, encoded, length)
			assert.Equal(t, value, DecodeB64(encoded), "length=%d value=%d", length, value)
		}
	}
}

func TestVL64KnownValues(t *testing.T) {
	tests := []struct {
		value   int
		encoded string
	}{
		{0, "H"},
		{1, "I"},
		{3, "K"},
		{-1, "M"},
		{4, "PA"},
		{-4, "TA"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.encoded, string(EncodeVL64(tt.value)), "encode %d", tt.value)

		value, n, err := DecodeVL64([]byte(tt.encoded))
		require.NoError(t, err)
		assert.Equal(t, tt.value, value)
		assert.Equal(t, len(tt.encoded), n)
	}
}

func TestVL64RoundTrip(t *testing.T) {
	values := []int{0, 1, 2, 63, 64, 255, 256, 1000, 65535, 1 << 20, 1<<31 - 1, -7, -1000, -(1 << 25)}
	for _, v := range values {
		encoded := EncodeVL64(v)
		decoded, n, err := DecodeVL64(encoded)
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, decoded)
		assert.Equal(t, len(encoded), n)
	}
}

func TestVL64Truncated(t *testing.T) {
	_, _, err := DecodeVL64(nil)
	assert.ErrorIs(t, err, ErrVL64Truncated)

	// заявлено два байта, пришёл один
	_, _, err = DecodeVL64([]byte("P"))
	assert.ErrorIs(t, err, ErrVL64Truncated)
}
