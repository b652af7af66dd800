package dhcputil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Test conversion of bytes to the hex string form.
func TestBytesToHex(t *testing.T) {
	require.Equal(t, "000300011A2B3C4D5E6F", BytesToHex([]byte{0x00, 0x03, 0x00, 0x01, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e, 0x6f}))
	require.Empty(t, BytesToHex([]byte{}))
}

// Test that a hex string is converted to bytes regardless of the
// separators used.
func TestHexToBytes(t *testing.T) {
	expected := []byte{0x00, 0x03, 0x00, 0x01, 0x1a, 0x2b}

	decoded, err := HexToBytes("000300011a2b")
	require.NoError(t, err)
	require.Equal(t, expected, decoded)

	decoded, err = HexToBytes("00:03:00:01:1a:2b")
	require.NoError(t, err)
	require.Equal(t, expected, decoded)

	decoded, err = HexToBytes("00-03-00-01-1a-2b")
	require.NoError(t, err)
	require.Equal(t, expected, decoded)
}

// Test that an invalid hex string causes an error.
func TestHexToBytesInvalid(t *testing.T) {
	_, err := HexToBytes("wrong")
	require.Error(t, err)
}

// Test that hex conversions round trip.
func TestHexRoundTrip(t *testing.T) {
	input := []byte{0xde, 0xad, 0xbe, 0xef}
	decoded, err := HexToBytes(BytesToHex(input))
	require.NoError(t, err)
	require.Equal(t, input, decoded)
}

// Test that the generated password has the expected length and is
// different each time.
func TestBase64Random(t *testing.T) {
	first, err := Base64Random(24)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := Base64Random(24)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}
