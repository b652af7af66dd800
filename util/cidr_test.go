package dhcputil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// Test that an IP address or prefix can be parsed.
func TestParseIP(t *testing.T) {
	parsedIP := ParseIP("2001:db8:1::/48")
	require.NotNil(t, parsedIP)
	require.Equal(t, IPv6, parsedIP.Protocol)
	require.Equal(t, "2001:db8:1::/48", parsedIP.NetworkAddress)
	require.Equal(t, "2001:db8:1::", parsedIP.NetworkPrefix)
	require.EqualValues(t, 48, parsedIP.PrefixLength)
	require.True(t, parsedIP.Prefix)
	require.True(t, parsedIP.CIDR)

	parsedIP = ParseIP("2001:db8:1::1")
	require.NotNil(t, parsedIP)
	require.Equal(t, IPv6, parsedIP.Protocol)
	require.Equal(t, "2001:db8:1::1", parsedIP.NetworkAddress)
	require.Equal(t, "2001:db8:1::1", parsedIP.NetworkPrefix)
	require.EqualValues(t, 128, parsedIP.PrefixLength)
	require.False(t, parsedIP.Prefix)
	require.False(t, parsedIP.CIDR)

	parsedIP = ParseIP("192.0.2.1")
	require.NotNil(t, parsedIP)
	require.Equal(t, IPv4, parsedIP.Protocol)
	require.EqualValues(t, 32, parsedIP.PrefixLength)
	require.False(t, parsedIP.Prefix)
}

// Test that parsing an invalid IP address or prefix returns nil.
func TestParseIPInvalid(t *testing.T) {
	require.Nil(t, ParseIP("2001:db8::x"))
	require.Nil(t, ParseIP(""))
	require.Nil(t, ParseIP("2001:db8::/200"))
}

// Test parsing an IP range specified as a pair of addresses.
func TestParseIPRangeBounds(t *testing.T) {
	lb, ub, err := ParseIPRange("2001:db8:1::10 - 2001:db8:1::ff")
	require.NoError(t, err)
	require.Equal(t, "2001:db8:1::10", lb.String())
	require.Equal(t, "2001:db8:1::ff", ub.String())
}

// Test parsing an IP range specified as a prefix.
func TestParseIPRangePrefix(t *testing.T) {
	lb, ub, err := ParseIPRange("2001:db8:1:1::/64")
	require.NoError(t, err)
	require.Equal(t, "2001:db8:1:1::", lb.String())
	require.Equal(t, "2001:db8:1:1:ffff:ffff:ffff:ffff", ub.String())
}

// Test that parsing a range mixing families or garbage fails.
func TestParseIPRangeInvalid(t *testing.T) {
	_, _, err := ParseIPRange("192.0.2.1 - 2001:db8:1::ff")
	require.Error(t, err)

	_, _, err = ParseIPRange("2001:db8:1::1 - 2001:db8:1::2 - 2001:db8:1::3")
	require.Error(t, err)

	_, _, err = ParseIPRange("wrong")
	require.Error(t, err)
}

// Test that an address is correctly located within the range.
func TestIsInRange(t *testing.T) {
	lb := net.ParseIP("2001:db8:1::10")
	ub := net.ParseIP("2001:db8:1::20")

	require.True(t, ParseIP("2001:db8:1::10").IsInRange(lb, ub))
	require.True(t, ParseIP("2001:db8:1::15").IsInRange(lb, ub))
	require.True(t, ParseIP("2001:db8:1::20").IsInRange(lb, ub))
	require.False(t, ParseIP("2001:db8:1::21").IsInRange(lb, ub))
	require.False(t, ParseIP("2001:db8:1::f").IsInRange(lb, ub))
	// A prefix never matches an address range.
	require.False(t, ParseIP("2001:db8:1::/64").IsInRange(lb, ub))
}

// Test that a delegated prefix is located within the prefix pool.
func TestIsInPrefixRange(t *testing.T) {
	require.True(t, ParseIP("2001:db8:1:2::/64").IsInPrefixRange("2001:db8:1::", 48, 64))
	require.False(t, ParseIP("2001:db8:2:2::/64").IsInPrefixRange("2001:db8:1::", 48, 64))
	// Mismatched delegated length.
	require.False(t, ParseIP("2001:db8:1:2::/80").IsInPrefixRange("2001:db8:1::", 48, 64))
	// An address never matches a prefix range.
	require.False(t, ParseIP("2001:db8:1::1").IsInPrefixRange("2001:db8:1::", 48, 64))
}

// Test the address range size calculation.
func TestCalculateRangeSize(t *testing.T) {
	lb := net.ParseIP("2001:db8:1::10")
	ub := net.ParseIP("2001:db8:1::1f")
	require.EqualValues(t, 16, CalculateRangeSize(lb, ub).Int64())

	require.EqualValues(t, 1, CalculateRangeSize(lb, lb).Int64())
}

// Test the delegated prefix range size calculation.
func TestCalculateDelegatedPrefixRangeSize(t *testing.T) {
	require.EqualValues(t, 65536, CalculateDelegatedPrefixRangeSize(48, 64).Int64())
	require.EqualValues(t, 1, CalculateDelegatedPrefixRangeSize(64, 64).Int64())
	// Invalid arguments.
	require.EqualValues(t, 0, CalculateDelegatedPrefixRangeSize(64, 48).Int64())
}

// Test combining a prefix and its length into the CIDR notation.
func TestFormatCIDRNotation(t *testing.T) {
	require.Equal(t, "2001:db8:1::/48", FormatCIDRNotation("2001:db8:1::", 48))
}
