package dhcpcfg

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// Test that the subnet prefix is parsed and cached and that address
// membership checks use it.
func TestSubnetContains(t *testing.T) {
	subnet := Subnet{
		ID:     1,
		Prefix: "2001:db8:1::/64",
	}
	require.NoError(t, subnet.finalize())
	require.True(t, subnet.Contains(net.ParseIP("2001:db8:1::10")))
	require.True(t, subnet.Contains(net.ParseIP("2001:db8:1::ffff:ffff:ffff:ffff")))
	require.False(t, subnet.Contains(net.ParseIP("2001:db8:2::10")))
}

// Test that finalizing a subnet with an invalid prefix returns an
// error.
func TestSubnetFinalizeInvalidPrefix(t *testing.T) {
	invalid := []Subnet{
		{ID: 1, Prefix: "2001:db8:1::10"},
		{ID: 2, Prefix: "192.0.2.0/24"},
		{ID: 3, Prefix: "not-a-prefix"},
	}
	for _, subnet := range invalid {
		require.Error(t, subnet.finalize(), "prefix: %s", subnet.Prefix)
	}
}

// Test retrieving the subnet boundaries.
func TestSubnetGetBoundaries(t *testing.T) {
	subnet := Subnet{
		ID:     1,
		Prefix: "2001:db8:1::/64",
	}
	require.NoError(t, subnet.finalize())
	lb, ub, err := subnet.GetBoundaries()
	require.NoError(t, err)
	require.Equal(t, "2001:db8:1::", lb.String())
	require.Equal(t, "2001:db8:1:0:ffff:ffff:ffff:ffff", ub.String())
}

// Test that the configured lifetimes are returned and the defaults are
// used when they are not set.
func TestSubnetLifetimes(t *testing.T) {
	subnet := Subnet{
		ID:                1,
		Prefix:            "2001:db8:1::/64",
		PreferredLifetime: newUint32(1000),
		ValidLifetime:     newUint32(2000),
	}
	require.EqualValues(t, 1000, subnet.GetPreferredLifetime())
	require.EqualValues(t, 2000, subnet.GetValidLifetime())

	bare := Subnet{ID: 2, Prefix: "2001:db8:2::/64"}
	require.Equal(t, DefaultPreferredLifetime, bare.GetPreferredLifetime())
	require.Equal(t, DefaultValidLifetime, bare.GetValidLifetime())
}

// Test that explicitly configured renew and rebind timers take
// precedence over the values derived from the preferred lifetime.
func TestSubnetTimersConfigured(t *testing.T) {
	subnet := Subnet{
		ID:                1,
		Prefix:            "2001:db8:1::/64",
		RenewTimer:        newUint32(600),
		RebindTimer:       newUint32(900),
		PreferredLifetime: newUint32(1000),
	}
	require.EqualValues(t, 600, subnet.GetT1())
	require.EqualValues(t, 900, subnet.GetT2())
}

// Test that unset renew and rebind timers default to 0.5 and 0.8 of
// the preferred lifetime.
func TestSubnetTimersDerived(t *testing.T) {
	subnet := Subnet{
		ID:                1,
		Prefix:            "2001:db8:1::/64",
		PreferredLifetime: newUint32(1000),
	}
	require.EqualValues(t, 500, subnet.GetT1())
	require.EqualValues(t, 800, subnet.GetT2())
}

// Test that the subnet client class restricts access.
func TestSubnetPermits(t *testing.T) {
	subnet := Subnet{
		ID:          1,
		Prefix:      "2001:db8:1::/64",
		ClientClass: "gold",
	}
	require.False(t, subnet.Permits([]string{"silver"}))
	require.True(t, subnet.Permits([]string{"silver", "gold"}))
}
