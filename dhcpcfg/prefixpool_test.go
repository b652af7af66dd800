package dhcpcfg

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// Test that the prefix and the prefix length are combined into the
// canonical pool prefix.
func TestPrefixPoolGetCanonicalPrefix(t *testing.T) {
	pool := PDPool{
		Prefix:       "3000::",
		PrefixLen:    80,
		DelegatedLen: 96,
	}
	require.Equal(t, "3000::/80", pool.GetCanonicalPrefix())
	require.Empty(t, pool.GetCanonicalExcludedPrefix())
}

// Test that the excluded prefix is returned in the canonical form.
func TestPrefixPoolGetCanonicalExcludedPrefix(t *testing.T) {
	pool := PDPool{
		Prefix:            "3000::",
		PrefixLen:         80,
		DelegatedLen:      96,
		ExcludedPrefix:    "3000::abcd:0:0",
		ExcludedPrefixLen: 112,
	}
	require.Equal(t, "3000::abcd:0:0/112", pool.GetCanonicalExcludedPrefix())
}

// Test calculating the number of delegated prefixes in the pool.
func TestPrefixPoolSize(t *testing.T) {
	pool := PDPool{
		Prefix:       "3000::",
		PrefixLen:    80,
		DelegatedLen: 96,
	}
	require.EqualValues(t, 65536, pool.Size().Int64())
}

// Test checking the pool membership of a delegated prefix. The prefix
// must be within the pool prefix and its length must match the
// delegated length exactly.
func TestPrefixPoolContains(t *testing.T) {
	pool := PDPool{
		Prefix:       "3000::",
		PrefixLen:    80,
		DelegatedLen: 96,
	}
	require.True(t, pool.Contains(net.ParseIP("3000::abcd:0:0"), 96))
	require.False(t, pool.Contains(net.ParseIP("3000::abcd:0:0"), 95))
	require.False(t, pool.Contains(net.ParseIP("3001::"), 96))
}

// Test that a delegated prefix overlapping the excluded prefix is
// recognized as excluded.
func TestPrefixPoolIsExcluded(t *testing.T) {
	pool := PDPool{
		Prefix:            "3000::",
		PrefixLen:         80,
		DelegatedLen:      96,
		ExcludedPrefix:    "3000::abcd:0:0",
		ExcludedPrefixLen: 112,
	}
	require.True(t, pool.IsExcluded(net.ParseIP("3000::abcd:0:0")))
	require.False(t, pool.IsExcluded(net.ParseIP("3000::1:0:0")))

	unrestricted := PDPool{
		Prefix:       "3000::",
		PrefixLen:    80,
		DelegatedLen: 96,
	}
	require.False(t, unrestricted.IsExcluded(net.ParseIP("3000::abcd:0:0")))
}

// Test that the client class restricts the pool membership.
func TestPrefixPoolPermits(t *testing.T) {
	pool := PDPool{
		Prefix:       "3000::",
		PrefixLen:    80,
		DelegatedLen: 96,
		ClientClass:  "routers",
	}
	require.False(t, pool.Permits(nil))
	require.True(t, pool.Permits([]string{"routers"}))
}

// Test the validation of the delegated prefix pool parameters.
func TestPrefixPoolValidate(t *testing.T) {
	valid := PDPool{
		Prefix:       "3000::",
		PrefixLen:    80,
		DelegatedLen: 96,
	}
	require.NoError(t, valid.validate())

	validExcluded := PDPool{
		Prefix:            "3000::",
		PrefixLen:         80,
		DelegatedLen:      96,
		ExcludedPrefix:    "3000::abcd:0:0",
		ExcludedPrefixLen: 112,
	}
	require.NoError(t, validExcluded.validate())

	badPrefix := PDPool{
		Prefix:       "not-a-prefix",
		PrefixLen:    80,
		DelegatedLen: 96,
	}
	require.Error(t, badPrefix.validate())

	delegatedTooShort := PDPool{
		Prefix:       "3000::",
		PrefixLen:    80,
		DelegatedLen: 64,
	}
	require.Error(t, delegatedTooShort.validate())

	delegatedTooLong := PDPool{
		Prefix:       "3000::",
		PrefixLen:    80,
		DelegatedLen: 129,
	}
	require.Error(t, delegatedTooLong.validate())

	excludedTooShort := PDPool{
		Prefix:            "3000::",
		PrefixLen:         80,
		DelegatedLen:      96,
		ExcludedPrefix:    "3000::abcd:0:0",
		ExcludedPrefixLen: 96,
	}
	require.Error(t, excludedTooShort.validate())

	excludedOutside := PDPool{
		Prefix:            "3000::",
		PrefixLen:         80,
		DelegatedLen:      96,
		ExcludedPrefix:    "3001::",
		ExcludedPrefixLen: 112,
	}
	require.Error(t, excludedOutside.validate())
}
