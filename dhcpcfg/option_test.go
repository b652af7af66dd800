package dhcpcfg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"isc.org/dhcp6d/wire"
)

// Test that an option with hex data is converted to its wire form.
func TestSingleOptionDataToWireHex(t *testing.T) {
	option := SingleOptionData{
		Code: 23,
		Data: "20010DB8000100000000000000000053",
	}
	wireOption, err := option.ToWire()
	require.NoError(t, err)
	require.Equal(t, wire.OptionDNSServers, wireOption.Code())

	payload, err := wireOption.Marshal()
	require.NoError(t, err)
	require.Len(t, payload, 16)
}

// Test that invalid hex data is rejected.
func TestSingleOptionDataToWireInvalidHex(t *testing.T) {
	option := SingleOptionData{
		Code: 23,
		Data: "not-hex",
	}
	_, err := option.ToWire()
	require.Error(t, err)
}

// Test that a comma separated list of DNS server addresses is packed
// into concatenated IPv6 addresses.
func TestSingleOptionDataToWireDNSServers(t *testing.T) {
	option := SingleOptionData{
		Code:      23,
		CSVFormat: true,
		Data:      "2001:db8::53, 2001:db8::54",
	}
	wireOption, err := option.ToWire()
	require.NoError(t, err)

	payload, err := wireOption.Marshal()
	require.NoError(t, err)
	require.Len(t, payload, 32)
	require.EqualValues(t, 0x53, payload[15])
	require.EqualValues(t, 0x54, payload[31])
}

// Test that an IPv4 address in the DNS server list is rejected.
func TestSingleOptionDataToWireDNSServersInvalid(t *testing.T) {
	option := SingleOptionData{
		Code:      23,
		CSVFormat: true,
		Data:      "192.0.2.1",
	}
	_, err := option.ToWire()
	require.Error(t, err)
}

// Test that a domain search list is packed into a sequence of
// DNS wire format names.
func TestSingleOptionDataToWireDomainList(t *testing.T) {
	option := SingleOptionData{
		Code:      24,
		CSVFormat: true,
		Data:      "example.org.",
	}
	wireOption, err := option.ToWire()
	require.NoError(t, err)

	payload, err := wireOption.Marshal()
	require.NoError(t, err)
	require.Equal(t, []byte{7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'o', 'r', 'g', 0}, payload)
}

// Test that the csv format is rejected for options without a known
// value syntax.
func TestSingleOptionDataToWireUnsupportedCSV(t *testing.T) {
	option := SingleOptionData{
		Code:      7,
		CSVFormat: true,
		Data:      "10",
	}
	_, err := option.ToWire()
	require.Error(t, err)
}

// Test that the response option set contains the always-send options
// and the requested options, with subnet-level options overriding the
// global ones.
func TestWireOptions(t *testing.T) {
	global := []SingleOptionData{
		{
			Code:      23,
			CSVFormat: true,
			Data:      "2001:db8::53",
		},
		{
			Code:       24,
			CSVFormat:  true,
			Data:       "example.org.",
			AlwaysSend: true,
		},
	}
	subnet := []SingleOptionData{
		{
			Code:      23,
			CSVFormat: true,
			Data:      "2001:db8:1::53",
		},
	}
	oro := &wire.OptionRequest{Codes: []wire.OptionCode{wire.OptionDNSServers}}

	options, err := WireOptions(global, subnet, oro)
	require.NoError(t, err)
	require.Len(t, options, 2)

	var codes []wire.OptionCode
	for _, option := range options {
		codes = append(codes, option.Code())
	}
	require.Contains(t, codes, wire.OptionDNSServers)
	require.Contains(t, codes, wire.OptionDomainList)

	// The subnet-level DNS server list wins over the global one.
	for _, option := range options {
		if option.Code() == wire.OptionDNSServers {
			payload, err := option.Marshal()
			require.NoError(t, err)
			require.EqualValues(t, 1, payload[5])
		}
	}
}

// Test that nothing is sent when the client requested nothing and no
// option is marked always-send.
func TestWireOptionsNoneRequested(t *testing.T) {
	global := []SingleOptionData{
		{
			Code:      23,
			CSVFormat: true,
			Data:      "2001:db8::53",
		},
	}
	options, err := WireOptions(global, nil, nil)
	require.NoError(t, err)
	require.Empty(t, options)
}
