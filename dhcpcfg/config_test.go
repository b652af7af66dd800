package dhcpcfg

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"isc.org/dhcp6d/testutil"
)

// A valid configuration used by several tests. It contains comments to
// verify that the parser accepts the commented JSON.
var testConfig = `{
	// DHCPv6 server configuration.
	"Dhcp6": {
		"interfaces": ["eth0"],
		"server-id-file": "/var/lib/dhcp6d/server-id",
		"renew-timer": 1000,
		"rebind-timer": 2000,
		"preferred-lifetime": 3000,
		"valid-lifetime": 4000,
		"subnet6": [
			{
				"id": 1,
				"subnet": "2001:db8:1::/64",
				"interface": "eth0",
				"pools": [
					{ "pool": "2001:db8:1::10 - 2001:db8:1::20" }
				],
				"pd-pools": [
					{
						"prefix": "3000::",
						"prefix-len": 80,
						"delegated-len": 96
					}
				],
				"option-data": [
					{
						"name": "dns-servers",
						"code": 23,
						"csv-format": true,
						"data": "2001:db8:1::53"
					}
				]
			},
			{
				"id": 2,
				"subnet": "2001:db8:2::/64",
				/* This subnet overrides the global lifetimes. */
				"preferred-lifetime": 500,
				"valid-lifetime": 600
			}
		],
		"expired-leases-processing": {
			"reclaim-timer-wait-time": 3
		},
		"dhcp-ddns": {
			"enable-updates": true,
			"server-ip": "2001:db8::1",
			"qualifying-suffix": "dyn.example.org"
		},
		"high-availability": {
			"partner-url": "http://partner.example.org:8080"
		}
	}
}`

// Test that a commented JSON configuration is parsed and the global
// values propagate to the subnets which do not override them.
func TestNewFromJSON(t *testing.T) {
	cfg, err := NewFromJSON([]byte(testConfig))
	require.NoError(t, err)

	require.Equal(t, []string{"eth0"}, cfg.Interfaces)
	require.Equal(t, "/var/lib/dhcp6d/server-id", cfg.ServerIDFile)
	require.Len(t, cfg.Subnets, 2)

	first := cfg.GetSubnet(1)
	require.NotNil(t, first)
	require.EqualValues(t, 1000, first.GetT1())
	require.EqualValues(t, 2000, first.GetT2())
	require.EqualValues(t, 3000, first.GetPreferredLifetime())
	require.EqualValues(t, 4000, first.GetValidLifetime())
	require.Len(t, first.Pools, 1)
	require.Len(t, first.PDPools, 1)
	require.Len(t, first.OptionData, 1)

	second := cfg.GetSubnet(2)
	require.NotNil(t, second)
	require.EqualValues(t, 500, second.GetPreferredLifetime())
	require.EqualValues(t, 600, second.GetValidLifetime())

	require.Nil(t, cfg.GetSubnet(9))
}

// Test that unset global values get defaults.
func TestConfigDefaults(t *testing.T) {
	cfg, err := NewFromJSON([]byte(testConfig))
	require.NoError(t, err)

	require.Equal(t, 24*time.Hour, cfg.GetDeclineProbationPeriod())
	require.Equal(t, 30*time.Second, cfg.GetAvoidReuseTTL())
	require.Equal(t, 5*time.Second, cfg.GetStoreTimeout())

	processing := cfg.ExpiredLeasesProcessing
	require.NotNil(t, processing)
	require.Equal(t, 3*time.Second, processing.GetReclaimTimerWaitTime())
	require.Equal(t, time.Hour, processing.GetHoldReclaimedTime())
	require.Equal(t, 25*time.Second, processing.GetFlushReclaimedTimerWaitTime())

	require.NotNil(t, cfg.DDNS)
	require.EqualValues(t, 53, cfg.DDNS.ServerPort)
	require.EqualValues(t, 3600, cfg.DDNS.TTL)

	require.NotNil(t, cfg.HA)
	require.Equal(t, 10*time.Second, cfg.HA.GetHeartbeatInterval())
}

// Test loading a configuration file.
func TestLoadConfig(t *testing.T) {
	sandbox := testutil.NewSandbox()
	defer sandbox.Close()

	path, err := sandbox.Write("dhcp6d.json", testConfig)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Subnets, 2)
}

// Test that loading a non-existing file returns an error.
func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/dhcp6d.json")
	require.Error(t, err)
}

// Test that a configuration without the Dhcp6 root object is
// rejected.
func TestNewFromJSONNoRoot(t *testing.T) {
	_, err := NewFromJSON([]byte(`{"Dhcp4": {}}`))
	require.Error(t, err)
}

// Test the configuration validation errors.
func TestConfigValidation(t *testing.T) {
	invalid := []struct {
		name   string
		config string
	}{
		{
			name:   "empty interface name",
			config: `{"Dhcp6": {"interfaces": [""]}}`,
		},
		{
			name:   "subnet without id",
			config: `{"Dhcp6": {"subnet6": [{"subnet": "2001:db8:1::/64"}]}}`,
		},
		{
			name: "duplicated subnet id",
			config: `{"Dhcp6": {"subnet6": [
				{"id": 1, "subnet": "2001:db8:1::/64"},
				{"id": 1, "subnet": "2001:db8:2::/64"}
			]}}`,
		},
		{
			name:   "invalid subnet prefix",
			config: `{"Dhcp6": {"subnet6": [{"id": 1, "subnet": "192.0.2.0/24"}]}}`,
		},
		{
			name: "pool outside subnet",
			config: `{"Dhcp6": {"subnet6": [{
				"id": 1,
				"subnet": "2001:db8:1::/64",
				"pools": [{"pool": "2001:db8:2::10 - 2001:db8:2::20"}]
			}]}}`,
		},
		{
			name: "pool bounds swapped",
			config: `{"Dhcp6": {"subnet6": [{
				"id": 1,
				"subnet": "2001:db8:1::/64",
				"pools": [{"pool": "2001:db8:1::20 - 2001:db8:1::10"}]
			}]}}`,
		},
		{
			name: "delegated length shorter than pool prefix",
			config: `{"Dhcp6": {"subnet6": [{
				"id": 1,
				"subnet": "2001:db8:1::/64",
				"pd-pools": [{"prefix": "3000::", "prefix-len": 80, "delegated-len": 64}]
			}]}}`,
		},
		{
			name: "bad option data",
			config: `{"Dhcp6": {"option-data": [
				{"code": 23, "data": "not-hex"}
			]}}`,
		},
		{
			name: "DDNS server address invalid",
			config: `{"Dhcp6": {"dhcp-ddns": {
				"enable-updates": true,
				"server-ip": "not-an-address"
			}}}`,
		},
		{
			name:   "HA partner URL missing",
			config: `{"Dhcp6": {"high-availability": {"partner-url": ""}}}`,
		},
	}
	for _, tc := range invalid {
		_, err := NewFromJSON([]byte(tc.config))
		require.Error(t, err, "case: %s", tc.name)
	}
}

// Test selecting a subnet by the relay link address and by the
// receiving interface.
func TestSelectSubnet(t *testing.T) {
	cfg, err := NewFromJSON([]byte(testConfig))
	require.NoError(t, err)

	relayed := cfg.SelectSubnet(net.ParseIP("2001:db8:2::100"), "")
	require.NotNil(t, relayed)
	require.EqualValues(t, 2, relayed.ID)

	direct := cfg.SelectSubnet(nil, "eth0")
	require.NotNil(t, direct)
	require.EqualValues(t, 1, direct.ID)

	require.Nil(t, cfg.SelectSubnet(net.ParseIP("2001:db8:9::1"), ""))
	require.Nil(t, cfg.SelectSubnet(net.IPv6unspecified, "eth9"))
	require.Nil(t, cfg.SelectSubnet(nil, ""))
}
