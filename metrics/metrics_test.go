package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	dhcpdata "isc.org/dhcp6d/datamodel"
	"isc.org/dhcp6d/dhcpcfg"
	"isc.org/dhcp6d/leasestore"
)

// Configuration with one subnet offering four addresses and four
// delegated prefixes.
const metricsTestConfig = `{
	"Dhcp6": {
		"subnet6": [{
			"id": 1,
			"subnet": "2001:db8:1::/64",
			"pools": [{ "pool": "2001:db8:1::10-2001:db8:1::13" }],
			"pd-pools": [{
				"prefix": "3000::",
				"prefix-len": 64,
				"delegated-len": 66
			}]
		}]
	}
}`

// Creates a lease store and a configuration for the metrics tests.
func setupMetricsTest(t *testing.T) (*leasestore.MemoryStore, *dhcpcfg.Config) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC))
	store := leasestore.NewMemoryStore(clk)
	config, err := dhcpcfg.NewFromJSON([]byte(metricsTestConfig))
	require.NoError(t, err)
	return store, config
}

// Reads a gauge for the given subnet from the registry.
func gatherSubnetGauge(t *testing.T, m *metrics, name, subnet string) float64 {
	t.Helper()
	mfs, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, family := range mfs {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "subnet" && label.GetValue() == subnet {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s for subnet %s not found", name, subnet)
	return 0
}

// All metrics should be properly constructed.
func TestNewMetrics(t *testing.T) {
	metrics := newMetrics(nil, nil)
	mfs, _ := metrics.Registry.Gather()

	require.NotNil(t, metrics)
	// Prometheus has lazy-initialization of the metrics. Only the
	// metrics with at least one value are enumerated by the gather.
	// The dropped packets metric is a single counter initialized with
	// 0. The rest are vectors without any value at the beginning.
	require.Len(t, mfs, 1)
}

// All metrics should be unregistered.
func TestUnregisterAllMetrics(t *testing.T) {
	metrics := newMetrics(nil, nil)

	metrics.UnregisterAll()
	mfs, _ := metrics.Registry.Gather()

	require.Empty(t, mfs)
}

// Test that the per-subnet gauges reflect the lease store contents and
// the configured pool capacities.
func TestMetricsUpdate(t *testing.T) {
	store, config := setupMetricsTest(t)
	ctx := context.Background()

	assigned := dhcpdata.NewAddressLease("2001:db8:1::10", "00:03:00:01:aa:bb:cc:dd:ee:01", 1, 1)
	assigned.ValidLifetime = 2000
	require.NoError(t, store.AddLease(ctx, assigned))

	declined := dhcpdata.NewAddressLease("2001:db8:1::11", "00:03:00:01:aa:bb:cc:dd:ee:02", 1, 1)
	declined.State = dhcpdata.LeaseStateDeclined
	declined.ValidLifetime = 3600
	require.NoError(t, store.AddLease(ctx, declined))

	prefix := dhcpdata.NewPrefixLease("3000::", 66, "00:03:00:01:aa:bb:cc:dd:ee:03", 1, 1)
	prefix.ValidLifetime = 2000
	require.NoError(t, store.AddLease(ctx, prefix))

	metrics := newMetrics(store, config)
	defer metrics.UnregisterAll()
	require.NoError(t, metrics.Update())

	subnet := "2001:db8:1::/64"
	require.EqualValues(t, 1, gatherSubnetGauge(t, metrics, "dhcp6d_subnet_assigned_nas", subnet))
	require.EqualValues(t, 1, gatherSubnetGauge(t, metrics, "dhcp6d_subnet_assigned_pds", subnet))
	require.EqualValues(t, 1, gatherSubnetGauge(t, metrics, "dhcp6d_subnet_declined_addresses", subnet))
	require.EqualValues(t, 4, gatherSubnetGauge(t, metrics, "dhcp6d_subnet_total_nas", subnet))
	require.EqualValues(t, 4, gatherSubnetGauge(t, metrics, "dhcp6d_subnet_total_pds", subnet))
}
