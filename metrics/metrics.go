package metrics

// Functions to manage the Prometheus metrics.
//
// To add a new statistic you should:
// 1. Update the metrics structure.
// 2. Prepare the metric instance in the newMetrics function.
// 3. Update the lease store query (if needed) in leasestore.
// 4. Change the updateMetrics function or record the events where
//    they happen through the collector.

import (
	"context"
	"math/big"
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"isc.org/dhcp6d/dhcpcfg"
	"isc.org/dhcp6d/leasestore"
)

// Set of the DHCPv6 server metrics.
type metrics struct {
	Registry *prometheus.Registry
	store    leasestore.Store
	config   *dhcpcfg.Config

	PacketsReceivedTotal *prometheus.CounterVec
	PacketsSentTotal     *prometheus.CounterVec
	PacketsDroppedTotal  prometheus.Counter
	LeasesGrantedTotal   *prometheus.CounterVec
	PoolExhaustionTotal  *prometheus.CounterVec

	SubnetAssignedNAs       *prometheus.GaugeVec
	SubnetAssignedPDs       *prometheus.GaugeVec
	SubnetDeclinedAddresses *prometheus.GaugeVec
	SubnetTotalNAs          *prometheus.GaugeVec
	SubnetTotalPDs          *prometheus.GaugeVec
}

// Constructor of the metrics. They are automatically registered in the
// Prometheus registry.
func newMetrics(store leasestore.Store, config *dhcpcfg.Config) *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	namespace := "dhcp6d"

	metrics := metrics{
		Registry: registry,
		store:    store,
		config:   config,

		PacketsReceivedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "packets",
			Name:      "received_total",
			Help:      "Received DHCPv6 packets",
		}, []string{"type"}),
		PacketsSentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "packets",
			Name:      "sent_total",
			Help:      "Sent DHCPv6 packets",
		}, []string{"type"}),
		PacketsDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "packets",
			Name:      "dropped_total",
			Help:      "Received DHCPv6 packets dropped without a reply",
		}),
		LeasesGrantedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "granted_total",
			Help:      "Leases granted to clients",
		}, []string{"type"}),
		PoolExhaustionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "pool_exhaustion_total",
			Help:      "Allocation attempts which found no free resource",
		}, []string{"type"}),
		SubnetAssignedNAs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subnet",
			Name:      "assigned_nas",
			Help:      "Assigned addresses in the subnet",
		}, []string{"subnet"}),
		SubnetAssignedPDs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subnet",
			Name:      "assigned_pds",
			Help:      "Assigned delegated prefixes in the subnet",
		}, []string{"subnet"}),
		SubnetDeclinedAddresses: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subnet",
			Name:      "declined_addresses",
			Help:      "Addresses currently declined and unavailable",
		}, []string{"subnet"}),
		SubnetTotalNAs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subnet",
			Name:      "total_nas",
			Help:      "Addresses offered by the subnet pools",
		}, []string{"subnet"}),
		SubnetTotalPDs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subnet",
			Name:      "total_pds",
			Help:      "Delegated prefixes offered by the subnet pools",
		}, []string{"subnet"}),
	}

	return &metrics
}

// Calculates the current per-subnet gauge values from the lease store
// and the configured pool capacities.
func (m *metrics) Update() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.GetStoreTimeout())
	defer cancel()

	stats, err := m.store.GetSubnetStats(ctx)
	if err != nil {
		return err
	}
	bySubnet := make(map[int64]leasestore.SubnetStats, len(stats))
	for _, subnetStats := range stats {
		bySubnet[subnetStats.SubnetID] = subnetStats
	}
	for i := range m.config.Subnets {
		subnet := &m.config.Subnets[i]
		labels := prometheus.Labels{"subnet": subnet.Prefix}
		subnetStats := bySubnet[subnet.ID]
		m.SubnetAssignedNAs.With(labels).Set(float64(subnetStats.AssignedNAs))
		m.SubnetAssignedPDs.With(labels).Set(float64(subnetStats.AssignedPDs))
		m.SubnetDeclinedAddresses.With(labels).Set(float64(subnetStats.Declined))
		m.SubnetTotalNAs.With(labels).Set(bigToGaugeValue(totalAddresses(subnet)))
		m.SubnetTotalPDs.With(labels).Set(bigToGaugeValue(totalPrefixes(subnet)))
	}
	return nil
}

// Unregister all metrics from the Prometheus registry.
func (m *metrics) UnregisterAll() {
	v := reflect.ValueOf(*m)
	typeMetrics := v.Type()
	for i := 0; i < typeMetrics.NumField(); i++ {
		fieldObj := v.Field(i)
		if !fieldObj.CanInterface() {
			// Field is not exported.
			continue
		}
		rawField := fieldObj.Interface()
		collector, ok := rawField.(prometheus.Collector)
		if !ok {
			continue
		}
		m.Registry.Unregister(collector)
	}
}

// Sums the capacities of the subnet address pools.
func totalAddresses(subnet *dhcpcfg.Subnet) *big.Int {
	total := big.NewInt(0)
	for _, pool := range subnet.Pools {
		total.Add(total, pool.Size())
	}
	return total
}

// Sums the capacities of the subnet prefix delegation pools.
func totalPrefixes(subnet *dhcpcfg.Subnet) *big.Int {
	total := big.NewInt(0)
	for _, pool := range subnet.PDPools {
		total.Add(total, pool.Size())
	}
	return total
}

// Converts a pool capacity to a gauge value. Capacities beyond the
// float64 precision lose the low digits, which does not matter at that
// scale.
func bigToGaugeValue(value *big.Int) float64 {
	result, _ := new(big.Float).SetInt(value).Float64()
	return result
}
