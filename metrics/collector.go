package metrics

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	dhcpdata "isc.org/dhcp6d/datamodel"
	"isc.org/dhcp6d/dhcpcfg"
	"isc.org/dhcp6d/leasestore"
	dhcputil "isc.org/dhcp6d/util"
	"isc.org/dhcp6d/wire"
)

// Interval between refreshes of the per-subnet gauges from the lease
// store.
const pullerInterval = 10 * time.Second

// Interface of the metrics collector. The collector is a background
// worker refreshing the per-subnet statistics, and the packet path
// records its events through it.
//
// It is responsible for creating the HTTP handler to access the
// metrics.
type Collector interface {
	// Counts a received packet of the given type.
	RecordPacketReceived(messageType wire.MessageType)
	// Counts a sent packet of the given type.
	RecordPacketSent(messageType wire.MessageType)
	// Counts a packet dropped without a reply.
	RecordPacketDropped()
	// Counts a lease granted to a client.
	RecordLeaseGranted(leaseType dhcpdata.LeaseType)
	// Counts an allocation attempt which found no free resource.
	RecordPoolExhaustion(leaseType dhcpdata.LeaseType)
	// It returns the metrics on HTTP request.
	GetHTTPHandler(next http.Handler) http.Handler
	// Shutdown metrics collecting.
	Shutdown()
}

// Metrics collector created on top of the Prometheus library.
type prometheusCollector struct {
	metrics *metrics
	puller  *dhcputil.PeriodicExecutor
}

// Creates an instance of the metrics collector and starts refreshing
// the per-subnet statistics periodically.
func NewCollector(store leasestore.Store, config *dhcpcfg.Config) (Collector, error) {
	metrics := newMetrics(store, config)

	// Initialize the gauges.
	err := metrics.Update()
	if err != nil {
		return nil, errors.WithMessage(err, "error during metrics initialization")
	}

	puller, err := dhcputil.NewPeriodicExecutor("metrics collector",
		metrics.Update,
		func() (time.Duration, error) {
			return pullerInterval, nil
		},
	)
	if err != nil {
		return nil, err
	}

	return &prometheusCollector{
		metrics: metrics,
		puller:  puller,
	}, nil
}

func (c *prometheusCollector) RecordPacketReceived(messageType wire.MessageType) {
	c.metrics.PacketsReceivedTotal.With(prometheus.Labels{"type": messageType.String()}).Inc()
}

func (c *prometheusCollector) RecordPacketSent(messageType wire.MessageType) {
	c.metrics.PacketsSentTotal.With(prometheus.Labels{"type": messageType.String()}).Inc()
}

func (c *prometheusCollector) RecordPacketDropped() {
	c.metrics.PacketsDroppedTotal.Inc()
}

func (c *prometheusCollector) RecordLeaseGranted(leaseType dhcpdata.LeaseType) {
	c.metrics.LeasesGrantedTotal.With(prometheus.Labels{"type": leaseType.String()}).Inc()
}

func (c *prometheusCollector) RecordPoolExhaustion(leaseType dhcpdata.LeaseType) {
	c.metrics.PoolExhaustionTotal.With(prometheus.Labels{"type": leaseType.String()}).Inc()
}

// Creates standard Prometheus HTTP handler.
func (c *prometheusCollector) GetHTTPHandler(next http.Handler) http.Handler {
	return promhttp.HandlerFor(c.metrics.Registry, promhttp.HandlerOpts{
		ErrorLog: logrus.StandardLogger(),
	})
}

// Stops periodically collecting the metrics and unregisters all
// metrics.
func (c *prometheusCollector) Shutdown() {
	c.puller.Shutdown()
	c.metrics.UnregisterAll()
}
