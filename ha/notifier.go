// Package ha couples the server with a high availability partner. The
// partner receives every committed lease change as a JSON POST and a
// periodic heartbeat, and the notifier tracks whether the partner
// responds. The coupling is deliberately loose: a missed update is
// logged and dropped, the partner resynchronizes from the lease store
// when it takes over.
package ha

import (
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	dhcpdata "isc.org/dhcp6d/datamodel"
	"isc.org/dhcp6d/dhcpcfg"
	dhcputil "isc.org/dhcp6d/util"
)

// Maximum number of lease updates awaiting the worker.
const leaseUpdateQueueSize = 1024

// Timeout for a single request to the partner.
const requestTimeout = 10 * time.Second

// Payload of the periodic heartbeat.
type Heartbeat struct {
	State string    `json:"state"`
	Time  time.Time `json:"time"`
}

// Sends lease updates and heartbeats to the partner. A notifier
// created without a partner URL discards everything, so the callers do
// not need to check whether high availability is configured.
type Notifier struct {
	config *dhcpcfg.HAConfig
	client *resty.Client
	queue  chan dhcpdata.Lease
	done   chan struct{}
	wg     sync.WaitGroup

	heartbeatExecutor *dhcputil.PeriodicExecutor

	mutex sync.RWMutex
	// Partner state. Unknown until the first heartbeat completes.
	reachable      bool
	reachableKnown bool
}

// Creates the notifier and starts its lease update worker. Heartbeats
// are not scheduled until Start is called. It is valid to pass a nil
// configuration.
func NewNotifier(config *dhcpcfg.HAConfig) *Notifier {
	notifier := &Notifier{
		config: config,
		queue:  make(chan dhcpdata.Lease, leaseUpdateQueueSize),
		done:   make(chan struct{}),
	}
	if !notifier.Enabled() {
		return notifier
	}
	notifier.client = resty.New().SetTimeout(requestTimeout)
	notifier.wg.Add(1)
	go notifier.worker()
	log.WithFields(log.Fields{
		"partner": config.PartnerURL,
	}).Info("Started the HA partner notifier")
	return notifier
}

// Indicates whether a partner is configured.
func (notifier *Notifier) Enabled() bool {
	return notifier.config != nil && notifier.config.PartnerURL != ""
}

// Begins sending heartbeats at the configured interval.
func (notifier *Notifier) Start() error {
	if !notifier.Enabled() {
		return nil
	}
	executor, err := dhcputil.NewPeriodicExecutor("HA heartbeats",
		notifier.SendHeartbeat,
		func() (time.Duration, error) {
			return notifier.config.GetHeartbeatInterval(), nil
		})
	if err != nil {
		return err
	}
	notifier.heartbeatExecutor = executor
	return nil
}

// Stops the heartbeats and the lease update worker. Updates still
// sitting in the queue are dropped.
func (notifier *Notifier) Shutdown() {
	if !notifier.Enabled() {
		return
	}
	if notifier.heartbeatExecutor != nil {
		notifier.heartbeatExecutor.Shutdown()
		notifier.heartbeatExecutor = nil
	}
	log.Info("Stopping the HA partner notifier")
	close(notifier.done)
	notifier.wg.Wait()
}

// Reports whether the partner responded to the most recent heartbeat.
// It returns false until the first heartbeat completes.
func (notifier *Notifier) PartnerReachable() bool {
	notifier.mutex.RLock()
	defer notifier.mutex.RUnlock()
	return notifier.reachableKnown && notifier.reachable
}

// Queues the committed lease for delivery to the partner. The call
// never blocks. When the queue is full the update is dropped and an
// error is logged.
func (notifier *Notifier) QueueLeaseUpdate(lease *dhcpdata.Lease) {
	if !notifier.Enabled() || lease == nil {
		return
	}
	select {
	case notifier.queue <- *lease:
	default:
		log.WithFields(log.Fields{
			"resource": lease.Resource(),
		}).Error("HA lease update queue is full, dropping the update")
	}
}

// Takes the lease updates off the queue and sends them until the
// notifier is shut down.
func (notifier *Notifier) worker() {
	defer notifier.wg.Done()
	for {
		select {
		case lease := <-notifier.queue:
			notifier.sendLeaseUpdate(lease)
		case <-notifier.done:
			return
		}
	}
}

// Delivers a single lease update to the partner. Failures are logged
// and the update is dropped, the partner resynchronizes from the store
// when it becomes active.
func (notifier *Notifier) sendLeaseUpdate(lease dhcpdata.Lease) {
	fields := log.Fields{
		"resource": lease.Resource(),
		"state":    lease.State.String(),
	}
	response, err := notifier.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(&lease).
		Post(notifier.makeURL("lease-update"))
	if err != nil {
		log.WithError(err).WithFields(fields).Warn("Problem sending the lease update to the HA partner")
		return
	}
	if response.IsError() {
		fields["status"] = response.StatusCode()
		log.WithFields(fields).Warn("HA partner rejected the lease update")
	}
}

// Performs a single heartbeat exchange with the partner and records
// the outcome.
func (notifier *Notifier) SendHeartbeat() error {
	heartbeat := Heartbeat{
		State: "running",
		Time:  time.Now().UTC(),
	}
	response, err := notifier.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(&heartbeat).
		Post(notifier.makeURL("heartbeat"))
	if err != nil {
		notifier.setReachable(false)
		return pkgerrors.Wrap(err, "problem sending the heartbeat to the HA partner")
	}
	if response.IsError() {
		notifier.setReachable(false)
		return pkgerrors.Errorf("HA partner responded to the heartbeat with status %d", response.StatusCode())
	}
	notifier.setReachable(true)
	return nil
}

// Records the partner state and logs the transitions.
func (notifier *Notifier) setReachable(reachable bool) {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	if notifier.reachableKnown && notifier.reachable == reachable {
		return
	}
	notifier.reachable = reachable
	notifier.reachableKnown = true
	if reachable {
		log.Info("HA partner is reachable")
	} else {
		log.Warn("HA partner stopped responding to heartbeats")
	}
}

// Appends the path to the partner URL ensuring correct slashes.
func (notifier *Notifier) makeURL(path string) string {
	return strings.TrimRight(notifier.config.PartnerURL, "/") + "/" + path
}
