// Package ddns sends dynamic DNS updates for leases. The DHCPv6 server
// queues name change requests as it assigns and reclaims leases and a
// background worker translates them into RFC 2136 UPDATE messages
// carrying AAAA and PTR records.
package ddns

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	dhcpdata "isc.org/dhcp6d/datamodel"
	"isc.org/dhcp6d/dhcpcfg"
)

// Maximum number of requests awaiting the worker. Requests queued when
// the channel is full are dropped.
const queueSize = 1024

// Timeout for a single exchange with the DNS server.
const updateTimeout = 3 * time.Second

// Type of the change requested for the DNS records of a lease.
type ChangeType int

const (
	// Add the records of a newly assigned or renewed lease.
	Add ChangeType = iota
	// Remove the records of a lease going away.
	Remove
)

// Returns a textual representation of the change type.
func (changeType ChangeType) String() string {
	if changeType == Remove {
		return "remove"
	}
	return "add"
}

// A single name change passed to the DNS server. The forward change
// affects the AAAA record of the FQDN, the reverse change affects the
// PTR record of the leased address.
type NameChangeRequest struct {
	Type    ChangeType
	Forward bool
	Reverse bool
	// Domain name of the updated records with the terminating dot.
	FQDN    string
	Address string
	TTL     uint32
}

// Sends DNS updates on behalf of the DHCPv6 server. The requests are
// queued and a worker goroutine performs the exchanges with the DNS
// server, so queueing a change never blocks the packet path. A notifier
// created from a configuration with updates disabled silently discards
// all requests.
type Notifier struct {
	config *dhcpcfg.DDNSConfig
	client *dns.Client
	// DNS server address in the host:port form.
	server string
	queue  chan NameChangeRequest
	done   chan struct{}
	wg     sync.WaitGroup
}

// Creates the notifier and starts its worker when the configuration
// enables DNS updates. It is valid to pass a nil configuration.
func NewNotifier(config *dhcpcfg.DDNSConfig) *Notifier {
	notifier := &Notifier{
		config: config,
		queue:  make(chan NameChangeRequest, queueSize),
		done:   make(chan struct{}),
	}
	if !notifier.Enabled() {
		return notifier
	}
	notifier.server = net.JoinHostPort(config.ServerIP, strconv.FormatInt(int64(config.ServerPort), 10))
	notifier.client = &dns.Client{Timeout: updateTimeout}
	notifier.wg.Add(1)
	go notifier.worker()
	log.WithFields(log.Fields{
		"server": notifier.server,
	}).Info("Started the DNS update notifier")
	return notifier
}

// Indicates whether the notifier performs any updates.
func (notifier *Notifier) Enabled() bool {
	return notifier.config != nil && notifier.config.EnableUpdates && notifier.config.ServerIP != ""
}

// Stops the worker. Requests still sitting in the queue are dropped.
func (notifier *Notifier) Shutdown() {
	if !notifier.Enabled() {
		return
	}
	log.Info("Stopping the DNS update notifier")
	close(notifier.done)
	notifier.wg.Wait()
}

// Queues addition of the DNS records of the lease.
func (notifier *Notifier) QueueLeaseAddition(lease *dhcpdata.Lease) {
	notifier.queueLeaseChange(Add, lease)
}

// Queues removal of the DNS records of the lease.
func (notifier *Notifier) QueueLeaseRemoval(lease *dhcpdata.Lease) {
	notifier.queueLeaseChange(Remove, lease)
}

// Queues a change for a lease. Leases without a hostname, without the
// FQDN flags or holding a delegated prefix have no DNS records, so the
// change is discarded.
func (notifier *Notifier) queueLeaseChange(changeType ChangeType, lease *dhcpdata.Lease) {
	if lease == nil || lease.Hostname == "" || lease.Type.IsPrefix() {
		return
	}
	if !lease.FqdnFwd && !lease.FqdnRev {
		return
	}
	var ttl uint32
	if notifier.config != nil {
		ttl = notifier.config.TTL
	}
	notifier.Queue(NameChangeRequest{
		Type:    changeType,
		Forward: lease.FqdnFwd,
		Reverse: lease.FqdnRev,
		FQDN:    dns.Fqdn(lease.Hostname),
		Address: lease.Address,
		TTL:     ttl,
	})
}

// Queues the request for sending. The call never blocks. When the
// queue is full the request is dropped and an error is logged, because
// a lagging DNS server must not stall lease assignment.
func (notifier *Notifier) Queue(ncr NameChangeRequest) {
	if !notifier.Enabled() || (!ncr.Forward && !ncr.Reverse) {
		return
	}
	select {
	case notifier.queue <- ncr:
	default:
		log.WithFields(log.Fields{
			"fqdn":    ncr.FQDN,
			"address": ncr.Address,
		}).Error("DNS update queue is full, dropping the name change request")
	}
}

// Takes the requests off the queue and sends them until the notifier
// is shut down.
func (notifier *Notifier) worker() {
	defer notifier.wg.Done()
	for {
		select {
		case ncr := <-notifier.queue:
			notifier.send(ncr)
		case <-notifier.done:
			return
		}
	}
}

// Performs the forward and reverse updates of a single request. The
// failures are logged rather than returned because there is nobody
// left to retry, the lease has already been committed.
func (notifier *Notifier) send(ncr NameChangeRequest) {
	fields := log.Fields{
		"change":  ncr.Type.String(),
		"fqdn":    ncr.FQDN,
		"address": ncr.Address,
	}
	if ncr.Forward {
		if err := notifier.sendForward(ncr); err != nil {
			log.WithError(err).WithFields(fields).Error("Problem performing the forward DNS update")
		}
	}
	if ncr.Reverse {
		if err := notifier.sendReverse(ncr); err != nil {
			log.WithError(err).WithFields(fields).Error("Problem performing the reverse DNS update")
		}
	}
}

// Sends the update of the AAAA record of the FQDN.
func (notifier *Notifier) sendForward(ncr NameChangeRequest) error {
	rr := &dns.AAAA{
		Hdr: dns.RR_Header{
			Name:   ncr.FQDN,
			Rrtype: dns.TypeAAAA,
			Class:  dns.ClassINET,
			Ttl:    ncr.TTL,
		},
		AAAA: net.ParseIP(ncr.Address),
	}
	msg := new(dns.Msg)
	msg.SetUpdate(parentZone(ncr.FQDN))
	if ncr.Type == Add {
		msg.Insert([]dns.RR{rr})
	} else {
		msg.Remove([]dns.RR{rr})
	}
	return notifier.exchange(msg)
}

// Sends the update of the PTR record of the leased address.
func (notifier *Notifier) sendReverse(ncr NameChangeRequest) error {
	ptrName, err := dns.ReverseAddr(ncr.Address)
	if err != nil {
		return errors.Wrapf(err, "problem deriving the PTR record name for %s", ncr.Address)
	}
	rr := &dns.PTR{
		Hdr: dns.RR_Header{
			Name:   ptrName,
			Rrtype: dns.TypePTR,
			Class:  dns.ClassINET,
			Ttl:    ncr.TTL,
		},
		Ptr: ncr.FQDN,
	}
	msg := new(dns.Msg)
	msg.SetUpdate(reverseZone(ptrName))
	if ncr.Type == Add {
		msg.Insert([]dns.RR{rr})
	} else {
		msg.Remove([]dns.RR{rr})
	}
	return notifier.exchange(msg)
}

// Sends the message and interprets the response code.
func (notifier *Notifier) exchange(msg *dns.Msg) error {
	reply, _, err := notifier.client.Exchange(msg, notifier.server)
	if err != nil {
		return errors.Wrapf(err, "problem sending the DNS update to %s", notifier.server)
	}
	if reply.Rcode != dns.RcodeSuccess {
		return errors.Errorf("DNS server %s refused the update with rcode %s", notifier.server, dns.RcodeToString[reply.Rcode])
	}
	return nil
}

// Returns the zone updated for a forward change. The records of the
// leased clients are leaves, so their zone is the parent domain of the
// record name.
func parentZone(fqdn string) string {
	labels := dns.SplitDomainName(fqdn)
	if len(labels) < 2 {
		return "."
	}
	return dns.Fqdn(strings.Join(labels[1:], "."))
}

// Returns the zone updated for a reverse change. The reverse zones are
// assumed to be delegated at the /64 boundary, which keeps 16 nibble
// labels under ip6.arpa.
func reverseZone(ptrName string) string {
	labels := dns.SplitDomainName(ptrName)
	if len(labels) <= 18 {
		return "ip6.arpa."
	}
	return dns.Fqdn(strings.Join(labels[len(labels)-18:], "."))
}
