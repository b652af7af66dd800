// Package server implements the DHCPv6 exchange state machine: it
// decodes incoming datagrams, validates them, drives the allocation
// engine and assembles the responses. One exchange is processed to
// completion before its response is emitted; exchanges of different
// clients run concurrently and serialize only on the lease store
// conflict detection.
package server

import (
	"context"
	"net"

	log "github.com/sirupsen/logrus"

	"isc.org/dhcp6d/alloc"
	dhcpdata "isc.org/dhcp6d/datamodel"
	"isc.org/dhcp6d/dhcpcfg"
	"isc.org/dhcp6d/metrics"
	"isc.org/dhcp6d/wire"
)

// Receives the DNS record changes for the leases committed and removed
// by the exchanges. The interface is satisfied by ddns.Notifier.
type DNSNotifier interface {
	Enabled() bool
	QueueLeaseAddition(lease *dhcpdata.Lease)
	QueueLeaseRemoval(lease *dhcpdata.Lease)
}

// Receives every committed lease change for delivery to the high
// availability partner. The interface is satisfied by ha.Notifier.
type HANotifier interface {
	QueueLeaseUpdate(lease *dhcpdata.Lease)
}

// Handler processes the DHCPv6 message exchanges. It is stateless
// between exchanges and safe for concurrent use, so the listener may
// run many exchanges in parallel.
type Handler struct {
	config     *dhcpcfg.Config
	engine     *alloc.Engine
	serverID   wire.DUID
	classifier Classifier
	dns        DNSNotifier
	ha         HANotifier
	metrics    metrics.Collector
}

// Creates the handler. The classifier, the notifiers and the metrics
// collector may be nil when the corresponding feature is not
// configured.
func NewHandler(config *dhcpcfg.Config, engine *alloc.Engine, serverID wire.DUID, classifier Classifier, dns DNSNotifier, ha HANotifier, collector metrics.Collector) *Handler {
	if classifier == nil {
		classifier = nopClassifier{}
	}
	return &Handler{
		config:     config,
		engine:     engine,
		serverID:   serverID,
		classifier: classifier,
		dns:        dns,
		ha:         ha,
		metrics:    collector,
	}
}

// Processes a single datagram and returns the encoded response, or nil
// when the protocol requires a silent drop or the exchange failed. The
// response is already re-encapsulated for the relay chain the request
// arrived through.
func (handler *Handler) Process(data []byte, interfaceName string) []byte {
	packet, err := wire.DecodePacket(data)
	if err != nil {
		// Unparsable input is discarded without a reply to avoid
		// amplification.
		log.WithError(err).Debug("Dropping a malformed packet")
		if handler.metrics != nil {
			handler.metrics.RecordPacketDropped()
		}
		return nil
	}
	if handler.metrics != nil {
		handler.metrics.RecordPacketReceived(packet.Message.Type)
	}
	response := handler.processPacket(packet, interfaceName)
	if response == nil {
		if handler.metrics != nil {
			handler.metrics.RecordPacketDropped()
		}
		return nil
	}
	out, err := wire.EncodeReply(packet.RelayChain, response)
	if err != nil {
		log.WithError(err).Error("Problem encoding the response")
		return nil
	}
	if handler.metrics != nil {
		handler.metrics.RecordPacketSent(response.Type)
	}
	return out
}

// Runs the exchange for a decoded packet. Returns the response message
// or nil when the message is dropped.
func (handler *Handler) processPacket(packet *wire.Packet, interfaceName string) *wire.Message {
	ex := &exchange{
		state:         exchangeReceived,
		packet:        packet,
		request:       packet.Message,
		interfaceName: interfaceName,
	}
	if err := handler.sanityCheck(ex.request); err != nil {
		ex.state = exchangeErrored
		log.WithError(err).Debug("Dropping an invalid message")
		return nil
	}
	ex.state = exchangeValidated

	classes := handler.classifier.Classify(packet, interfaceName)
	ex.client = &alloc.ClientContext{
		DUID:    ex.request.ClientID().String(),
		Classes: classes,
	}
	if subnet := handler.config.SelectSubnet(packet.LinkAddress(), interfaceName); subnet != nil && subnet.Permits(classes) {
		ex.subnet = subnet
	}

	// The lease store is the only suspension point of an exchange. A
	// store which does not respond in time fails the exchange without a
	// reply and the client retransmits.
	ctx, cancel := context.WithTimeout(context.Background(), handler.config.GetStoreTimeout())
	defer cancel()

	var err error
	switch ex.request.Type {
	case wire.Solicit:
		err = handler.handleSolicit(ctx, ex)
	case wire.Request:
		err = handler.handleRequest(ctx, ex)
	case wire.Renew, wire.Rebind:
		err = handler.handleExtend(ctx, ex)
	case wire.Confirm:
		err = handler.handleConfirm(ex)
	case wire.Release:
		err = handler.handleRelease(ctx, ex)
	case wire.Decline:
		err = handler.handleDecline(ctx, ex)
	case wire.InformationRequest:
		err = handler.handleInformationRequest(ex)
	default:
		ex.state = exchangeErrored
		log.WithFields(log.Fields{
			"type": ex.request.Type,
		}).Debug("Dropping an unsupported message")
		return nil
	}
	if err != nil {
		ex.state = exchangeErrored
		log.WithError(err).WithFields(log.Fields{
			"type": ex.request.Type,
			"duid": ex.client.DUID,
		}).Warn("Exchange aborted on a lease store failure")
		return nil
	}
	if ex.response == nil {
		// The handler decided on a silent drop, e.g. Confirm without
		// addresses.
		return nil
	}
	ex.state = exchangeResponding
	handler.notifyLeaseChanges(ex)
	ex.state = exchangeDone
	return ex.response
}

// Queues the lease changes of a finished exchange to the DNS and high
// availability notifiers.
func (handler *Handler) notifyLeaseChanges(ex *exchange) {
	for _, lease := range ex.committed {
		if handler.dns != nil {
			handler.dns.QueueLeaseAddition(lease)
		}
		if handler.ha != nil {
			handler.ha.QueueLeaseUpdate(lease)
		}
	}
	for _, lease := range ex.removed {
		if handler.dns != nil {
			handler.dns.QueueLeaseRemoval(lease)
		}
		if handler.ha != nil {
			handler.ha.QueueLeaseUpdate(lease)
		}
	}
}

// Starts the response message, attaching the server identifier and
// echoing the client identifier.
func (handler *Handler) beginResponse(ex *exchange, msgType wire.MessageType) *wire.Message {
	response := wire.NewMessage(msgType, ex.request.TransactionID)
	response.AddOption(&wire.ServerID{DUID: handler.serverID})
	if clientID := ex.request.ClientID(); clientID != nil {
		response.AddOption(&wire.ClientID{DUID: clientID})
	}
	return response
}

// Finishes the response message, attaching the configured options the
// client asked for. Option encoding problems come from the
// configuration, not from the client, so the response is sent without
// the broken options.
func (handler *Handler) finishResponse(ex *exchange, response *wire.Message) {
	var subnetOptions []dhcpcfg.SingleOptionData
	if ex.subnet != nil {
		subnetOptions = ex.subnet.OptionData
	}
	options, err := dhcpcfg.WireOptions(handler.config.OptionData, subnetOptions, ex.request.OptionRequest())
	if err != nil {
		log.WithError(err).Error("Problem encoding the configured options")
	}
	for _, option := range options {
		response.AddOption(option)
	}
	ex.response = response
}

// Converts an IA_NA option of the client message to the allocation
// engine request form.
func iaRequestFromIANA(ia *wire.IANA, fqdn *fqdnData) *alloc.IARequest {
	request := &alloc.IARequest{
		Type: dhcpdata.LeaseTypeAddress,
		IAID: ia.IAID,
	}
	for _, address := range ia.Addresses() {
		request.Hints = append(request.Hints, alloc.Hint{Address: address.Address})
	}
	if fqdn != nil {
		request.Hostname = fqdn.hostname
		request.FqdnFwd = fqdn.fwd
		request.FqdnRev = fqdn.rev
	}
	return request
}

// Converts an IA_PD option of the client message to the allocation
// engine request form.
func iaRequestFromIAPD(ia *wire.IAPD) *alloc.IARequest {
	request := &alloc.IARequest{
		Type: dhcpdata.LeaseTypePrefix,
		IAID: ia.IAID,
	}
	for _, prefix := range ia.Prefixes() {
		request.Hints = append(request.Hints, alloc.Hint{
			Address:      prefix.Prefix,
			PrefixLength: prefix.Length,
		})
	}
	return request
}

// Builds the response IA for a processed identity association. A
// successful IA carries the granted resources with their lifetimes and
// the subnet timers; a failed one carries the status code and zero
// timers.
func (ex *exchange) buildIAResponse(iaid uint32, leaseType dhcpdata.LeaseType, result *alloc.Result) wire.Option {
	var t1, t2 uint32
	var sub []wire.Option
	if result.Status != wire.StatusSuccess {
		sub = append(sub, wire.NewStatusOption(result.Status))
	} else {
		if ex.subnet != nil {
			t1, t2 = ex.subnet.GetT1(), ex.subnet.GetT2()
		}
		for _, lease := range result.Leases {
			if leaseType.IsPrefix() {
				sub = append(sub, &wire.IAPrefix{
					Prefix:            net.ParseIP(lease.Address),
					Length:            lease.PrefixLength,
					PreferredLifetime: lease.PreferredLifetime,
					ValidLifetime:     lease.ValidLifetime,
				})
			} else {
				sub = append(sub, &wire.IAAddress{
					Address:           net.ParseIP(lease.Address),
					PreferredLifetime: lease.PreferredLifetime,
					ValidLifetime:     lease.ValidLifetime,
				})
			}
		}
	}
	if leaseType.IsPrefix() {
		return &wire.IAPD{IAID: iaid, T1: t1, T2: t2, Options: sub}
	}
	return &wire.IANA{IAID: iaid, T1: t1, T2: t2, Options: sub}
}

// Records the allocation outcome in the metrics.
func (handler *Handler) recordAllocation(result *alloc.Result, leaseType dhcpdata.LeaseType, committed bool) {
	if handler.metrics == nil {
		return
	}
	switch result.Status {
	case wire.StatusNoAddrsAvail, wire.StatusNoPrefixAvail:
		handler.metrics.RecordPoolExhaustion(leaseType)
	case wire.StatusSuccess:
		if committed {
			handler.metrics.RecordLeaseGranted(leaseType)
		}
	}
}
