package server

import (
	"context"
	"net"

	"isc.org/dhcp6d/alloc"
	"isc.org/dhcp6d/wire"
)

// Handles a Solicit. Every requested IA is answered with a tentative,
// non-committing allocation: nothing is persisted and the same resource
// may be advertised to several soliciting clients. The first one to
// send a Request claims it.
func (handler *Handler) handleSolicit(ctx context.Context, ex *exchange) error {
	response := handler.beginResponse(ex, wire.Advertise)
	fqdn := handler.processFQDN(ex.request)
	for _, ia := range ex.request.IANAOptions() {
		request := iaRequestFromIANA(ia, fqdn)
		result, err := handler.engine.Allocate(ctx, ex.subnet, ex.client, request, false)
		if err != nil {
			return err
		}
		handler.recordAllocation(result, request.Type, false)
		response.AddOption(ex.buildIAResponse(ia.IAID, request.Type, result))
	}
	for _, ia := range ex.request.IAPDOptions() {
		request := iaRequestFromIAPD(ia)
		result, err := handler.engine.Allocate(ctx, ex.subnet, ex.client, request, false)
		if err != nil {
			return err
		}
		handler.recordAllocation(result, request.Type, false)
		response.AddOption(ex.buildIAResponse(ia.IAID, request.Type, result))
	}
	ex.state = exchangeAllocated
	if fqdn != nil {
		response.AddOption(fqdn.response)
	}
	handler.finishResponse(ex, response)
	return nil
}

// Handles a Request. Every requested IA is answered with a committed
// allocation. An IA claiming a resource bound to a different client
// gets NoBinding and is excluded from the granted set; the remaining
// IAs are still processed, partial success is a valid outcome.
func (handler *Handler) handleRequest(ctx context.Context, ex *exchange) error {
	response := handler.beginResponse(ex, wire.Reply)
	fqdn := handler.processFQDN(ex.request)
	for _, ia := range ex.request.IANAOptions() {
		request := iaRequestFromIANA(ia, fqdn)
		result, err := handler.allocateCommitted(ctx, ex, request)
		if err != nil {
			return err
		}
		response.AddOption(ex.buildIAResponse(ia.IAID, request.Type, result))
	}
	for _, ia := range ex.request.IAPDOptions() {
		request := iaRequestFromIAPD(ia)
		result, err := handler.allocateCommitted(ctx, ex, request)
		if err != nil {
			return err
		}
		response.AddOption(ex.buildIAResponse(ia.IAID, request.Type, result))
	}
	ex.state = exchangeAllocated
	if fqdn != nil {
		response.AddOption(fqdn.response)
	}
	handler.finishResponse(ex, response)
	return nil
}

// Performs a committed allocation for a single IA, checking first that
// the client does not claim a resource committed to somebody else.
func (handler *Handler) allocateCommitted(ctx context.Context, ex *exchange, request *alloc.IARequest) (*alloc.Result, error) {
	claimed, err := handler.engine.ClaimedByOther(ctx, ex.client, request)
	if err != nil {
		return nil, err
	}
	if claimed {
		return &alloc.Result{Status: wire.StatusNoBinding}, nil
	}
	result, err := handler.engine.Allocate(ctx, ex.subnet, ex.client, request, true)
	if err != nil {
		return nil, err
	}
	handler.recordAllocation(result, request.Type, true)
	for _, lease := range result.Leases {
		ex.leaseCommitted(lease)
	}
	return result, nil
}

// Handles a Renew or a Rebind. Both extend the leases the client
// presents; they differ only in the sanity rules, a Rebind is sent to
// any server when the renewed server went quiet. Ownership is
// re-validated per IA and a mismatch yields NoBinding for that IA
// only, without touching the stored lease.
func (handler *Handler) handleExtend(ctx context.Context, ex *exchange) error {
	response := handler.beginResponse(ex, wire.Reply)
	fqdn := handler.processFQDN(ex.request)
	for _, ia := range ex.request.IANAOptions() {
		request := iaRequestFromIANA(ia, fqdn)
		result, err := handler.engine.Extend(ctx, ex.subnet, ex.client, request)
		if err != nil {
			return err
		}
		for _, lease := range result.Leases {
			ex.leaseCommitted(lease)
		}
		response.AddOption(ex.buildIAResponse(ia.IAID, request.Type, result))
	}
	for _, ia := range ex.request.IAPDOptions() {
		request := iaRequestFromIAPD(ia)
		result, err := handler.engine.Extend(ctx, ex.subnet, ex.client, request)
		if err != nil {
			return err
		}
		for _, lease := range result.Leases {
			ex.leaseCommitted(lease)
		}
		response.AddOption(ex.buildIAResponse(ia.IAID, request.Type, result))
	}
	ex.state = exchangeAllocated
	if fqdn != nil {
		response.AddOption(fqdn.response)
	}
	handler.finishResponse(ex, response)
	return nil
}

// Handles a Release. The owned leases transition to the released state
// and their resources return to the pools. IAs with no matching binding
// are reported with NoBinding and left untouched; the reply always
// carries a top-level Success status.
func (handler *Handler) handleRelease(ctx context.Context, ex *exchange) error {
	response := handler.beginResponse(ex, wire.Reply)
	for _, ia := range ex.request.IANAOptions() {
		request := iaRequestFromIANA(ia, nil)
		result, err := handler.engine.Release(ctx, ex.client, request)
		if err != nil {
			return err
		}
		handler.collectWithdrawn(ex, response, ia.IAID, request, result)
	}
	for _, ia := range ex.request.IAPDOptions() {
		request := iaRequestFromIAPD(ia)
		result, err := handler.engine.Release(ctx, ex.client, request)
		if err != nil {
			return err
		}
		handler.collectWithdrawn(ex, response, ia.IAID, request, result)
	}
	ex.state = exchangeAllocated
	response.AddOption(wire.NewStatusOption(wire.StatusSuccess))
	ex.response = response
	return nil
}

// Handles a Decline. The declined addresses enter the probation period
// and stay out of the pools until the reclaimer recovers them. Only
// addresses can be declined; IA_PD options are answered with NoBinding.
func (handler *Handler) handleDecline(ctx context.Context, ex *exchange) error {
	response := handler.beginResponse(ex, wire.Reply)
	for _, ia := range ex.request.IANAOptions() {
		request := iaRequestFromIANA(ia, nil)
		result, err := handler.engine.Decline(ctx, ex.client, request)
		if err != nil {
			return err
		}
		handler.collectWithdrawn(ex, response, ia.IAID, request, result)
	}
	for _, ia := range ex.request.IAPDOptions() {
		response.AddOption(&wire.IAPD{IAID: ia.IAID, Options: []wire.Option{
			wire.NewStatusOption(wire.StatusNoBinding),
		}})
	}
	ex.state = exchangeAllocated
	response.AddOption(wire.NewStatusOption(wire.StatusSuccess))
	ex.response = response
	return nil
}

// Files the outcome of a release or a decline of one IA: the withdrawn
// leases are queued for notifications and a failed IA is reported back
// with its status. Successfully withdrawn IAs are covered by the
// top-level status and need no IA option in the reply.
func (handler *Handler) collectWithdrawn(ex *exchange, response *wire.Message, iaid uint32, request *alloc.IARequest, result *alloc.Result) {
	if result.Status != wire.StatusSuccess {
		status := []wire.Option{wire.NewStatusOption(result.Status)}
		if request.Type.IsPrefix() {
			response.AddOption(&wire.IAPD{IAID: iaid, Options: status})
		} else {
			response.AddOption(&wire.IANA{IAID: iaid, Options: status})
		}
		return
	}
	for _, lease := range result.Leases {
		ex.leaseRemoved(lease)
	}
}

// Handles a Confirm: a stateless check that the addresses the client
// holds are appropriate for the link it woke up on. No lease state is
// touched. A Confirm carrying no addresses at all is dropped silently.
func (handler *Handler) handleConfirm(ex *exchange) error {
	var addresses []net.IP
	for _, ia := range ex.request.IANAOptions() {
		for _, address := range ia.Addresses() {
			addresses = append(addresses, address.Address)
		}
	}
	if len(addresses) == 0 {
		return nil
	}
	status := wire.StatusSuccess
	if ex.subnet == nil {
		status = wire.StatusNotOnLink
	} else {
		for _, address := range addresses {
			if !ex.subnet.Contains(address) {
				status = wire.StatusNotOnLink
				break
			}
		}
	}
	response := handler.beginResponse(ex, wire.Reply)
	response.AddOption(wire.NewStatusOption(status))
	ex.response = response
	return nil
}

// Handles an Information-Request: a Reply carrying the requested
// configuration options and no IA processing.
func (handler *Handler) handleInformationRequest(ex *exchange) error {
	response := handler.beginResponse(ex, wire.Reply)
	handler.finishResponse(ex, response)
	return nil
}
