package server

import (
	"github.com/pkg/errors"

	"isc.org/dhcp6d/wire"
)

// Presence requirement for an option in a message of a given type.
type presence int

const (
	optional presence = iota
	mandatory
	forbidden
)

// Per-message-type sanity rules for the Client Identifier and Server
// Identifier options. Messages violating them are dropped without a
// reply.
type sanityRule struct {
	clientID presence
	serverID presence
}

var sanityRules = map[wire.MessageType]sanityRule{
	wire.Solicit:            {clientID: mandatory, serverID: forbidden},
	wire.Request:            {clientID: mandatory, serverID: mandatory},
	wire.Confirm:            {clientID: mandatory, serverID: forbidden},
	wire.Renew:              {clientID: mandatory, serverID: mandatory},
	wire.Rebind:             {clientID: mandatory, serverID: forbidden},
	wire.Release:            {clientID: mandatory, serverID: mandatory},
	wire.Decline:            {clientID: mandatory, serverID: mandatory},
	wire.InformationRequest: {clientID: optional, serverID: optional},
}

// Checks the message against the per-type sanity rules. Besides the
// presence rules, a carried Server Identifier must name this server:
// a client addressing another server is none of our business and the
// message is dropped.
func (handler *Handler) sanityCheck(message *wire.Message) error {
	rule, ok := sanityRules[message.Type]
	if !ok {
		return errors.Wrapf(wire.ErrUnsupportedMessageType, "%s is not a client message", message.Type)
	}
	clientID := message.ClientID()
	switch rule.clientID {
	case mandatory:
		if clientID == nil {
			return errors.Wrapf(wire.ErrMalformed, "%s without a client identifier", message.Type)
		}
	case forbidden:
		if clientID != nil {
			return errors.Wrapf(wire.ErrMalformed, "%s with a client identifier", message.Type)
		}
	}
	if clientID != nil && !clientID.Valid() {
		return errors.Wrapf(wire.ErrMalformed, "%s with an invalid client DUID of length %d", message.Type, len(clientID))
	}
	serverID := message.ServerID()
	switch rule.serverID {
	case mandatory:
		if serverID == nil {
			return errors.Wrapf(wire.ErrMalformed, "%s without a server identifier", message.Type)
		}
	case forbidden:
		if serverID != nil {
			return errors.Wrapf(wire.ErrMalformed, "%s with a server identifier", message.Type)
		}
	}
	if serverID != nil && !serverID.Equal(handler.serverID) {
		return errors.Wrapf(wire.ErrMalformed, "%s addressed to another server %s", message.Type, serverID)
	}
	return nil
}
