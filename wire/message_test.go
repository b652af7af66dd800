package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// Test decoding a hand-crafted Solicit. This pins the wire layout:
// a one-byte message type, a three-byte transaction id, then options.
func TestDecodeMessageWireLayout(t *testing.T) {
	data := []byte{
		0x01,             // Solicit
		0x12, 0x34, 0x56, // transaction id
		// Client id option.
		0x00, 0x01, 0x00, 0x0a,
		0x00, 0x01, 0x00, 0x01, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff,
		// IA_NA option, IAID 1, T1 100, T2 200, no sub-options.
		0x00, 0x03, 0x00, 0x0c,
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x64,
		0x00, 0x00, 0x00, 0xc8,
	}
	message, err := DecodeMessage(data)
	require.NoError(t, err)
	require.Equal(t, Solicit, message.Type)
	require.EqualValues(t, 0x123456, message.TransactionID)
	require.Len(t, message.Options, 2)

	require.Equal(t, "00:01:00:01:aa:bb:cc:dd:ee:ff", message.ClientID().String())

	ias := message.IANAOptions()
	require.Len(t, ias, 1)
	require.EqualValues(t, 1, ias[0].IAID)
	require.EqualValues(t, 100, ias[0].T1)
	require.EqualValues(t, 200, ias[0].T2)
	require.Empty(t, ias[0].Addresses())

	// Encoding must reproduce the input byte for byte.
	encoded, err := message.Encode()
	require.NoError(t, err)
	require.Equal(t, data, encoded)
}

// Test that encoding and decoding a message reproduces the IA set and
// the client identity.
func TestMessageRoundTrip(t *testing.T) {
	message := NewMessage(Request, 0xabcdef)
	message.AddOption(&ClientID{DUID: DUID{0x00, 0x01, 0x00, 0x01, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}})
	message.AddOption(&ServerID{DUID: DUID{0x00, 0x01, 0x00, 0x01, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}})
	message.AddOption(&ElapsedTime{Hundredths: 150})
	message.AddOption(&IANA{
		IAID: 42,
		Options: []Option{
			&IAAddress{
				Address:           net.ParseIP("2001:db8:1::10"),
				PreferredLifetime: 1800,
				ValidLifetime:     3600,
			},
		},
	})
	message.AddOption(&IAPD{
		IAID: 43,
		Options: []Option{
			&IAPrefix{
				PreferredLifetime: 1800,
				ValidLifetime:     3600,
				Length:            64,
				Prefix:            net.ParseIP("3000:1:2::"),
			},
		},
	})
	message.AddOption(&OptionRequest{Codes: []OptionCode{OptionDNSServers}})

	data, err := message.Encode()
	require.NoError(t, err)

	decoded, err := DecodeMessage(data)
	require.NoError(t, err)
	require.Equal(t, Request, decoded.Type)
	require.EqualValues(t, 0xabcdef, decoded.TransactionID)
	require.True(t, decoded.ClientID().Equal(message.ClientID()))
	require.True(t, decoded.ServerID().Equal(message.ServerID()))

	ias := decoded.IANAOptions()
	require.Len(t, ias, 1)
	require.EqualValues(t, 42, ias[0].IAID)
	addresses := ias[0].Addresses()
	require.Len(t, addresses, 1)
	require.Equal(t, "2001:db8:1::10", addresses[0].Address.String())
	require.EqualValues(t, 1800, addresses[0].PreferredLifetime)
	require.EqualValues(t, 3600, addresses[0].ValidLifetime)

	pds := decoded.IAPDOptions()
	require.Len(t, pds, 1)
	require.EqualValues(t, 43, pds[0].IAID)
	prefixes := pds[0].Prefixes()
	require.Len(t, prefixes, 1)
	require.Equal(t, "3000:1:2::", prefixes[0].Prefix.String())
	require.EqualValues(t, 64, prefixes[0].Length)

	oro := decoded.OptionRequest()
	require.NotNil(t, oro)
	require.True(t, oro.Requested(OptionDNSServers))
}

// Test that truncated messages are rejected.
func TestDecodeMessageTruncated(t *testing.T) {
	for _, data := range [][]byte{nil, {0x01}, {0x01, 0x12}, {0x01, 0x12, 0x34}} {
		_, err := DecodeMessage(data)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrMalformed)
	}

	// Valid header followed by a broken option area.
	_, err := DecodeMessage([]byte{0x01, 0x12, 0x34, 0x56, 0x00})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMalformed)
}

// Test that unknown message types are rejected.
func TestDecodeMessageUnknownType(t *testing.T) {
	for _, msgType := range []byte{0, 14, 200} {
		_, err := DecodeMessage([]byte{msgType, 0x12, 0x34, 0x56})
		require.Error(t, err)
		require.ErrorIs(t, err, ErrMalformed)
	}
}

// Test that relay types must go through the packet decoder.
func TestDecodeMessageRelayType(t *testing.T) {
	_, err := DecodeMessage([]byte{0x0c, 0x12, 0x34, 0x56})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMalformed)
}

// Test the typed accessors on a message without the options.
func TestMessageAccessorsAbsentOptions(t *testing.T) {
	message := NewMessage(Solicit, 1)
	require.Nil(t, message.ClientID())
	require.Nil(t, message.ServerID())
	require.Nil(t, message.OptionRequest())
	require.Nil(t, message.ClientFQDN())
	require.Nil(t, message.Status())
	require.Empty(t, message.IANAOptions())
	require.Empty(t, message.IAPDOptions())
	require.Nil(t, message.GetOption(OptionPreference))
}

// Test that the transaction id is limited to 24 bits.
func TestNewMessageTransactionIDMask(t *testing.T) {
	message := NewMessage(Reply, 0xff123456)
	require.EqualValues(t, 0x123456, message.TransactionID)
}

// Test the message type helpers.
func TestMessageTypeHelpers(t *testing.T) {
	require.True(t, Solicit.Known())
	require.True(t, RelayReply.Known())
	require.False(t, MessageType(0).Known())
	require.False(t, MessageType(14).Known())

	require.True(t, RelayForward.IsRelay())
	require.True(t, RelayReply.IsRelay())
	require.False(t, Reply.IsRelay())

	require.Equal(t, "Solicit", Solicit.String())
	require.Equal(t, "Information-Request", InformationRequest.String())
	require.Equal(t, "Unknown", MessageType(99).String())
}
