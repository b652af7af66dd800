package wire

import (
	"bytes"
	"encoding/binary"
	"strings"
	"time"

	"github.com/pkg/errors"

	dhcputil "isc.org/dhcp6d/util"
)

// DUID length bounds from RFC 8415. The upper bound includes the two
// type octets.
const (
	minDUIDLength = 3
	maxDUIDLength = 130
)

// The DUID-LLT time field counts seconds since midnight, January 1st,
// 2000 UTC, modulo 2^32.
var duidEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// DUID is a client or server identifier, opaque to the protocol logic.
// The server compares DUIDs byte for byte and never interprets their
// internal structure.
type DUID []byte

// Returns the hex notation of the DUID with colon separators, e.g.
// 00:01:00:01:11:22:33:44:55:66. It is the form stored with leases.
func (d DUID) String() string {
	var sb strings.Builder
	for i, b := range d {
		if i > 0 {
			sb.WriteByte(':')
		}
		const digits = "0123456789abcdef"
		sb.WriteByte(digits[b>>4])
		sb.WriteByte(digits[b&0xf])
	}
	return sb.String()
}

// Checks if two DUIDs are identical.
func (d DUID) Equal(other DUID) bool {
	return bytes.Equal(d, other)
}

// Checks if the DUID has a length acceptable by the protocol.
func (d DUID) Valid() bool {
	return len(d) >= minDUIDLength && len(d) <= maxDUIDLength
}

// Parses a DUID from the hex notation. It accepts colon and dash
// separated forms as well as a contiguous hex string.
func ParseDUID(text string) (DUID, error) {
	data, err := dhcputil.HexToBytes(text)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid DUID %s", text)
	}
	duid := DUID(data)
	if !duid.Valid() {
		return nil, errors.Errorf("DUID %s has invalid length %d", text, len(duid))
	}
	return duid, nil
}

// Creates a DUID-LLT (type 1) from a hardware type, a timestamp and a
// link-layer address. Servers generate their own identifier this way
// once and persist it.
func NewDUIDLLT(hardwareType uint16, generatedAt time.Time, linkLayerAddress []byte) DUID {
	duid := make([]byte, 8+len(linkLayerAddress))
	binary.BigEndian.PutUint16(duid[0:2], 1)
	binary.BigEndian.PutUint16(duid[2:4], hardwareType)
	elapsed := uint32(generatedAt.Unix() - duidEpoch.Unix())
	binary.BigEndian.PutUint32(duid[4:8], elapsed)
	copy(duid[8:], linkLayerAddress)
	return DUID(duid)
}
