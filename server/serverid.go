package server

import (
	"crypto/rand"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"isc.org/dhcp6d/wire"
)

// The hardware type stored in a generated DUID-LLT. Ethernet is the
// only type the generator produces.
const duidHardwareTypeEthernet uint16 = 1

// Returns the server DUID, generating and persisting it on the first
// start. The identifier must survive restarts, otherwise the clients
// holding leases would no longer recognize the server, so it is kept in
// a state file. An empty path keeps the identifier in memory only.
func loadOrGenerateServerID(path string) (wire.DUID, error) {
	if path != "" {
		content, err := os.ReadFile(path)
		if err == nil {
			duid, err := wire.ParseDUID(strings.TrimSpace(string(content)))
			if err != nil {
				return nil, errors.WithMessagef(err, "corrupted server DUID file %s", path)
			}
			return duid, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(err, "problem reading the server DUID file %s", path)
		}
	}
	duid := generateServerID()
	if path != "" {
		if err := os.WriteFile(path, []byte(duid.String()+"\n"), 0o640); err != nil {
			return nil, errors.Wrapf(err, "problem writing the server DUID file %s", path)
		}
	}
	log.WithFields(log.Fields{
		"duid": duid,
	}).Info("Generated a new server DUID")
	return duid, nil
}

// Generates a DUID-LLT from the link-layer address of one of the
// machine interfaces. A machine without a usable interface gets a
// random link-layer address, which is as stable as it needs to be given
// that the identifier is persisted right after generation.
func generateServerID() wire.DUID {
	return wire.NewDUIDLLT(duidHardwareTypeEthernet, time.Now(), linkLayerAddress())
}

// Returns the hardware address of the first non-loopback interface, or
// six random bytes when there is none.
func linkLayerAddress() []byte {
	interfaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range interfaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
				continue
			}
			return iface.HardwareAddr
		}
	}
	address := make([]byte, 6)
	_, _ = rand.Read(address)
	return address
}
