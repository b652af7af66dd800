package main

import (
	log "github.com/sirupsen/logrus"

	"isc.org/dhcp6d"
	"isc.org/dhcp6d/server"
	dhcputil "isc.org/dhcp6d/util"
)

func main() {
	// Setup logging
	dhcputil.SetupLogging()
	log.Printf("Starting DHCPv6 Server, version %s, build date %s", dhcp6d.Version, dhcp6d.BuildDate)

	// Initialize global state of the DHCPv6 Server
	dhcpServer, err := server.NewDHCPServer()
	if err != nil {
		log.Fatalf("unexpected error: %+v", err)
	}
	if dhcpServer == nil {
		// The command line asked for the version or the help text.
		return
	}
	defer dhcpServer.Shutdown()

	dhcpServer.Serve()
}
