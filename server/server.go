package server

import (
	"net/http"

	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	dhcp6d "isc.org/dhcp6d"
	"isc.org/dhcp6d/alloc"
	dbops "isc.org/dhcp6d/database"
	"isc.org/dhcp6d/ddns"
	"isc.org/dhcp6d/dhcpcfg"
	"isc.org/dhcp6d/ha"
	"isc.org/dhcp6d/leasestore"
	"isc.org/dhcp6d/metrics"
	"isc.org/dhcp6d/reclaim"
	"isc.org/dhcp6d/wire"
)

// The supported lease store backends.
const (
	leaseDatabaseMemory     = "memory"
	leaseDatabasePostgreSQL = "postgresql"
)

// Global DHCPv6 server state.
type DHCPServer struct {
	Settings   Settings
	DBSettings *dbops.DatabaseSettings
	Config     *dhcpcfg.Config

	DB       *dbops.PgDB
	Store    leasestore.Store
	Engine   *alloc.Engine
	ServerID wire.DUID

	Handler  *Handler
	Listener *Listener

	DNSNotifier *ddns.Notifier
	HANotifier  *ha.Notifier
	Reclaimer   *reclaim.Reclaimer

	MetricsCollector metrics.Collector
	metricsServer    *http.Server
}

// Global server settings (called application settings in go-flags
// nomenclature).
type Settings struct {
	Version               bool   `short:"v" long:"version" description:"Show software version"`
	ConfigFile            string `short:"c" long:"config" description:"Path of the server configuration file" env:"DHCP6D_CONFIG_FILE" default:"/etc/dhcp6d/dhcp6d.conf"`
	Address               string `long:"address" description:"UDP address the server listens on" env:"DHCP6D_ADDRESS" default:"[::]:547"`
	LeaseDatabase         string `long:"lease-database" description:"The lease store backend" choice:"memory" choice:"postgresql" env:"DHCP6D_LEASE_DATABASE" default:"memory"` //nolint:staticcheck
	EnableMetricsEndpoint bool   `short:"m" long:"metrics" description:"Enable Prometheus /metrics endpoint (no auth)" env:"DHCP6D_ENABLE_METRICS"`
	MetricsAddress        string `long:"metrics-address" description:"HTTP address of the /metrics endpoint" env:"DHCP6D_METRICS_ADDRESS" default:":9547"`
}

// Parse the command line arguments into GO structures. Returns done as
// true if the command is already handled (i.e. version or help) and
// the server should not start.
func (server *DHCPServer) ParseArgs() (done bool, err error) {
	parser := flags.NewParser(&server.Settings, flags.Default)
	parser.ShortDescription = "DHCPv6 Server"
	parser.LongDescription = `dhcp6d is a DHCPv6 server allocating addresses and delegated prefixes

The server logs on INFO level by default. Other levels can be configured
using the DHCP6D_LOG_LEVEL variable. Allowed values are: DEBUG, INFO,
WARN, ERROR.`

	databaseFlags := &dbops.DatabaseCLIFlags{}
	if _, err = parser.AddGroup("Lease Database Flags", "", databaseFlags); err != nil {
		return false, errors.Wrap(err, "cannot add the database group")
	}

	if _, err := parser.Parse(); err != nil {
		var flagsError *flags.Error
		if errors.As(err, &flagsError) && flagsError.Type == flags.ErrHelp {
			return true, nil
		}
		return false, errors.Wrap(err, "cannot parse the CLI flags")
	}

	if server.Settings.Version {
		// If user specified --version or -v, print the version and quit.
		log.Println(dhcp6d.Version)
		return true, nil
	}

	server.DBSettings, err = databaseFlags.ConvertToDatabaseSettings()
	if err != nil {
		return false, err
	}
	return false, nil
}

// Init for the DHCPv6 server state. Returns nil without an error when
// the command line asked for the version or the help text.
func NewDHCPServer() (*DHCPServer, error) {
	server := &DHCPServer{}
	done, err := server.ParseArgs()
	if err != nil {
		return nil, err
	}
	if done {
		return nil, nil
	}

	server.Config, err = dhcpcfg.Load(server.Settings.ConfigFile)
	if err != nil {
		return nil, err
	}

	if err = server.openLeaseStore(); err != nil {
		return nil, err
	}

	server.ServerID, err = loadOrGenerateServerID(server.Config.ServerIDFile)
	if err != nil {
		server.closeLeaseStore()
		return nil, err
	}

	server.Engine = alloc.NewEngine(server.Store, nil, alloc.EngineConfig{
		AvoidReuseTTL:          server.Config.GetAvoidReuseTTL(),
		DeclineProbationPeriod: server.Config.GetDeclineProbationPeriod(),
	})
	server.DNSNotifier = ddns.NewNotifier(server.Config.DDNS)
	server.HANotifier = ha.NewNotifier(server.Config.HA)
	server.Reclaimer = reclaim.NewReclaimer(server.Store, nil,
		server.Config.ExpiredLeasesProcessing, server.Config.GetStoreTimeout(), server.DNSNotifier)

	if server.Settings.EnableMetricsEndpoint {
		server.MetricsCollector, err = metrics.NewCollector(server.Store, server.Config)
		if err != nil {
			server.closeLeaseStore()
			return nil, err
		}
		log.Info("The metrics endpoint is enabled (ensure that it is properly secured)")
	} else {
		log.Warn("The metrics endpoint is disabled (it can be enabled with the -m flag)")
	}

	server.Handler = NewHandler(server.Config, server.Engine, server.ServerID,
		nil, server.DNSNotifier, server.HANotifier, server.MetricsCollector)
	server.Listener = NewListener(server.Settings.Address, server.Config.Interfaces, server.Handler)

	return server, nil
}

// Opens the lease store selected by the command line: the default
// in-memory backend or PostgreSQL with the schema migrated to the
// latest version.
func (server *DHCPServer) openLeaseStore() error {
	switch server.Settings.LeaseDatabase {
	case leaseDatabasePostgreSQL:
		if err := dbops.PromptPasswordIfMissing(server.DBSettings); err != nil {
			return err
		}
		db, err := dbops.NewApplicationDatabaseConn(server.DBSettings)
		if err != nil {
			return err
		}
		server.DB = db
		server.Store = leasestore.NewPgStore(db, nil)
	case leaseDatabaseMemory, "":
		log.Info("Using the in-memory lease store; leases will not survive a restart")
		server.Store = leasestore.NewMemoryStore(nil)
	default:
		return errors.Errorf("unsupported lease database backend %s", server.Settings.LeaseDatabase)
	}
	return nil
}

// Closes the lease store connection if one was opened.
func (server *DHCPServer) closeLeaseStore() {
	if server.DB != nil {
		server.DB.Close()
		server.DB = nil
	}
}

// Run the DHCPv6 server. It blocks until the listener is shut down or
// fails.
func (server *DHCPServer) Serve() {
	if err := server.Listener.Open(); err != nil {
		log.Fatalf("FATAL error: %+v", err)
	}
	if err := server.Reclaimer.Start(); err != nil {
		log.Fatalf("FATAL error: %+v", err)
	}
	if err := server.HANotifier.Start(); err != nil {
		log.Fatalf("FATAL error: %+v", err)
	}

	var group errgroup.Group
	group.Go(server.Listener.Serve)
	if server.MetricsCollector != nil {
		server.metricsServer = &http.Server{ //nolint:gosec
			Addr:    server.Settings.MetricsAddress,
			Handler: server.MetricsCollector.GetHTTPHandler(nil),
		}
		group.Go(func() error {
			err := server.metricsServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return errors.Wrap(err, "problem serving the metrics endpoint")
		})
	}
	if err := group.Wait(); err != nil {
		log.Fatalf("FATAL error: %+v", err)
	}
}

// Shutdown for the DHCPv6 server state.
func (server *DHCPServer) Shutdown() {
	log.Println("Shutting down DHCPv6 Server")
	if server.metricsServer != nil {
		server.metricsServer.Close()
	}
	if server.Listener != nil {
		server.Listener.Shutdown()
	}
	if server.Reclaimer != nil {
		server.Reclaimer.Shutdown()
	}
	if server.HANotifier != nil {
		server.HANotifier.Shutdown()
	}
	if server.DNSNotifier != nil {
		server.DNSNotifier.Shutdown()
	}
	if server.MetricsCollector != nil {
		server.MetricsCollector.Shutdown()
	}
	server.closeLeaseStore()
	log.Println("DHCPv6 Server shut down")
}
