// The package provides the PostgreSQL plumbing for the lease database:
// connection settings, CLI flag bridging, schema migrations and the
// query logging hooks.
package dbops

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

// Enables singular SQL table names for go-pg ORM.
func init() {
	orm.SetTableNameInflector(func(s string) string {
		return s
	})
}

// Describes which SQL queries should be logged.
type LoggingQueryPreset string

const (
	// All queries, including the ones run by the migrations.
	LoggingQueryPresetAll LoggingQueryPreset = "all"
	// Only the run-time queries.
	LoggingQueryPresetRuntime LoggingQueryPreset = "run"
	// No query logging.
	LoggingQueryPresetNone LoggingQueryPreset = "none"
)

// Converts the raw flag value to a logging preset. Unrecognized values
// disable the query logging.
func newLoggingQueryPreset(raw string) LoggingQueryPreset {
	switch raw {
	case string(LoggingQueryPresetAll), string(LoggingQueryPresetRuntime):
		return LoggingQueryPreset(raw)
	default:
		return LoggingQueryPresetNone
	}
}

// Checks if the preset enables logging the run-time queries.
func (p LoggingQueryPreset) IsRuntimeEnabled() bool {
	return p == LoggingQueryPresetAll || p == LoggingQueryPresetRuntime
}

// The settings needed to establish a database connection.
type DatabaseSettings struct {
	DBName       string
	User         string
	Password     string
	Host         string
	Port         int
	SSLMode      string
	SSLCert      string
	SSLKey       string
	SSLRootCert  string
	TraceSQL     LoggingQueryPreset
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Checks if the host points to a directory with the PostgreSQL unix
// socket rather than a TCP address.
func (s *DatabaseSettings) IsHostSocket() bool {
	return strings.HasPrefix(s.Host, "/")
}

// Converts the settings to the go-pg connection options.
func (s *DatabaseSettings) ConvertToPgOptions() (*pg.Options, error) {
	pgopts := &pg.Options{
		Database:        s.DBName,
		User:            s.User,
		Password:        s.Password,
		ApplicationName: "dhcp6d",
		ReadTimeout:     s.ReadTimeout,
		WriteTimeout:    s.WriteTimeout,
	}

	if s.IsHostSocket() {
		pgopts.Network = "unix"
		pgopts.Addr = path.Join(s.Host, fmt.Sprintf(".s.PGSQL.%d", s.Port))
		if s.SSLMode != "" && s.SSLMode != "disable" {
			return nil, errors.New("SSL is not supported on the unix sockets")
		}
		return pgopts, nil
	}

	pgopts.Network = "tcp"
	pgopts.Addr = fmt.Sprintf("%s:%d", s.Host, s.Port)
	tlsConfig, err := GetTLSConfig(s.SSLMode, s.Host, s.SSLCert, s.SSLKey, s.SSLRootCert)
	if err != nil {
		return nil, err
	}
	pgopts.TLSConfig = tlsConfig
	return pgopts, nil
}

// Prompts for the database password unless it is already set or the
// standard input is not a terminal.
func PromptPasswordIfMissing(settings *DatabaseSettings) error {
	if settings.Password != "" || !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	fmt.Print("database password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return errors.Wrap(err, "problem reading the password from the terminal")
	}
	settings.Password = string(password)
	return nil
}
