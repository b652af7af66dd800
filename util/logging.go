package dhcputil

import (
	"fmt"
	"os"
	"path"
	"runtime"

	log "github.com/sirupsen/logrus"
)

// Sets up the global logger. The logging level is taken from the
// DHCP6D_LOG_LEVEL environment variable. Allowed values are: DEBUG,
// INFO, WARN, ERROR. The INFO level is used when the variable is unset
// or holds an unrecognized value.
func SetupLogging() {
	log.SetLevel(getLogLevel())
	log.SetOutput(os.Stdout)
	log.SetReportCaller(true)
	log.SetFormatter(&log.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			// Grab filename and line of current frame and add it to log entry
			_, filename := path.Split(f.File)
			return "", fmt.Sprintf("%20v:%-5d", filename, f.Line)
		},
	})
}

// Reads the logging level from the environment.
func getLogLevel() log.Level {
	switch os.Getenv("DHCP6D_LOG_LEVEL") {
	case "DEBUG":
		return log.DebugLevel
	case "WARN":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
