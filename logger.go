package dnsrelay

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is a package-global logger used throughout the library. Configuration can be
// changed directly on this instance or the instance replaced.
var Log = logrus.New()

// Verbosity selects how much the relay logs.
type Verbosity int

const (
	VerbosityOff Verbosity = iota
	VerbosityError
	VerbosityWarn
	VerbosityInfo
	VerbosityDebug
	VerbosityTrace
)

var verbosityNames = []string{"off", "error", "warn", "info", "debug", "trace"}

// ParseVerbosity returns the verbosity for one of off, error, warn, info, debug
// or trace.
func ParseVerbosity(s string) (Verbosity, error) {
	for i, name := range verbosityNames {
		if strings.EqualFold(s, name) {
			return Verbosity(i), nil
		}
	}
	return VerbosityInfo, fmt.Errorf("invalid verbosity '%s'", s)
}

// Valid returns true if v is one of the defined levels.
func (v Verbosity) Valid() bool {
	return v >= VerbosityOff && v <= VerbosityTrace
}

func (v Verbosity) String() string {
	if !v.Valid() {
		return fmt.Sprintf("Verbosity(%d)", int(v))
	}
	return verbosityNames[v]
}

// Set implements pflag.Value so the verbosity can be used as a command line flag.
func (v *Verbosity) Set(s string) error {
	p, err := ParseVerbosity(s)
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// Type implements pflag.Value.
func (v *Verbosity) Type() string {
	return "level"
}

// SetVerbosity applies the verbosity to the package logger. Off discards all
// output.
func SetVerbosity(v Verbosity) {
	switch v {
	case VerbosityOff:
		Log.SetOutput(io.Discard)
		Log.SetLevel(logrus.PanicLevel)
		return
	case VerbosityError:
		Log.SetLevel(logrus.ErrorLevel)
	case VerbosityWarn:
		Log.SetLevel(logrus.WarnLevel)
	case VerbosityDebug:
		Log.SetLevel(logrus.DebugLevel)
	case VerbosityTrace:
		Log.SetLevel(logrus.TraceLevel)
	default:
		Log.SetLevel(logrus.InfoLevel)
	}
	if Log.Out == io.Discard {
		Log.SetOutput(os.Stderr)
	}
}

func logger(id string, fields logrus.Fields) *logrus.Entry {
	return Log.WithField("id", id).WithFields(fields)
}
