package dnsrelay

import (
	syslog "github.com/RackSec/srslog"
	"github.com/sirupsen/logrus"
)

// SyslogOptions configures log forwarding to syslog.
type SyslogOptions struct {
	// "udp", "tcp", "unix". Leave empty for the local syslog server.
	Network string

	// Remote address, defaults to local syslog server
	Address string

	// Priority value as per https://pkg.go.dev/log/syslog#Priority, defaults
	// to daemon.info.
	Priority int

	// Syslog tag
	Tag string
}

// SyslogHook is a logrus hook sending log entries to syslog.
type SyslogHook struct {
	writer *syslog.Writer
}

var _ logrus.Hook = &SyslogHook{}

// NewSyslogHook connects to syslog. Add the result to Log with Log.AddHook.
func NewSyslogHook(opt SyslogOptions) (*SyslogHook, error) {
	priority := syslog.Priority(opt.Priority)
	if priority == 0 {
		priority = syslog.LOG_DAEMON | syslog.LOG_INFO
	}
	tag := opt.Tag
	if tag == "" {
		tag = "dnsrelay"
	}
	writer, err := syslog.Dial(opt.Network, opt.Address, priority, tag)
	if err != nil {
		return nil, err
	}
	return &SyslogHook{writer: writer}, nil
}

func (h *SyslogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *SyslogHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	switch entry.Level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return h.writer.Crit(line)
	case logrus.ErrorLevel:
		return h.writer.Err(line)
	case logrus.WarnLevel:
		return h.writer.Warning(line)
	case logrus.InfoLevel:
		return h.writer.Info(line)
	default:
		return h.writer.Debug(line)
	}
}

// Close the connection to syslog.
func (h *SyslogHook) Close() error {
	return h.writer.Close()
}
