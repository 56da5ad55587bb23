package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	rdns "github.com/folbricht/dnsrelay"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	binds     []string
	upstreams []string
	verbosity rdns.Verbosity
	udpSize   int
	config    string
	service   bool
}

func main() {
	opt := options{verbosity: rdns.VerbosityInfo}
	cmd := &cobra.Command{
		Use:   "dnsrelay",
		Short: "Local DNS relay to encrypted resolvers",
		Long: `Local DNS relay to encrypted resolvers.

Listens for plain DNS queries over UDP and forwards
them unchanged to DNS-over-HTTPS or DNS-over-TLS
resolvers. Upstreams are tried in the order they
are given until one of them responds.
`,
		Example: `  dnsrelay -b 127.0.0.1:53 -u https://1.1.1.1/dns-query -u tls://9.9.9.9
  dnsrelay -c config.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(cmd, opt)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringSliceVarP(&opt.binds, "bind", "b", []string{rdns.DefaultBindV4}, "address to listen on for UDP queries, can be repeated")
	cmd.Flags().StringSliceVarP(&opt.upstreams, "upstream", "u", []string{rdns.DefaultUpstream}, "upstream resolver URL (https://, tls://, dtls://, udp://, tcp://), can be repeated")
	cmd.Flags().VarP(&opt.verbosity, "verbosity", "v", "log level: off, error, warn, info, debug, trace")
	cmd.Flags().IntVar(&opt.udpSize, "udp-size", 0, "maximum size of received UDP queries")
	cmd.Flags().StringVarP(&opt.config, "config", "c", "", "TOML config file")
	addPlatformFlags(cmd, &opt)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func start(cmd *cobra.Command, opt options) error {
	cfg, err := buildConfig(cmd, opt)
	if err != nil {
		return err
	}

	verbosity := opt.verbosity
	if cfg.Log.Verbosity != "" && !cmd.Flags().Changed("verbosity") {
		if verbosity, err = rdns.ParseVerbosity(cfg.Log.Verbosity); err != nil {
			return err
		}
	}
	rdns.SetVerbosity(verbosity)
	if s := cfg.Log.Syslog; s != nil {
		hook, err := rdns.NewSyslogHook(rdns.SyslogOptions{
			Network:  s.Network,
			Address:  s.Address,
			Priority: s.Priority,
			Tag:      s.Tag,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to syslog: %w", err)
		}
		defer hook.Close()
		rdns.Log.AddHook(hook)
	}

	endpoints, err := cfg.endpoints()
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		return fmt.Errorf("no upstreams configured")
	}
	upstreams, err := rdns.NewUpstreams(endpoints...)
	if err != nil {
		return err
	}
	dispatcherOpt, err := cfg.dispatcherOptions()
	if err != nil {
		return err
	}

	if cfg.Admin.Address != "" {
		admin, err := newAdmin(cfg.Admin)
		if err != nil {
			return err
		}
		go func() {
			if err := admin.Start(); err != nil {
				rdns.Log.WithError(err).Error("admin listener failed")
			}
		}()
		defer admin.Stop()
	}

	o := rdns.NewOrchestrator(dispatcherOpt)
	run := func(ctx context.Context) error {
		rdns.Log.WithFields(logrus.Fields{
			"binds":     cfg.Listener.Bind,
			"upstreams": cfg.order,
		}).Info("starting relay")
		return o.Run(ctx, cfg.Listener.Bind, upstreams)
	}
	if opt.service {
		return runService(run)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx)
}

// Merges the config file, if any, with the command line. Flags that were
// set explicitly take precedence over values from the file.
func buildConfig(cmd *cobra.Command, opt options) (config, error) {
	var (
		cfg config
		err error
	)
	if opt.config != "" {
		if cfg, err = loadConfig(opt.config); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if len(cfg.Listener.Bind) == 0 || flags.Changed("bind") {
		cfg.Listener.Bind = opt.binds
	}
	if cfg.Listener.UDPSize == 0 || flags.Changed("udp-size") {
		cfg.Listener.UDPSize = opt.udpSize
	}
	if len(cfg.order) == 0 || flags.Changed("upstream") {
		cfg.Upstreams = make(map[string]upstream)
		cfg.order = nil
		for i, u := range opt.upstreams {
			id := fmt.Sprintf("upstream-%d", i)
			cfg.Upstreams[id] = upstream{Address: u}
			cfg.order = append(cfg.order, id)
		}
	}
	return cfg, nil
}

func newAdmin(a admin) (*rdns.AdminListener, error) {
	opt := rdns.AdminListenerOptions{Transport: a.Transport}
	if a.ServerCrt != "" || a.ServerKey != "" {
		tlsConfig, err := rdns.TLSServerConfig(a.CA, a.ServerCrt, a.ServerKey, a.CA != "")
		if err != nil {
			return nil, err
		}
		opt.TLSConfig = tlsConfig
	}
	return rdns.NewAdminListener("admin", a.Address, opt)
}
