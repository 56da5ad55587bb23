//go:build windows

package main

import (
	"context"

	rdns "github.com/folbricht/dnsrelay"
	"github.com/spf13/cobra"
	"golang.org/x/sys/windows/svc"
)

const serviceName = "dnsrelay"

func addPlatformFlags(cmd *cobra.Command, opt *options) {
	cmd.Flags().BoolVar(&opt.service, "service", false, "run as a windows service")
}

// relayService runs the relay under the windows service manager. A stop or
// shutdown request cancels the relay and waits for it to finish.
type relayService struct {
	run func(context.Context) error
}

var _ svc.Handler = &relayService{}

func (s *relayService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- s.run(ctx) }()

	changes <- svc.Status{State: svc.Running, Accepts: svc.AcceptStop | svc.AcceptShutdown}
	for {
		select {
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				rdns.Log.Info("stop requested by service manager")
				changes <- svc.Status{State: svc.StopPending}
				cancel()
				<-errc
				return false, 0
			}
		case err := <-errc:
			if err != nil {
				rdns.Log.WithError(err).Error("relay failed")
				return false, 1
			}
			return false, 0
		}
	}
}

func runService(run func(context.Context) error) error {
	return svc.Run(serviceName, &relayService{run: run})
}
