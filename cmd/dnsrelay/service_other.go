//go:build !windows

package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
)

func addPlatformFlags(cmd *cobra.Command, opt *options) {}

func runService(run func(context.Context) error) error {
	return errors.New("service mode is only supported on windows")
}
