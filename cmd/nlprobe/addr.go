package main

import (
	"fmt"
	"net/netip"

	"github.com/khirono/go-tstnl/netdev"
	"github.com/spf13/cobra"
)

var (
	addrCmd = &cobra.Command{
		Use:   "addr",
		Short: "Manage interface addresses.",
	}

	addrAddCmd = &cobra.Command{
		Use:   "add <name> <prefix>",
		Short: "Assign an address such as 10.0.0.1/24 to a device.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, err := netip.ParsePrefix(args[1])
			if err != nil {
				return fmt.Errorf("bad prefix: %w", err)
			}
			ctx, err := newRouteContext()
			if err != nil {
				return err
			}
			defer ctx.Close()

			return netdev.AddAddr(ctx, args[0], prefix)
		},
	}
)

func init() {
	addrCmd.AddCommand(addrAddCmd)
}
