package main

import (
	"fmt"

	"github.com/khirono/go-tstnl/netdev"
	"github.com/spf13/cobra"
)

var (
	linksCmd = &cobra.Command{
		Use:   "links",
		Short: "Dump the network devices.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := newRouteContext()
			if err != nil {
				return err
			}
			defer ctx.Close()

			links, err := netdev.Links(ctx)
			if err != nil {
				return err
			}
			for _, l := range links {
				state := "down"
				if l.Up() {
					state = "up"
				}
				fmt.Printf("%-4d %-16s %s\n", l.Index, l.Name, state)
			}
			return nil
		},
	}

	linkCmd = &cobra.Command{
		Use:   "link",
		Short: "Change or remove a network device.",
	}

	linkDelCmd = &cobra.Command{
		Use:   "del <name>",
		Short: "Remove a network device.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := newRouteContext()
			if err != nil {
				return err
			}
			defer ctx.Close()

			return netdev.RemoveNetdev(ctx, args[0])
		},
	}

	linkSetCmd = &cobra.Command{
		Use:       "set <name> up|down",
		Short:     "Bring a network device up or down.",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var up bool
			switch args[1] {
			case "up":
				up = true
			case "down":
			default:
				return fmt.Errorf("unknown state %q", args[1])
			}
			ctx, err := newRouteContext()
			if err != nil {
				return err
			}
			defer ctx.Close()

			return netdev.SetNetdevState(ctx, args[0], up)
		},
	}

	vethCmd = &cobra.Command{
		Use:   "veth",
		Short: "Manage veth pairs.",
	}

	vethAddCmd = &cobra.Command{
		Use:   "add <name> <peer>",
		Short: "Create a veth pair.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := newRouteContext()
			if err != nil {
				return err
			}
			defer ctx.Close()

			return netdev.CreateVeth(ctx, args[0], args[1])
		},
	}
)

func init() {
	linkCmd.AddCommand(linkDelCmd)
	linkCmd.AddCommand(linkSetCmd)
	vethCmd.AddCommand(vethAddCmd)
}
