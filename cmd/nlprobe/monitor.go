package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	nl "github.com/khirono/go-tstnl"
	"github.com/khirono/go-tstnl/netdev"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print link events until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := newRouteContext(nl.WithGroups(unix.RTNLGRP_LINK))
		if err != nil {
			return err
		}
		defer ctx.Close()

		mux, err := nl.NewMux()
		if err != nil {
			return err
		}
		done := make(chan error, 1)
		go func() {
			done <- mux.Serve()
		}()
		defer mux.Close()

		err = mux.PushHandlerFunc(ctx, printLinkEvent)
		if err != nil {
			return err
		}
		defer mux.PopHandler(ctx)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt)
		select {
		case <-sigChan:
			return nil
		case err := <-done:
			return err
		}
	},
}

func printLinkEvent(msg *nl.Msg) bool {
	var event string
	switch msg.Header.Type {
	case unix.RTM_NEWLINK:
		event = "new"
	case unix.RTM_DELLINK:
		event = "del"
	default:
		return false
	}
	link, err := netdev.DecodeLink(msg.Body)
	if err != nil {
		slog.Warn("undecodable link event", "type", msg.Header.Type, "err", err)
		return true
	}
	fmt.Printf("%s %-4d %-16s up=%v\n", event, link.Index, link.Name, link.Up())
	return true
}
