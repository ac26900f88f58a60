package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover Apple TVs advertising the Companion link service",
	Long: `scan lists Apple TVs reachable on the local network.

This tool implements the HAP pair-setup/pair-verify and Companion-link
protocol engine only; it deliberately does not bundle an mDNS/Bonjour
client (see the Non-goals section of its design). Wire a
discovery.Browser implementation — zeroconf, mdns, or your platform's
native resolver — into atvremote.Scan from Go code, or pass --host,
--port, and --identifier to the other subcommands directly once you
know your accessory's address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), scanCmd.Long)
		return nil
	},
}
