package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Run pair-setup against an accessory and store the resulting credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := requireTarget()
		if err != nil {
			return err
		}

		client, logger, logf := newClient()
		defer logf.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "Enter the pairing PIN shown on %s: ", dev.Address)
		pin, err := readPIN()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		sess, err := client.Connect(ctx, dev)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer client.Disconnect(sess)

		creds, err := client.Pair(ctx, sess, pin)
		if err != nil {
			return fmt.Errorf("pair-setup: %w", err)
		}

		logger.Info("pair-setup complete", "identifier", creds.Identifier)
		fmt.Fprintf(cmd.OutOrStdout(), "Paired with %s; credentials stored under %s\n", dev.Address, credDir)
		return nil
	},
}

func readPIN() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read PIN: %w", err)
	}
	return strings.TrimSpace(line), nil
}
