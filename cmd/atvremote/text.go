package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	setTextValue string
	clearText    bool
)

var textCmd = &cobra.Command{
	Use:   "text",
	Short: "Read or set the currently focused Remote Text Input field",
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := requireTarget()
		if err != nil {
			return err
		}

		client, _, logf := newClient()
		defer logf.Close()

		ctx := cmd.Context()
		sess, err := connectAndVerify(ctx, client, dev)
		if err != nil {
			return err
		}
		defer client.Disconnect(sess)

		if setTextValue == "" {
			text, err := client.GetText(sess)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		}
		return client.SetText(ctx, sess, setTextValue, clearText)
	},
}

func init() {
	textCmd.Flags().StringVar(&setTextValue, "set", "", "text to send; omit to read the current field instead")
	textCmd.Flags().BoolVar(&clearText, "clear", true, "replace the field's contents instead of appending")
}
