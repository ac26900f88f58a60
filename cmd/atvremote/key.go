package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hapgo/atv-go/companion"
)

var hidCodesByName = map[string]int{
	"up":           companion.HIDUp,
	"down":         companion.HIDDown,
	"left":         companion.HIDLeft,
	"right":        companion.HIDRight,
	"menu":         companion.HIDMenu,
	"select":       companion.HIDSelect,
	"home":         companion.HIDHome,
	"volumeup":     companion.HIDVolumeUp,
	"volumedown":   companion.HIDVolumeDown,
	"siri":         companion.HIDSiri,
	"screensaver":  companion.HIDScreensaver,
	"sleep":        companion.HIDSleep,
	"wake":         companion.HIDWake,
	"playpause":    companion.HIDPlayPause,
	"channelup":    companion.HIDChannelInc,
	"channeldown":  companion.HIDChannelDec,
	"guide":        companion.HIDGuide,
	"pageup":       companion.HIDPageUp,
	"pagedown":     companion.HIDPageDown,
}

var actionsByName = map[string]companion.Action{
	"tap":       companion.Tap,
	"doubletap": companion.DoubleTap,
	"hold":      companion.Hold,
}

var keyAction string

var keyCmd = &cobra.Command{
	Use:   "key <button>",
	Short: "Send a HID button press",
	Long:  "key sends one of: " + strings.Join(sortedKeys(hidCodesByName), ", "),
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := requireTarget()
		if err != nil {
			return err
		}
		hidCode, ok := hidCodesByName[strings.ToLower(args[0])]
		if !ok {
			return fmt.Errorf("unknown button %q", args[0])
		}
		action, ok := actionsByName[strings.ToLower(keyAction)]
		if !ok {
			return fmt.Errorf("unknown action %q, want tap, doubletap, or hold", keyAction)
		}

		client, _, logf := newClient()
		defer logf.Close()

		ctx := cmd.Context()
		sess, err := connectAndVerify(ctx, client, dev)
		if err != nil {
			return err
		}
		defer client.Disconnect(sess)

		return client.SendKey(ctx, sess, hidCode, action)
	},
}

func init() {
	keyCmd.Flags().StringVar(&keyAction, "action", "tap", "gesture: tap, doubletap, or hold")
}

func sortedKeys(m map[string]int) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
