package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hapgo/atv-go/companion"
	"github.com/hapgo/atv-go/opack"
)

var mediaCodesByName = map[string]int{
	"play":          companion.MediaPlay,
	"pause":         companion.MediaPause,
	"next":          companion.MediaNext,
	"previous":      companion.MediaPrev,
	"getvolume":     companion.MediaGetVolume,
	"setvolume":     companion.MediaSetVolume,
	"skipby":        companion.MediaSkipBy,
	"ffbegin":       companion.MediaFFBegin,
	"ffend":         companion.MediaFFEnd,
	"rewindbegin":   companion.MediaRewindBegin,
	"rewindend":     companion.MediaRewindEnd,
	"captionget":    companion.MediaCaptionGet,
	"captionset":    companion.MediaCaptionSet,
}

var mediaParam string

var mediaCmd = &cobra.Command{
	Use:   "media <command>",
	Short: "Send a media-control command",
	Long:  "media sends one of: " + strings.Join(sortedKeys(mediaCodesByName), ", "),
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := requireTarget()
		if err != nil {
			return err
		}
		mediaCode, ok := mediaCodesByName[strings.ToLower(args[0])]
		if !ok {
			return fmt.Errorf("unknown media command %q", args[0])
		}

		params, err := parseMediaParam(mediaParam)
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

		return client.SendMedia(ctx, sess, mediaCode, params)
	},
}

func init() {
	mediaCmd.Flags().StringVar(&mediaParam, "value", "", "numeric value for commands that take one (setvolume, skipby)")
}

// parseMediaParam turns --value into the single OPACK field media
// commands that need one expect. Empty input means no extra field.
func parseMediaParam(raw string) (map[string]opack.Value, error) {
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("--value must be numeric: %w", err)
	}
	return map[string]opack.Value{"_mcVal": opack.Float64(f)}, nil
}
