package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hapgo/atv-go/atvremote"
	"github.com/hapgo/atv-go/credstore"
	"github.com/hapgo/atv-go/device"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	host       string
	port       uint16
	identifier string
	credDir    string
	verbose    bool
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:     "atvremote",
	Short:   "Pair with and remote-control an Apple TV over HomeKit Companion",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&host, "host", "", "accessory IP address or hostname")
	rootCmd.PersistentFlags().Uint16Var(&port, "port", 0, "accessory Companion-link port")
	rootCmd.PersistentFlags().StringVar(&identifier, "identifier", "", "accessory identifier, used as the credential store key")
	rootCmd.PersistentFlags().StringVar(&credDir, "cred-dir", credstore.DefaultDir(), "credential store directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging to stdout")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "atvremote-debug.log", "path to the JSON debug log")

	rootCmd.AddCommand(scanCmd, pairCmd, keyCmd, mediaCmd, textCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func setupLogging() (*slog.Logger, *os.File) {
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log file: %v\n", err)
		os.Exit(1)
	}
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	stdoutLevel := slog.LevelWarn
	if verbose {
		stdoutLevel = slog.LevelDebug
	}
	stdoutHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: stdoutLevel})
	return slog.New(&multiHandler{handlers: []slog.Handler{fileHandler, stdoutHandler}}), f
}

// multiHandler fans out slog records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}

// newClient builds an atvremote.Client backed by the file credential store
// rooted at credDir, with logging wired per the global flags.
func newClient() (*atvremote.Client, *slog.Logger, *os.File) {
	logger, f := setupLogging()
	store := &credstore.FileStore{Dir: credDir}
	return atvremote.New(store, logger), logger, f
}

// requireTarget validates the --host/--port/--identifier flags every
// subcommand but scan needs, and returns the resulting descriptor.
func requireTarget() (device.Descriptor, error) {
	if host == "" || port == 0 || identifier == "" {
		return device.Descriptor{}, fmt.Errorf("--host, --port, and --identifier are required")
	}
	return device.Descriptor{Identifier: identifier, Address: host, Port: port}, nil
}

// connectAndVerify is the common dial-verify sequence every command past
// pair shares: load stored credentials, connect, and run pair-verify.
func connectAndVerify(ctx context.Context, client *atvremote.Client, dev device.Descriptor) (*atvremote.Session, error) {
	creds, err := client.Store.Get(dev.Identifier)
	if err != nil {
		return nil, fmt.Errorf("load credentials (run 'atvremote pair' first): %w", err)
	}
	sess, err := client.Connect(ctx, dev)
	if err != nil {
		return nil, err
	}
	if err := client.Verify(ctx, sess, creds); err != nil {
		return nil, err
	}
	return sess, nil
}
