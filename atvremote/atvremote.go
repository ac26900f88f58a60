// Package atvremote is the host-facing façade: scan, connect, pair,
// verify, and drive an Apple TV over the Companion link, without callers
// needing to touch the pairing state machines or codecs directly.
package atvremote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hapgo/atv-go/companion"
	"github.com/hapgo/atv-go/credstore"
	"github.com/hapgo/atv-go/device"
	"github.com/hapgo/atv-go/discovery"
	"github.com/hapgo/atv-go/haperrors"
	"github.com/hapgo/atv-go/opack"
	"github.com/hapgo/atv-go/pairsetup"
	"github.com/hapgo/atv-go/pairverify"
	"github.com/hapgo/atv-go/transport"
)

// reconnectCooldown bounds how often Reconnect will redial the same
// session; a flapping link shouldn't turn into a dial storm.
const reconnectCooldown = 30 * time.Second

// Client ties together discovery, pairing, and session management for a
// single host application. It holds no per-device state beyond the
// injected credential store.
type Client struct {
	Store  credstore.Store
	Logger *slog.Logger
}

// New creates a Client backed by store. A nil logger falls back to
// slog.Default().
func New(store credstore.Store, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{Store: store, Logger: logger}
}

// Scan runs browser for the Companion service type and returns every
// result that looks like an Apple TV, converted to device descriptors.
func Scan(ctx context.Context, browser discovery.Browser) ([]device.Descriptor, error) {
	results := make(chan discovery.Result, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- browser.Browse(ctx, discovery.CompanionServiceType, results)
		close(results)
	}()

	var found []device.Descriptor
	for r := range results {
		if discovery.IsAppleTV(r) {
			found = append(found, discovery.ToDescriptor(r))
		}
	}
	if err := <-errCh; err != nil {
		return found, fmt.Errorf("atvremote: scan: %w", err)
	}
	return found, nil
}

// Session is a connected-but-not-yet-necessarily-paired handle to one
// Apple TV: a live transport plus, once Pair-Verify has run, an
// authenticated Companion session.
type Session struct {
	dev       device.Descriptor
	tr        transport.Transport
	logger    *slog.Logger
	companion *companion.Session
	cancelRun context.CancelFunc

	reconnectLimiter *rate.Limiter
}

// Connect dials dev's Companion listener without pairing or verifying.
func (c *Client) Connect(ctx context.Context, dev device.Descriptor) (*Session, error) {
	addr := fmt.Sprintf("%s:%d", dev.Address, dev.Port)
	tr, err := transport.Dial(ctx, addr, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("atvremote: connect: %w", err)
	}
	return &Session{
		dev:              dev,
		tr:               tr,
		logger:           c.Logger,
		reconnectLimiter: rate.NewLimiter(rate.Every(reconnectCooldown), 1),
	}, nil
}

// newTestSession builds a Session around an arbitrary transport, for
// driving Pair/Verify/etc. without a real network connection.
func newTestSession(dev device.Descriptor, tr transport.Transport, logger *slog.Logger) *Session {
	return &Session{dev: dev, tr: tr, logger: logger, reconnectLimiter: rate.NewLimiter(rate.Every(reconnectCooldown), 1)}
}

// Pair runs Pair-Setup against an already-connected session using pin,
// and persists the resulting credentials before returning them.
func (c *Client) Pair(ctx context.Context, s *Session, pin string) (device.Credentials, error) {
	driver, err := pairsetup.New(s.tr, c.pairingID(), s.logger)
	if err != nil {
		return device.Credentials{}, fmt.Errorf("atvremote: pair: %w", err)
	}
	creds, err := driver.Run(ctx, []byte(pin))
	if err != nil {
		return device.Credentials{}, fmt.Errorf("atvremote: pair: %w", err)
	}
	creds.Identifier = s.dev.Identifier
	if err := c.Store.Put(creds); err != nil {
		return device.Credentials{}, fmt.Errorf("atvremote: pair: persist credentials: %w", err)
	}
	return creds, nil
}

// pairingID is the stable identifier this host presents to accessories
// during pair-setup. A fixed well-known value is fine here: HAP binds
// the relationship by Ed25519 key, not by this string being unique.
func (c *Client) pairingID() string {
	return "atv-go-controller"
}

// Verify runs Pair-Verify against creds and, on success, starts the
// Companion session and its background receive loop.
func (c *Client) Verify(ctx context.Context, s *Session, creds device.Credentials) error {
	// Stored credentials are keyed by the accessory's identifier; PV3 must
	// present the same controller pairing ID that Pair registered in M5.
	verifyCreds := creds
	verifyCreds.Identifier = c.pairingID()
	driver, err := pairverify.New(s.tr, verifyCreds, s.logger)
	if err != nil {
		return fmt.Errorf("atvremote: verify: %w", err)
	}
	keys, err := driver.Run(ctx)
	if err != nil {
		driver.Close()
		return fmt.Errorf("atvremote: verify: %w", err)
	}

	s.companion = companion.New(s.tr, s.dev, keys, s.logger)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancelRun = cancel
	go func() {
		if err := s.companion.Run(runCtx); err != nil {
			s.logger.Debug("companion session receive loop ended", "error", err)
		}
	}()

	return s.companion.Start(ctx)
}

// ErrReconnectThrottled is returned by Reconnect when it is called again
// before reconnectCooldown has elapsed since the last attempt.
var ErrReconnectThrottled = errors.New("atvremote: reconnect attempted too soon, backing off")

// Reconnect redials s's accessory and re-runs pair-verify with creds,
// replacing the session's transport and Companion state in place. At
// most one attempt is allowed per reconnectCooldown window; callers
// that want faster retries should handle ErrReconnectThrottled
// themselves rather than looping here.
func (c *Client) Reconnect(ctx context.Context, s *Session, creds device.Credentials) error {
	if !s.reconnectLimiter.Allow() {
		return ErrReconnectThrottled
	}

	if s.cancelRun != nil {
		s.cancelRun()
	}
	_ = s.tr.Close()

	addr := fmt.Sprintf("%s:%d", s.dev.Address, s.dev.Port)
	tr, err := transport.Dial(ctx, addr, s.logger)
	if err != nil {
		return fmt.Errorf("atvremote: reconnect: %w", err)
	}
	s.tr = tr
	s.companion = nil

	if err := c.Verify(ctx, s, creds); err != nil {
		return fmt.Errorf("atvremote: reconnect: %w", err)
	}

	cs, err := s.requireVerified()
	if err == nil {
		cs.EmitReconnected()
	}
	return nil
}

// requireVerified returns the active companion session or an error if
// Verify has not yet completed.
func (s *Session) requireVerified() (*companion.Session, error) {
	if s.companion == nil {
		return nil, fmt.Errorf("atvremote: %w", errSessionNotVerified)
	}
	return s.companion, nil
}

var errSessionNotVerified = haperrors.ErrSessionNotVerified

// SendKey performs a HID button gesture on s.
func (c *Client) SendKey(ctx context.Context, s *Session, hidCode int, action companion.Action) error {
	cs, err := s.requireVerified()
	if err != nil {
		return err
	}
	return cs.SendKey(ctx, hidCode, action)
}

// SendMedia issues a media-control command on s.
func (c *Client) SendMedia(ctx context.Context, s *Session, mediaCode int, params map[string]opack.Value) error {
	cs, err := s.requireVerified()
	if err != nil {
		return err
	}
	return cs.SendMedia(ctx, mediaCode, params)
}

// GetText returns the currently focused text field's contents.
func (c *Client) GetText(s *Session) (string, error) {
	cs, err := s.requireVerified()
	if err != nil {
		return "", err
	}
	return cs.GetText()
}

// SetText updates or starts Remote Text Input on s.
func (c *Client) SetText(ctx context.Context, s *Session, text string, clear bool) error {
	cs, err := s.requireVerified()
	if err != nil {
		return err
	}
	return cs.SetText(ctx, text, clear)
}

// ObserveEvents registers callback for every decoded inbound Companion
// event on s.
func (c *Client) ObserveEvents(s *Session, callback func(companion.Event)) (companion.Subscription, error) {
	cs, err := s.requireVerified()
	if err != nil {
		return companion.Subscription{}, err
	}
	return cs.ObserveEvents(callback), nil
}

// Disconnect closes s's companion session (if any) and transport.
func (c *Client) Disconnect(s *Session) error {
	if s.cancelRun != nil {
		s.cancelRun()
	}
	if s.companion != nil {
		return s.companion.Close()
	}
	return s.tr.Close()
}
