// Package companion owns the authenticated Companion-link channel: it
// sends HID/media/RTI requests as OPACK-encoded, AEAD-sealed frames and
// dispatches inbound events (keyboard focus, now-playing, and anything
// else an accessory pushes) to registered observers.
package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hapgo/atv-go/device"
	"github.com/hapgo/atv-go/frame"
	"github.com/hapgo/atv-go/hapcrypto"
	"github.com/hapgo/atv-go/haperrors"
	"github.com/hapgo/atv-go/opack"
	"github.com/hapgo/atv-go/pairverify"
)

// HID command codes (wire-stable; do not renumber).
const (
	HIDUp           = 1
	HIDDown         = 2
	HIDLeft         = 3
	HIDRight        = 4
	HIDMenu         = 5
	HIDSelect       = 6
	HIDHome         = 7
	HIDVolumeUp     = 8
	HIDVolumeDown   = 9
	HIDSiri         = 10
	HIDScreensaver  = 11
	HIDSleep        = 12
	HIDWake         = 13
	HIDPlayPause    = 14
	HIDChannelInc   = 15
	HIDChannelDec   = 16
	HIDGuide        = 17
	HIDPageUp       = 18
	HIDPageDown     = 19
)

// Media command codes (wire-stable; do not renumber).
const (
	MediaPlay        = 1
	MediaPause       = 2
	MediaNext        = 3
	MediaPrev        = 4
	MediaGetVolume   = 5
	MediaSetVolume   = 6
	MediaSkipBy      = 7
	MediaFFBegin     = 8
	MediaFFEnd       = 9
	MediaRewindBegin = 10
	MediaRewindEnd   = 11
	MediaCaptionGet  = 12
	MediaCaptionSet  = 13
)

// Action is a button gesture kind for SendKey.
type Action int

const (
	Tap Action = iota
	DoubleTap
	Hold
)

const (
	tapHoldInterval    = 50 * time.Millisecond
	doubleTapGap       = 100 * time.Millisecond
	holdDwell          = 1 * time.Second
	defaultWaitTimeout = 10 * time.Second
)

// FocusState tracks whether the accessory currently has a text field
// focused for Remote Text Input.
type FocusState int

const (
	Unfocused FocusState = iota
	Focused
)

// EventKind classifies an Event so observers can switch on it without
// string-matching the wire tag themselves.
type EventKind int

const (
	// KeyboardFocusChanged reports a Remote Text Input focus/unfocus
	// transition (wire tags "_tiStarted"/"_tiStopped").
	KeyboardFocusChanged EventKind = iota
	// NowPlayingChanged reports that now-playing state changed; this
	// package routes the event but does not parse its metadata.
	NowPlayingChanged
	// ConnectionLost is synthesized locally when the receive loop ends.
	ConnectionLost
	// Reconnected is synthesized locally after a successful single
	// reconnect attempt.
	Reconnected
	// Unrecognized carries any wire event this package has no specific
	// handling for; RawTag holds the "_t" value.
	Unrecognized
)

// Event is a decoded inbound Companion payload, or a locally synthesized
// connection-lifecycle notification, handed to observers.
type Event struct {
	Kind    EventKind
	RawTag  string      // the wire "_t" value; empty for synthesized events
	Focused bool        // valid for KeyboardFocusChanged
	Text    string      // valid for KeyboardFocusChanged when Focused
	Payload opack.Value // raw decoded payload; zero Value for synthesized events
}

// Subscription cancels an observer registration.
type Subscription struct {
	cancel func()
}

// Cancel stops the associated observer from receiving further events.
func (s Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// companionTransport is the subset of transport.Transport a Session depends on.
type companionTransport interface {
	Send(f frame.Frame) error
	Recv(ctx context.Context) (frame.Frame, error)
	Close() error
}

// Session owns one authenticated Companion connection.
type Session struct {
	tr     companionTransport
	logger *slog.Logger

	wmu         sync.Mutex // guards send path: sendCounter, transport writes
	sendKey     [hapcrypto.KeySize]byte
	sendCounter uint64

	rmu         sync.Mutex // guards receive path: recvCounter, focus state
	recvKey     [hapcrypto.KeySize]byte
	recvCounter uint64
	focus       FocusState
	lastText    string

	obsMu     sync.Mutex
	observers map[int]func(Event)
	nextObsID int

	// keyLimiter caps how fast SendKey gestures can be issued, so a
	// caller firing send_key in a tight loop can't outrun what the
	// accessory's HID handling tolerates.
	keyLimiter *rate.Limiter

	device device.Descriptor
}

// New wraps tr as an authenticated Companion session using the channel
// keys produced by a completed pair-verify exchange.
func New(tr companionTransport, dev device.Descriptor, keys pairverify.ChannelKeys, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		tr:         tr,
		logger:     logger,
		sendKey:    keys.SendKey,
		recvKey:    keys.RecvKey,
		observers:  make(map[int]func(Event)),
		keyLimiter: rate.NewLimiter(rate.Every(tapHoldInterval), 1),
		device:     dev,
	}
}

// Start sends the session-start handshake OPACK message; call once,
// immediately after pair-verify completes.
func (s *Session) Start(ctx context.Context) error {
	return s.sendMap(ctx, map[string]opack.Value{
		"_i": opack.String(uuid.NewString()),
		"_t": opack.String("_sessionStart"),
	})
}

// EmitReconnected dispatches a synthesized Reconnected event to
// observers; callers that re-establish a session after ConnectionLost
// call this once the new session is ready.
func (s *Session) EmitReconnected() {
	s.dispatch(Event{Kind: Reconnected})
}

// ObserveEvents registers callback to receive every decoded inbound
// event until the returned Subscription is cancelled.
func (s *Session) ObserveEvents(callback func(Event)) Subscription {
	s.obsMu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = callback
	s.obsMu.Unlock()

	return Subscription{cancel: func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}}
}

// RegisterInterest tells the accessory which event names to push.
func (s *Session) RegisterInterest(ctx context.Context, events []string) error {
	items := make([]opack.Value, len(events))
	for i, e := range events {
		items[i] = opack.String(e)
	}
	return s.sendMap(ctx, map[string]opack.Value{
		"_t":         opack.String("_interest"),
		"_regEvents": opack.Array(items...),
	})
}

// SendKey performs a HID button gesture. Tap sends pressed=1 then,
// after tapHoldInterval, pressed=0. Hold dwells for holdDwell between
// the two edges. DoubleTap runs two tap cycles separated by doubleTapGap.
// Calls are throttled to the accessory's tolerated repeat cadence; a
// burst of SendKey calls blocks on keyLimiter rather than flooding the
// wire.
func (s *Session) SendKey(ctx context.Context, hidCode int, action Action) error {
	if err := s.keyLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("companion: send key rate limit: %w", err)
	}

	press := func(pressed int) error {
		return s.sendMap(ctx, map[string]opack.Value{
			"_hBtS": opack.Int(int64(pressed)),
			"_hidC": opack.Int(int64(hidCode)),
		})
	}

	switch action {
	case Tap:
		return tapOnce(ctx, press, tapHoldInterval)
	case Hold:
		return tapOnce(ctx, press, holdDwell)
	case DoubleTap:
		if err := tapOnce(ctx, press, tapHoldInterval); err != nil {
			return err
		}
		if err := sleepCtx(ctx, doubleTapGap); err != nil {
			return err
		}
		return tapOnce(ctx, press, tapHoldInterval)
	default:
		return fmt.Errorf("companion: unknown key action %d", action)
	}
}

func tapOnce(ctx context.Context, press func(int) error, dwell time.Duration) error {
	if err := press(1); err != nil {
		return err
	}
	if err := sleepCtx(ctx, dwell); err != nil {
		return err
	}
	return press(0)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendMedia issues a media-control command with the given code and extra
// parameters merged into the request map.
func (s *Session) SendMedia(ctx context.Context, mediaCode int, params map[string]opack.Value) error {
	req := map[string]opack.Value{"_mcc": opack.Int(int64(mediaCode))}
	for k, v := range params {
		req[k] = v
	}
	return s.sendMap(ctx, req)
}

// GetText returns the most recently observed text-field contents, or
// ErrNotFocused when no field is focused.
func (s *Session) GetText() (string, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	if s.focus != Focused {
		return "", ErrNotFocused
	}
	return s.lastText, nil
}

// ErrNotFocused is returned by GetText/SetText when no text field is
// currently focused; it is recoverable without disturbing the session.
var ErrNotFocused = fmt.Errorf("companion: no text field is focused")

// SetText starts or updates Remote Text Input. clear=true replaces the
// field's contents; clear=false appends.
func (s *Session) SetText(ctx context.Context, text string, clear bool) error {
	s.rmu.Lock()
	focused := s.focus == Focused
	s.rmu.Unlock()
	if !focused {
		return ErrNotFocused
	}
	return s.sendMap(ctx, map[string]opack.Value{
		"_t": opack.String("_tiStart"),
		"_tiData": opack.Map(map[string]opack.Value{
			"text":  opack.String(text),
			"clear": opack.Bool(clear),
		}),
	})
}

// sendMap OPACK-encodes v, seals it under the send key and counter, and
// writes it as an EVENT frame.
func (s *Session) sendMap(ctx context.Context, v map[string]opack.Value) error {
	plain, err := opack.Encode(opack.Map(v))
	if err != nil {
		return fmt.Errorf("companion: encode outbound payload: %w", err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	sealed, err := hapcrypto.SealFrame(s.sendKey, s.sendCounter, plain, nil)
	if err != nil {
		return fmt.Errorf("companion: seal outbound frame: %w", err)
	}
	if err := s.tr.Send(frame.Frame{Type: frame.Event, Payload: sealed}); err != nil {
		return fmt.Errorf("companion: send frame: %w", err)
	}
	s.sendCounter++
	return nil
}

// Run reads frames from the transport until ctx is cancelled, the
// transport closes, or an inbound frame fails to authenticate, decrypting
// and dispatching each one. On exit it dispatches a synthesized
// ConnectionLost event so observers can react without polling. It is
// meant to run in its own goroutine for the lifetime of the session.
//
// A frame that fails AEAD authentication ends the session: an accessory
// or an on-path attacker replaying or tampering with a frame cannot be
// recovered from by skipping it, since recvCounter has already diverged
// from the sender's. A frame that decrypts cleanly but fails to decode as
// OPACK, or decodes to something unroutable, is logged and dropped; the
// channel itself is still trustworthy.
func (s *Session) Run(ctx context.Context) error {
	for {
		f, err := s.tr.Recv(ctx)
		if err != nil {
			s.dispatch(Event{Kind: ConnectionLost})
			return fmt.Errorf("companion: receive: %w", err)
		}
		if err := s.handleFrame(f); err != nil {
			if errors.Is(err, haperrors.ErrReplay) {
				s.logger.Error("companion: frame authentication failed, closing session", "error", err)
				s.dispatch(Event{Kind: ConnectionLost})
				return err
			}
			s.logger.Warn("companion: dropping unreadable frame", "error", err)
		}
	}
}

func (s *Session) handleFrame(f frame.Frame) error {
	s.rmu.Lock()
	counter := s.recvCounter
	key := s.recvKey
	s.rmu.Unlock()

	plain, err := hapcrypto.OpenFrame(key, counter, f.Payload, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", haperrors.ErrReplay, err)
	}

	s.rmu.Lock()
	s.recvCounter++
	s.rmu.Unlock()

	v, _, err := opack.Decode(plain)
	if err != nil {
		return &haperrors.DecodeError{Step: "companion-event", Err: err}
	}
	if v.Kind != opack.KindMap {
		return nil // not a routable event; logged but non-fatal
	}
	m := v.Map()

	tag := ""
	if t, ok := m["_t"]; ok {
		tag = t.Str()
	}

	s.dispatch(s.classify(tag, m, v))
	return nil
}

// classify turns a decoded wire payload into an Event, updating focus
// state in passing for the tags that carry it.
func (s *Session) classify(tag string, m map[string]opack.Value, v opack.Value) Event {
	switch tag {
	case "_tiStarted":
		s.rmu.Lock()
		text := ""
		if data, hasData := m["_tiD"]; hasData {
			s.focus = Focused
			if data.Kind == opack.KindMap {
				if t, ok := data.Map()["text"]; ok {
					text = t.Str()
					s.lastText = text
				}
			}
		} else {
			s.focus = Unfocused
		}
		focused := s.focus == Focused
		s.rmu.Unlock()
		return Event{Kind: KeyboardFocusChanged, RawTag: tag, Focused: focused, Text: text, Payload: v}
	case "_tiStopped":
		s.rmu.Lock()
		s.focus = Unfocused
		s.rmu.Unlock()
		return Event{Kind: KeyboardFocusChanged, RawTag: tag, Focused: false, Payload: v}
	case "_nowPlayingInfo":
		return Event{Kind: NowPlayingChanged, RawTag: tag, Payload: v}
	default:
		return Event{Kind: Unrecognized, RawTag: tag, Payload: v}
	}
}

func (s *Session) dispatch(e Event) {
	s.obsMu.Lock()
	callbacks := make([]func(Event), 0, len(s.observers))
	for _, cb := range s.observers {
		callbacks = append(callbacks, cb)
	}
	s.obsMu.Unlock()

	for _, cb := range callbacks {
		cb(e)
	}
}

// Close tears down the underlying transport and zeroes the session keys.
func (s *Session) Close() error {
	clear(s.sendKey[:])
	clear(s.recvKey[:])
	return s.tr.Close()
}
