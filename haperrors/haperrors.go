// Package haperrors defines the error taxonomy shared across the pairing
// and session packages: sentinel errors for conditions callers branch on,
// and typed wrappers that carry the extra data a caller needs to decide
// what to do next (retry timing, the offending TLV tag, the rejection
// subcode the accessory reported).
package haperrors

import (
	"fmt"
	"time"
)

// Sentinel errors matched with errors.Is.
var (
	// ErrNotPaired is returned by operations that require stored
	// credentials when none are on file for the target accessory.
	ErrNotPaired = fmt.Errorf("haperrors: accessory is not paired")

	// ErrSessionNotVerified is returned when a Companion command is
	// attempted before pair-verify has completed.
	ErrSessionNotVerified = fmt.Errorf("haperrors: session has not completed pair-verify")

	// ErrReplay is returned when an inbound frame's AEAD counter does not
	// match the expected next value.
	ErrReplay = fmt.Errorf("haperrors: out-of-order or replayed frame counter")
)

// PairingErrorCode mirrors the kTLVError subcodes an accessory sends back
// in the TLV error tag (0x07) during pair-setup or pair-verify.
type PairingErrorCode uint8

const (
	ErrorUnknown        PairingErrorCode = 1
	ErrorAuthentication PairingErrorCode = 2
	ErrorBackoff        PairingErrorCode = 3
	ErrorMaxPeers       PairingErrorCode = 4
	ErrorMaxTries       PairingErrorCode = 5
	ErrorUnavailable    PairingErrorCode = 6
	ErrorBusy           PairingErrorCode = 7
)

func (c PairingErrorCode) String() string {
	switch c {
	case ErrorUnknown:
		return "kTLVError_Unknown"
	case ErrorAuthentication:
		return "kTLVError_Authentication"
	case ErrorBackoff:
		return "kTLVError_Backoff"
	case ErrorMaxPeers:
		return "kTLVError_MaxPeers"
	case ErrorMaxTries:
		return "kTLVError_MaxTries"
	case ErrorUnavailable:
		return "kTLVError_Unavailable"
	case ErrorBusy:
		return "kTLVError_Busy"
	default:
		return fmt.Sprintf("kTLVError(%d)", uint8(c))
	}
}

// PairingRejectedError wraps an accessory-reported error subcode from a
// pair-setup or pair-verify exchange.
type PairingRejectedError struct {
	Step string // e.g. "M2", "PV2"
	Code PairingErrorCode
}

func (e *PairingRejectedError) Error() string {
	return fmt.Sprintf("haperrors: accessory rejected pairing at %s: %s", e.Step, e.Code)
}

// BackOffError is returned when the accessory's rejection carries a
// kTLVError_Backoff or kTLVError_MaxTries code; the caller must wait
// before retrying.
type BackOffError struct {
	*PairingRejectedError
	Until time.Time
}

// RetryAfter returns when it is safe to retry the exchange.
func (e *BackOffError) RetryAfter() time.Time {
	return e.Until
}

// DecodeError wraps a lower-level codec failure (TLV8 or OPACK) with the
// protocol step during which it occurred, so a log line can point at the
// exchange that produced the bad bytes rather than just the codec.
type DecodeError struct {
	Step string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("haperrors: decode failed at %s: %v", e.Step, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// MissingTagError is returned when a required TLV or OPACK field is
// absent from a message that otherwise parsed cleanly.
type MissingTagError struct {
	Step string
	Tag  string
}

func (e *MissingTagError) Error() string {
	return fmt.Sprintf("haperrors: %s message missing required field %s", e.Step, e.Tag)
}
