// Package pairsetup drives HomeKit's first-time pairing exchange
// (M1–M6): SRP-6a mutual authentication against the accessory's setup
// code, followed by an encrypted key-exchange round that mints long-term
// Ed25519 credentials. This package returns the credentials; it does not
// store them.
package pairsetup

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/hapgo/atv-go/device"
	"github.com/hapgo/atv-go/frame"
	"github.com/hapgo/atv-go/hapcrypto"
	"github.com/hapgo/atv-go/haperrors"
	"github.com/hapgo/atv-go/srp"
	"github.com/hapgo/atv-go/tlv8"
)

// HAP TLV8 tag numbers (shared by pair-setup and pair-verify).
const (
	tagMethod        uint8 = 0x00
	tagIdentifier    uint8 = 0x01
	tagSalt          uint8 = 0x02
	tagPublicKey     uint8 = 0x03
	tagProof         uint8 = 0x04
	tagEncryptedData uint8 = 0x05
	tagState         uint8 = 0x06 // seqNo
	tagError         uint8 = 0x07
	tagRetryDelay    uint8 = 0x08
	tagSignature     uint8 = 0x0A
)

// State is the pair-setup driver's current step.
type State int

const (
	Idle State = iota
	M1Sent
	M3Sent
	M5Sent
	Done
)

// sender is the subset of transport.Transport pairsetup needs; keeping
// it minimal lets tests fake it without depending on the transport
// package.
type sender interface {
	Send(f frame.Frame) error
	Recv(ctx context.Context) (frame.Frame, error)
}

// Driver runs one pair-setup exchange to completion. A Driver is single
// use: create a new one per attempt.
type Driver struct {
	tr         sender
	pairingID  string
	clientLTPK ed25519.PublicKey
	clientLTSK ed25519.PrivateKey
	logger     *slog.Logger

	state State
	srpC  *srp.Client
	k     []byte // SRP session key K
}

// New creates a pair-setup driver. pairingID identifies this controller
// to the accessory (typically a UUID, stable across pairings with the
// same install). A fresh Ed25519 identity keypair is generated for every
// call; re-pairing always mints new long-term keys.
func New(tr sender, pairingID string, logger *slog.Logger) (*Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("pairsetup: generate identity key: %w", err)
	}
	return &Driver{
		tr:         tr,
		pairingID:  pairingID,
		clientLTPK: pub,
		clientLTSK: priv,
		logger:     logger,
		state:      Idle,
	}, nil
}

// Run drives M1 through M6 and returns the resulting credentials record
// on success. pin is the accessory's setup code digits only, e.g.
// "46637726". The returned record's Identifier is the controller's
// pairingID, not the accessory's identifier.
func (d *Driver) Run(ctx context.Context, pin []byte) (device.Credentials, error) {
	if d.state != Idle {
		return device.Credentials{}, fmt.Errorf("pairsetup: driver already used (state=%d)", d.state)
	}

	salt, B, err := d.sendM1(ctx)
	if err != nil {
		return device.Credentials{}, err
	}

	srpC, err := srp.NewClient(pin)
	if err != nil {
		return device.Credentials{}, fmt.Errorf("pairsetup: init srp client: %w", err)
	}
	d.srpC = srpC
	defer func() {
		if d.srpC != nil {
			d.srpC.Close()
		}
	}()

	m1, k, err := srpC.Challenge(salt, B)
	if err != nil {
		return device.Credentials{}, fmt.Errorf("pairsetup: srp challenge: %w", err)
	}
	d.k = k

	serverM2, err := d.sendM3(ctx, srpC.PublicValue(), m1)
	if err != nil {
		return device.Credentials{}, err
	}

	if err := srp.VerifyServerProof(srpC.PublicValue(), m1, k, serverM2); err != nil {
		return device.Credentials{}, err
	}

	serverIdentifier, serverLTPK, err := d.sendM5(ctx)
	if err != nil {
		return device.Credentials{}, err
	}

	d.state = Done
	_ = serverIdentifier

	return device.Credentials{
		Identifier: d.pairingID,
		ClientLTSK: d.clientLTSK,
		ClientLTPK: d.clientLTPK,
		ServerLTPK: serverLTPK,
	}, nil
}

// sendM1 sends the method-select message and parses M2's salt and B.
func (d *Driver) sendM1(ctx context.Context) (salt, b []byte, err error) {
	payload := tlv8.Encode(tlv8.Items{
		{Tag: tagState, Value: []byte{0x01}},
		{Tag: tagMethod, Value: []byte{0x00}},
	})
	if err := d.tr.Send(frame.Frame{Type: frame.PSStart, Payload: payload}); err != nil {
		return nil, nil, fmt.Errorf("pairsetup: send M1: %w", err)
	}
	d.state = M1Sent

	items, err := d.recvTLV(ctx, "M2")
	if err != nil {
		return nil, nil, err
	}
	if err := checkError(items, "M2"); err != nil {
		return nil, nil, err
	}
	salt, ok := items.Get(tagSalt)
	if !ok {
		return nil, nil, &haperrors.MissingTagError{Step: "M2", Tag: "salt"}
	}
	b, ok = items.Get(tagPublicKey)
	if !ok {
		return nil, nil, &haperrors.MissingTagError{Step: "M2", Tag: "publicKey"}
	}
	return salt, b, nil
}

// sendM3 sends the client's SRP public value and proof, returning the
// server's M4 proof.
func (d *Driver) sendM3(ctx context.Context, publicValue, m1 []byte) (serverM2 []byte, err error) {
	payload := tlv8.Encode(tlv8.Items{
		{Tag: tagState, Value: []byte{0x03}},
		{Tag: tagPublicKey, Value: publicValue},
		{Tag: tagProof, Value: m1},
	})
	if err := d.tr.Send(frame.Frame{Type: frame.PSNext, Payload: payload}); err != nil {
		return nil, fmt.Errorf("pairsetup: send M3: %w", err)
	}
	d.state = M3Sent

	items, err := d.recvTLV(ctx, "M4")
	if err != nil {
		return nil, err
	}
	if err := checkError(items, "M4"); err != nil {
		return nil, err
	}
	proof, ok := items.Get(tagProof)
	if !ok {
		return nil, &haperrors.MissingTagError{Step: "M4", Tag: "proof"}
	}
	return proof, nil
}

// sendM5 composes and seals the controller's identity sub-TLV, sends it
// as M5, and verifies the accessory's M6 reply.
func (d *Driver) sendM5(ctx context.Context) (serverIdentifier string, serverLTPK ed25519.PublicKey, err error) {
	encryptKey, err := hapcrypto.DeriveKey(d.k, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info")
	if err != nil {
		return "", nil, fmt.Errorf("pairsetup: derive encrypt key: %w", err)
	}
	signKey, err := hapcrypto.DeriveKey(d.k, "Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info")
	if err != nil {
		return "", nil, fmt.Errorf("pairsetup: derive sign key: %w", err)
	}

	deviceInfo := append([]byte{}, signKey[:]...)
	deviceInfo = append(deviceInfo, []byte(d.pairingID)...)
	deviceInfo = append(deviceInfo, d.clientLTPK...)
	signature := ed25519.Sign(d.clientLTSK, deviceInfo)

	innerTLV := tlv8.Encode(tlv8.Items{
		{Tag: tagIdentifier, Value: []byte(d.pairingID)},
		{Tag: tagPublicKey, Value: d.clientLTPK},
		{Tag: tagSignature, Value: signature},
	})
	encrypted, err := hapcrypto.SealHandshake(encryptKey, "PS-Msg05", innerTLV, nil)
	if err != nil {
		return "", nil, fmt.Errorf("pairsetup: seal M5: %w", err)
	}

	payload := tlv8.Encode(tlv8.Items{
		{Tag: tagState, Value: []byte{0x05}},
		{Tag: tagEncryptedData, Value: encrypted},
	})
	if err := d.tr.Send(frame.Frame{Type: frame.PSNext, Payload: payload}); err != nil {
		return "", nil, fmt.Errorf("pairsetup: send M5: %w", err)
	}
	d.state = M5Sent

	items, err := d.recvTLV(ctx, "M6")
	if err != nil {
		return "", nil, err
	}
	if err := checkError(items, "M6"); err != nil {
		return "", nil, err
	}
	encryptedReply, ok := items.Get(tagEncryptedData)
	if !ok {
		return "", nil, &haperrors.MissingTagError{Step: "M6", Tag: "encryptedData"}
	}
	innerPlain, err := hapcrypto.OpenHandshake(encryptKey, "PS-Msg06", encryptedReply, nil)
	if err != nil {
		return "", nil, fmt.Errorf("pairsetup: open M6: %w", err)
	}
	inner := tlv8.Decode(innerPlain)

	identBytes, ok := inner.Get(tagIdentifier)
	if !ok {
		return "", nil, &haperrors.MissingTagError{Step: "M6", Tag: "identifier"}
	}
	ltpkBytes, ok := inner.Get(tagPublicKey)
	if !ok {
		return "", nil, &haperrors.MissingTagError{Step: "M6", Tag: "publicKey"}
	}
	sig, ok := inner.Get(tagSignature)
	if !ok {
		return "", nil, &haperrors.MissingTagError{Step: "M6", Tag: "signature"}
	}

	accessorySignKey, err := hapcrypto.DeriveKey(d.k, "Pair-Setup-Accessory-Sign-Salt", "Pair-Setup-Accessory-Sign-Info")
	if err != nil {
		return "", nil, fmt.Errorf("pairsetup: derive accessory sign key: %w", err)
	}
	signed := append([]byte{}, accessorySignKey[:]...)
	signed = append(signed, identBytes...)
	signed = append(signed, ltpkBytes...)
	if !ed25519.Verify(ed25519.PublicKey(ltpkBytes), signed, sig) {
		return "", nil, fmt.Errorf("pairsetup: M6 signature verification failed")
	}

	return string(identBytes), ed25519.PublicKey(ltpkBytes), nil
}

// recvTLV waits for the next frame and decodes it as TLV8, labelling any
// error with the exchange step for easier diagnosis.
func (d *Driver) recvTLV(ctx context.Context, step string) (tlv8.Items, error) {
	f, err := d.tr.Recv(ctx)
	if err != nil {
		return nil, fmt.Errorf("pairsetup: receive %s: %w", step, err)
	}
	return tlv8.Decode(f.Payload), nil
}

// checkError inspects a reply for an error tag and translates it to the
// pairing error taxonomy.
func checkError(items tlv8.Items, step string) error {
	raw, ok := items.Get(tagError)
	if !ok || len(raw) == 0 {
		return nil
	}
	code := haperrors.PairingErrorCode(raw[0])
	base := &haperrors.PairingRejectedError{Step: step, Code: code}
	if code == haperrors.ErrorBackoff || code == haperrors.ErrorMaxTries {
		delaySeconds := 0
		if delay, ok := items.Get(tagRetryDelay); ok && len(delay) > 0 {
			for _, b := range delay {
				delaySeconds = delaySeconds<<8 | int(b)
			}
		}
		return &haperrors.BackOffError{
			PairingRejectedError: base,
			Until:                backoffDeadline(delaySeconds),
		}
	}
	return base
}

func backoffDeadline(seconds int) time.Time {
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
