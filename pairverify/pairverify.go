// Package pairverify drives HomeKit's per-session authentication
// exchange (PV1–PV4): an ephemeral X25519 key agreement authenticated by
// previously provisioned Ed25519 credentials, yielding the ChaCha20-Poly1305
// channel keys the Companion session encrypts traffic under.
package pairverify

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/curve25519"

	"github.com/hapgo/atv-go/device"
	"github.com/hapgo/atv-go/frame"
	"github.com/hapgo/atv-go/hapcrypto"
	"github.com/hapgo/atv-go/haperrors"
	"github.com/hapgo/atv-go/tlv8"
)

// TLV8 tags, shared with pairsetup's HAP tag numbering.
const (
	tagIdentifier    uint8 = 0x01
	tagPublicKey     uint8 = 0x03
	tagEncryptedData uint8 = 0x05
	tagState         uint8 = 0x06
	tagError         uint8 = 0x07
	tagSignature     uint8 = 0x0A
)

// State is the pair-verify driver's current step.
type State int

const (
	Idle State = iota
	PV1Sent
	PV3Sent
	Done
)

type sender interface {
	Send(f frame.Frame) error
	Recv(ctx context.Context) (frame.Frame, error)
}

// ChannelKeys are the derived post-handshake AEAD keys, one per
// direction, ready to hand to a Companion session.
type ChannelKeys struct {
	SendKey [hapcrypto.KeySize]byte // controller -> accessory
	RecvKey [hapcrypto.KeySize]byte // accessory -> controller
}

// Driver runs one pair-verify exchange to completion. A Driver is single
// use: create a new one per session.
type Driver struct {
	tr     sender
	creds  device.Credentials
	logger *slog.Logger

	state  State
	priv   [32]byte // ephemeral X25519 private scalar
	pub    [32]byte // ephemeral X25519 public value
	shared []byte
}

// New creates a pair-verify driver against previously stored credentials
// for the accessory being connected to. creds.Identifier is sent in PV3
// as the controller's pairing identifier.
func New(tr sender, creds device.Credentials, logger *slog.Logger) (*Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("pairverify: %w", err)
	}

	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("pairverify: generate ephemeral key: %w", err)
	}
	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("pairverify: compute ephemeral public key: %w", err)
	}
	var pub [32]byte
	copy(pub[:], pubSlice)

	return &Driver{
		tr:     tr,
		creds:  creds,
		logger: logger,
		state:  Idle,
		priv:   priv,
		pub:    pub,
	}, nil
}

// Close zeroes the ephemeral private scalar. Call on error paths when
// Run() did not reach completion.
func (d *Driver) Close() {
	clear(d.priv[:])
}

// Run drives PV1 through PV4 and returns the negotiated channel keys.
func (d *Driver) Run(ctx context.Context) (ChannelKeys, error) {
	if d.state != Idle {
		return ChannelKeys{}, fmt.Errorf("pairverify: driver already used (state=%d)", d.state)
	}

	serverEphPub, encryptedData, err := d.sendPV1(ctx)
	if err != nil {
		return ChannelKeys{}, err
	}

	sharedSlice, err := curve25519.X25519(d.priv[:], serverEphPub)
	if err != nil {
		return ChannelKeys{}, fmt.Errorf("pairverify: compute shared secret: %w", err)
	}
	d.shared = sharedSlice

	verifyEncryptKey, err := hapcrypto.DeriveKey(d.shared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info")
	if err != nil {
		return ChannelKeys{}, fmt.Errorf("pairverify: derive verify-encrypt key: %w", err)
	}

	innerPlain, err := hapcrypto.OpenHandshake(verifyEncryptKey, "PV-Msg02", encryptedData, nil)
	if err != nil {
		return ChannelKeys{}, fmt.Errorf("pairverify: open PV2: %w", err)
	}
	inner := tlv8.Decode(innerPlain)
	serverIdentifier, ok := inner.Get(tagIdentifier)
	if !ok {
		return ChannelKeys{}, &haperrors.MissingTagError{Step: "PV2", Tag: "identifier"}
	}
	serverSig, ok := inner.Get(tagSignature)
	if !ok {
		return ChannelKeys{}, &haperrors.MissingTagError{Step: "PV2", Tag: "signature"}
	}

	signedMsg := append([]byte{}, serverEphPub...)
	signedMsg = append(signedMsg, serverIdentifier...)
	signedMsg = append(signedMsg, d.pub[:]...)
	if !ed25519.Verify(d.creds.ServerLTPK, signedMsg, serverSig) {
		return ChannelKeys{}, fmt.Errorf("pairverify: PV2 signature verification failed")
	}

	if err := d.sendPV3(ctx, verifyEncryptKey, serverEphPub); err != nil {
		return ChannelKeys{}, err
	}

	d.state = Done

	var keys ChannelKeys
	recvKey, err := hapcrypto.DeriveKey(d.shared, "Control-Salt", "Control-Read-Encryption-Key")
	if err != nil {
		return ChannelKeys{}, fmt.Errorf("pairverify: derive recv key: %w", err)
	}
	sendKey, err := hapcrypto.DeriveKey(d.shared, "Control-Salt", "Control-Write-Encryption-Key")
	if err != nil {
		return ChannelKeys{}, fmt.Errorf("pairverify: derive send key: %w", err)
	}
	keys.RecvKey = recvKey
	keys.SendKey = sendKey

	clear(d.shared)
	clear(d.priv[:])

	return keys, nil
}

// sendPV1 sends the controller's ephemeral public key and parses PV2's
// server ephemeral public key and encrypted identity sub-TLV.
func (d *Driver) sendPV1(ctx context.Context) (serverEphPub, encryptedData []byte, err error) {
	payload := tlv8.Encode(tlv8.Items{
		{Tag: tagState, Value: []byte{0x01}},
		{Tag: tagPublicKey, Value: d.pub[:]},
	})
	if err := d.tr.Send(frame.Frame{Type: frame.PVStart, Payload: payload}); err != nil {
		return nil, nil, fmt.Errorf("pairverify: send PV1: %w", err)
	}
	d.state = PV1Sent

	f, err := d.tr.Recv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("pairverify: receive PV2: %w", err)
	}
	items := tlv8.Decode(f.Payload)
	if err := checkError(items, "PV2"); err != nil {
		return nil, nil, err
	}
	serverEphPub, ok := items.Get(tagPublicKey)
	if !ok {
		return nil, nil, &haperrors.MissingTagError{Step: "PV2", Tag: "publicKey"}
	}
	encryptedData, ok = items.Get(tagEncryptedData)
	if !ok {
		return nil, nil, &haperrors.MissingTagError{Step: "PV2", Tag: "encryptedData"}
	}
	return serverEphPub, encryptedData, nil
}

// sendPV3 signs and seals the controller's proof of identity and waits
// for PV4's acknowledgement.
func (d *Driver) sendPV3(ctx context.Context, verifyEncryptKey [hapcrypto.KeySize]byte, serverEphPub []byte) error {
	signedMsg := append([]byte{}, d.pub[:]...)
	signedMsg = append(signedMsg, []byte(d.creds.Identifier)...)
	signedMsg = append(signedMsg, serverEphPub...)
	signature := ed25519.Sign(d.creds.ClientLTSK, signedMsg)

	innerTLV := tlv8.Encode(tlv8.Items{
		{Tag: tagIdentifier, Value: []byte(d.creds.Identifier)},
		{Tag: tagSignature, Value: signature},
	})
	encrypted, err := hapcrypto.SealHandshake(verifyEncryptKey, "PV-Msg03", innerTLV, nil)
	if err != nil {
		return fmt.Errorf("pairverify: seal PV3: %w", err)
	}

	payload := tlv8.Encode(tlv8.Items{
		{Tag: tagState, Value: []byte{0x03}},
		{Tag: tagEncryptedData, Value: encrypted},
	})
	if err := d.tr.Send(frame.Frame{Type: frame.PVNext, Payload: payload}); err != nil {
		return fmt.Errorf("pairverify: send PV3: %w", err)
	}
	d.state = PV3Sent

	f, err := d.tr.Recv(ctx)
	if err != nil {
		return fmt.Errorf("pairverify: receive PV4: %w", err)
	}
	items := tlv8.Decode(f.Payload)
	return checkError(items, "PV4")
}

func checkError(items tlv8.Items, step string) error {
	raw, ok := items.Get(tagError)
	if !ok || len(raw) == 0 {
		return nil
	}
	code := haperrors.PairingErrorCode(raw[0])
	return &haperrors.PairingRejectedError{Step: step, Code: code}
}
