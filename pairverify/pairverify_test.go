package pairverify

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/hapgo/atv-go/device"
	"github.com/hapgo/atv-go/frame"
	"github.com/hapgo/atv-go/hapcrypto"
	"github.com/hapgo/atv-go/haperrors"
	"github.com/hapgo/atv-go/tlv8"
)

// fakeAccessory plays the accessory side of pair-verify over channels,
// using credentials established by a prior (simulated) pair-setup.
type fakeAccessory struct {
	toDriver   chan frame.Frame
	fromDriver chan frame.Frame

	serverIdentifier string
	serverLTSK       ed25519.PrivateKey
	clientLTPK       ed25519.PublicKey // to verify PV3 against
}

func (a *fakeAccessory) Send(f frame.Frame) error   { a.fromDriver <- f; return nil }
func (a *fakeAccessory) Recv(ctx context.Context) (frame.Frame, error) {
	select {
	case f := <-a.toDriver:
		return f, nil
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	}
}

func (a *fakeAccessory) run(t *testing.T, badSignature bool) {
	t.Helper()

	pv1 := <-a.fromDriver
	items := tlv8.Decode(pv1.Payload)
	clientEphPub, ok := items.Get(tagPublicKey)
	if !ok {
		t.Fatal("fakeAccessory: PV1 missing publicKey")
	}

	var serverPriv [32]byte
	rand.Read(serverPriv[:])
	serverPubSlice, err := curve25519.X25519(serverPriv[:], curve25519.Basepoint)
	if err != nil {
		t.Fatal(err)
	}

	shared, err := curve25519.X25519(serverPriv[:], clientEphPub)
	if err != nil {
		t.Fatal(err)
	}
	verifyEncryptKey, err := hapcrypto.DeriveKey(shared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info")
	if err != nil {
		t.Fatal(err)
	}

	signedMsg := append([]byte{}, serverPubSlice...)
	signedMsg = append(signedMsg, []byte(a.serverIdentifier)...)
	signedMsg = append(signedMsg, clientEphPub...)
	sig := ed25519.Sign(a.serverLTSK, signedMsg)
	if badSignature {
		sig[0] ^= 0xFF
	}

	innerTLV := tlv8.Encode(tlv8.Items{
		{Tag: tagIdentifier, Value: []byte(a.serverIdentifier)},
		{Tag: tagSignature, Value: sig},
	})
	encrypted, err := hapcrypto.SealHandshake(verifyEncryptKey, "PV-Msg02", innerTLV, nil)
	if err != nil {
		t.Fatal(err)
	}

	a.toDriver <- frame.Frame{Type: frame.PVNext, Payload: tlv8.Encode(tlv8.Items{
		{Tag: tagState, Value: []byte{0x02}},
		{Tag: tagPublicKey, Value: serverPubSlice},
		{Tag: tagEncryptedData, Value: encrypted},
	})}

	if badSignature {
		return // driver should give up before sending PV3
	}

	pv3 := <-a.fromDriver
	pv3Items := tlv8.Decode(pv3.Payload)
	pv3Encrypted, ok := pv3Items.Get(tagEncryptedData)
	if !ok {
		t.Fatal("fakeAccessory: PV3 missing encryptedData")
	}
	innerPlain, err := hapcrypto.OpenHandshake(verifyEncryptKey, "PV-Msg03", pv3Encrypted, nil)
	if err != nil {
		t.Fatalf("fakeAccessory: open PV3: %v", err)
	}
	inner := tlv8.Decode(innerPlain)
	clientIdentity, _ := inner.Get(tagIdentifier)
	clientSig, _ := inner.Get(tagSignature)

	verifyMsg := append([]byte{}, clientEphPub...)
	verifyMsg = append(verifyMsg, clientIdentity...)
	verifyMsg = append(verifyMsg, serverPubSlice...)
	if !ed25519.Verify(a.clientLTPK, verifyMsg, clientSig) {
		t.Fatal("fakeAccessory: PV3 signature did not verify")
	}

	a.toDriver <- frame.Frame{Type: frame.PVNext, Payload: tlv8.Encode(tlv8.Items{
		{Tag: tagState, Value: []byte{0x04}},
	})}
}

func TestPairVerifyFullExchange(t *testing.T) {
	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	serverPub, serverPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	creds := device.Credentials{
		Identifier: "controller-1",
		ClientLTSK: clientPriv,
		ClientLTPK: clientPub,
		ServerLTPK: serverPub,
	}

	accessory := &fakeAccessory{
		toDriver:         make(chan frame.Frame, 4),
		fromDriver:       make(chan frame.Frame, 4),
		serverIdentifier: "fake-accessory",
		serverLTSK:       serverPriv,
		clientLTPK:       clientPub,
	}

	driver, err := New(accessory, creds, nil)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		accessory.run(t, false)
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	keys, err := driver.Run(ctx)
	<-done
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if keys.SendKey == keys.RecvKey {
		t.Error("send and recv keys should differ (distinct HKDF info labels)")
	}
	var zero [hapcrypto.KeySize]byte
	if keys.SendKey == zero || keys.RecvKey == zero {
		t.Error("derived keys should not be all-zero")
	}
}

func TestPairVerifyRejectsBadServerSignature(t *testing.T) {
	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	serverPub, serverPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	creds := device.Credentials{
		Identifier: "controller-1",
		ClientLTSK: clientPriv,
		ClientLTPK: clientPub,
		ServerLTPK: serverPub,
	}

	accessory := &fakeAccessory{
		toDriver:         make(chan frame.Frame, 4),
		fromDriver:       make(chan frame.Frame, 4),
		serverIdentifier: "fake-accessory",
		serverLTSK:       serverPriv,
		clientLTPK:       clientPub,
	}

	driver, err := New(accessory, creds, nil)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		accessory.run(t, true)
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = driver.Run(ctx)
	<-done
	if err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestNewRejectsIncompleteCredentials(t *testing.T) {
	_, err := New(nil, device.Credentials{}, nil)
	if err == nil {
		t.Fatal("expected error constructing driver with incomplete credentials")
	}
	var missing *haperrors.MissingTagError
	_ = missing // incomplete-credential error comes from device.Validate, not this package's tags
}
