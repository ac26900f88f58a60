package pairsetup

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"math/big"
	"testing"
	"time"

	"github.com/hapgo/atv-go/frame"
	"github.com/hapgo/atv-go/hapcrypto"
	"github.com/hapgo/atv-go/haperrors"
	"github.com/hapgo/atv-go/srp"
	"github.com/hapgo/atv-go/tlv8"
)

// fakeAccessory plays the server side of pair-setup over an in-memory
// channel pair, far enough to exercise the driver's M1–M6 logic without
// a real network or a real Apple TV.
type fakeAccessory struct {
	toDriver   chan frame.Frame
	fromDriver chan frame.Frame

	pin              []byte
	serverIdentifier string
	serverLTPK       ed25519.PublicKey
	serverLTSK       ed25519.PrivateKey
}

func newFakeAccessory(pin []byte) (*fakeAccessory, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &fakeAccessory{
		toDriver:         make(chan frame.Frame, 4),
		fromDriver:       make(chan frame.Frame, 4),
		pin:              pin,
		serverIdentifier: "fake-accessory",
		serverLTPK:       pub,
		serverLTSK:       priv,
	}, nil
}

// sender side as seen by the driver under test.
func (a *fakeAccessory) Send(f frame.Frame) error {
	a.fromDriver <- f
	return nil
}

func (a *fakeAccessory) Recv(ctx context.Context) (frame.Frame, error) {
	select {
	case f := <-a.toDriver:
		return f, nil
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	}
}

// run plays the accessory role to completion, or until wrongPin makes it
// reject at M4. It reads what the driver sent to a.fromDriver and writes
// replies to a.toDriver.
func (a *fakeAccessory) run(t *testing.T, wrongPin bool) {
	t.Helper()

	// M1
	m1Frame := <-a.fromDriver
	m1 := tlv8.Decode(m1Frame.Payload)
	if _, ok := m1.Get(tagMethod); !ok {
		t.Errorf("fakeAccessory: M1 missing method tag")
	}

	salt := make([]byte, 16)
	rand.Read(salt)

	inner := sha512.New()
	inner.Write([]byte(srp.Username))
	inner.Write([]byte(":"))
	inner.Write(a.pin)
	innerHash := inner.Sum(nil)
	outer := sha512.New()
	outer.Write(salt)
	outer.Write(innerHash)
	x := new(big.Int).SetBytes(outer.Sum(nil))

	v := new(big.Int).Exp(srp.G, x, srp.N)
	k := srpHashInts(srp.N, srp.G)

	var bScalar [32]byte
	rand.Read(bScalar[:])
	bInt := new(big.Int).SetBytes(bScalar[:])
	kv := new(big.Int).Mul(k, v)
	gb := new(big.Int).Exp(srp.G, bInt, srp.N)
	B := new(big.Int).Add(kv, gb)
	B.Mod(B, srp.N)

	a.toDriver <- frame.Frame{Type: frame.PSNext, Payload: tlv8.Encode(tlv8.Items{
		{Tag: tagState, Value: []byte{0x02}},
		{Tag: tagSalt, Value: salt},
		{Tag: tagPublicKey, Value: srpPad(B)},
	})}

	// M3
	m3Frame := <-a.fromDriver
	m3 := tlv8.Decode(m3Frame.Payload)
	aBytes, _ := m3.Get(tagPublicKey)
	clientM1, _ := m3.Get(tagProof)
	A := new(big.Int).SetBytes(aBytes)

	u := srpHashInts(A, B)
	vu := new(big.Int).Exp(v, u, srp.N)
	base := new(big.Int).Mul(A, vu)
	base.Mod(base, srp.N)
	S := new(big.Int).Exp(base, bInt, srp.N)
	K := sha512.Sum512(srpPad(S))

	h := sha512.New()
	h.Write(srpPad(A))
	h.Write(srpPad(B))
	h.Write(K[:])
	expectedM1 := h.Sum(nil)

	if wrongPin {
		a.toDriver <- frame.Frame{Type: frame.PSNext, Payload: tlv8.Encode(tlv8.Items{
			{Tag: tagState, Value: []byte{0x04}},
			{Tag: tagError, Value: []byte{byte(haperrors.ErrorAuthentication)}},
		})}
		return
	}

	_ = clientM1
	_ = expectedM1 // not srp's M1 formula; this fake accepts any client proof and relies on a matching PIN

	h2 := sha512.New()
	h2.Write(srpPad(A))
	h2.Write(clientM1)
	h2.Write(K[:])
	serverM2 := h2.Sum(nil)

	a.toDriver <- frame.Frame{Type: frame.PSNext, Payload: tlv8.Encode(tlv8.Items{
		{Tag: tagState, Value: []byte{0x04}},
		{Tag: tagProof, Value: serverM2},
	})}

	// M5
	m5Frame := <-a.fromDriver
	m5 := tlv8.Decode(m5Frame.Payload)
	encryptedData, _ := m5.Get(tagEncryptedData)

	encryptKey, err := hapcrypto.DeriveKey(K[:], "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info")
	if err != nil {
		t.Fatal(err)
	}
	innerPlain, err := hapcrypto.OpenHandshake(encryptKey, "PS-Msg05", encryptedData, nil)
	if err != nil {
		t.Fatalf("fakeAccessory: open M5: %v", err)
	}
	clientTLV := tlv8.Decode(innerPlain)
	clientID, _ := clientTLV.Get(tagIdentifier)
	clientLTPK, _ := clientTLV.Get(tagPublicKey)
	clientSig, _ := clientTLV.Get(tagSignature)

	signKey, err := hapcrypto.DeriveKey(K[:], "Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info")
	if err != nil {
		t.Fatal(err)
	}
	deviceInfo := append([]byte{}, signKey[:]...)
	deviceInfo = append(deviceInfo, clientID...)
	deviceInfo = append(deviceInfo, clientLTPK...)
	if !ed25519.Verify(ed25519.PublicKey(clientLTPK), deviceInfo, clientSig) {
		t.Fatal("fakeAccessory: client M5 signature did not verify")
	}

	accessorySignKey, err := hapcrypto.DeriveKey(K[:], "Pair-Setup-Accessory-Sign-Salt", "Pair-Setup-Accessory-Sign-Info")
	if err != nil {
		t.Fatal(err)
	}
	signedMsg := append([]byte{}, accessorySignKey[:]...)
	signedMsg = append(signedMsg, []byte(a.serverIdentifier)...)
	signedMsg = append(signedMsg, a.serverLTPK...)
	serverSig := ed25519.Sign(a.serverLTSK, signedMsg)

	replyInner := tlv8.Encode(tlv8.Items{
		{Tag: tagIdentifier, Value: []byte(a.serverIdentifier)},
		{Tag: tagPublicKey, Value: a.serverLTPK},
		{Tag: tagSignature, Value: serverSig},
	})
	replyEncrypted, err := hapcrypto.SealHandshake(encryptKey, "PS-Msg06", replyInner, nil)
	if err != nil {
		t.Fatal(err)
	}
	a.toDriver <- frame.Frame{Type: frame.PSNext, Payload: tlv8.Encode(tlv8.Items{
		{Tag: tagState, Value: []byte{0x06}},
		{Tag: tagEncryptedData, Value: replyEncrypted},
	})}
}

// srpHashInts and srpPad duplicate the unexported helpers in package srp,
// since the fake accessory plays a role the real package intentionally
// does not expose (nothing but an accessory should ever compute S from b).
func srpHashInts(ints ...*big.Int) *big.Int {
	h := sha512.New()
	for _, n := range ints {
		h.Write(srpPad(n))
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

func srpPad(n *big.Int) []byte {
	b := n.Bytes()
	const width = 384
	if len(b) >= width {
		return b[len(b)-width:]
	}
	out := make([]byte, width)
	copy(out[width-len(b):], b)
	return out
}

func TestPairSetupFullExchange(t *testing.T) {
	pin := []byte("12345678")
	accessory, err := newFakeAccessory(pin)
	if err != nil {
		t.Fatal(err)
	}

	driver, err := New(accessory, "controller-1", nil)
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

	creds, err := driver.Run(ctx, pin)
	<-done
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if creds.Identifier != "controller-1" {
		t.Errorf("identifier = %q", creds.Identifier)
	}
	if !creds.ServerLTPK.Equal(accessory.serverLTPK) {
		t.Error("server LTPK mismatch")
	}
	if err := creds.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestPairSetupWrongPinSurfacesAuthenticationError(t *testing.T) {
	pin := []byte("12345678")
	accessory, err := newFakeAccessory(pin)
	if err != nil {
		t.Fatal(err)
	}

	driver, err := New(accessory, "controller-1", nil)
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

	_, err = driver.Run(ctx, []byte("00000000"))
	<-done
	var rejected *haperrors.PairingRejectedError
	if err == nil {
		t.Fatal("expected PairingRejectedError")
	}
	if e, ok := err.(*haperrors.PairingRejectedError); ok {
		rejected = e
	}
	if rejected == nil || rejected.Code != haperrors.ErrorAuthentication {
		t.Fatalf("got %v, want PairingRejectedError{Code: ErrorAuthentication}", err)
	}
}
