package credstore

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hapgo/atv-go/device"
	"github.com/hapgo/atv-go/haperrors"
)

func TestPutGetRoundTrip(t *testing.T) {
	store := &FileStore{Dir: t.TempDir()}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	serverPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	creds := device.Credentials{
		Identifier: "AA:BB:CC:DD:EE:FF",
		ClientLTSK: priv,
		ClientLTPK: pub,
		ServerLTPK: serverPub,
	}

	if err := store.Put(creds); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(creds.Identifier)
	if err != nil {
		t.Fatal(err)
	}
	if got.Identifier != creds.Identifier ||
		!ed25519.PrivateKey(got.ClientLTSK).Equal(priv) ||
		!ed25519.PublicKey(got.ClientLTPK).Equal(pub) ||
		!ed25519.PublicKey(got.ServerLTPK).Equal(serverPub) {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestGetMissingReturnsErrNotPaired(t *testing.T) {
	store := &FileStore{Dir: t.TempDir()}
	_, err := store.Get("nope")
	if !errors.Is(err, haperrors.ErrNotPaired) {
		t.Fatalf("got %v, want ErrNotPaired", err)
	}
}

func TestPutRejectsIncompleteCredentials(t *testing.T) {
	store := &FileStore{Dir: t.TempDir()}
	err := store.Put(device.Credentials{Identifier: "incomplete"})
	if err == nil {
		t.Fatal("expected error storing incomplete credentials")
	}
}

func TestDeleteThenGetNotPaired(t *testing.T) {
	dir := t.TempDir()
	store := &FileStore{Dir: dir}
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	serverPub, _, _ := ed25519.GenerateKey(rand.Reader)
	creds := device.Credentials{Identifier: "id", ClientLTSK: priv, ClientLTPK: pub, ServerLTPK: serverPub}
	if err := store.Put(creds); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("id"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get("id"); !errors.Is(err, haperrors.ErrNotPaired) {
		t.Fatalf("got %v, want ErrNotPaired", err)
	}

	// No temp file left behind.
	if _, err := os.Stat(filepath.Join(dir, "id.json.tmp")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("unexpected leftover temp file")
	}
}
