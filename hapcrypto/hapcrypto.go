// Package hapcrypto implements the key derivation and AEAD framing shared
// by pair-setup, pair-verify, and the post-handshake Companion session:
// HKDF-SHA-512 with HAP's fixed ASCII salt/info labels, and
// ChaCha20-Poly1305 under two different nonce schemes, one for the
// handshake messages and one for post-handshake data frames.
package hapcrypto

import (
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the derived key length for every HKDF output this package
// produces: a ChaCha20-Poly1305 key.
const KeySize = chacha20poly1305.KeySize

// DeriveKey runs HKDF-SHA-512 over ikm with the given salt and info
// labels and returns a single 32-byte key. HAP names the salt/info pair
// for each derivation step explicitly (e.g. "Pair-Setup-Encrypt-Salt" /
// "Pair-Setup-Encrypt-Info"); callers pass those literal strings.
func DeriveKey(ikm []byte, salt, info string) ([KeySize]byte, error) {
	var key [KeySize]byte
	r := hkdf.New(sha512.New, ikm, []byte(salt), []byte(info))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("hapcrypto: derive key: %w", err)
	}
	return key, nil
}

// handshakeNonce builds the 12-byte nonce used to seal/open handshake
// sub-TLVs: an 8-byte ASCII label (e.g. "PS-Msg05"), left-padded with 4
// zero bytes.
func handshakeNonce(label string) [chacha20poly1305.NonceSize]byte {
	var nonce [chacha20poly1305.NonceSize]byte
	copy(nonce[4:], []byte(label))
	return nonce
}

// SealHandshake encrypts plaintext under key, authenticating aad, using
// the fixed 8-byte label nonce scheme HAP uses for its handshake
// messages (M5/M6, PV2/PV3).
func SealHandshake(key [KeySize]byte, label string, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("hapcrypto: new AEAD: %w", err)
	}
	nonce := handshakeNonce(label)
	return aead.Seal(nil, nonce[:], plaintext, aad), nil
}

// OpenHandshake decrypts and authenticates ciphertext under key using the
// same fixed-label nonce scheme as SealHandshake.
func OpenHandshake(key [KeySize]byte, label string, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("hapcrypto: new AEAD: %w", err)
	}
	nonce := handshakeNonce(label)
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("hapcrypto: open handshake message: %w", err)
	}
	return plaintext, nil
}

// frameNonce builds the 12-byte nonce for a post-handshake data frame: the
// frame counter as a 96-bit little-endian integer, i.e. the counter's 8
// little-endian bytes followed by 4 zero bytes.
func frameNonce(counter uint64) [chacha20poly1305.NonceSize]byte {
	var nonce [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[:8], counter)
	return nonce
}

// SealFrame encrypts a post-handshake Companion frame's payload under
// key, with the frame counter mixed into the nonce so counters may never
// repeat for the lifetime of the key.
func SealFrame(key [KeySize]byte, counter uint64, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("hapcrypto: new AEAD: %w", err)
	}
	nonce := frameNonce(counter)
	return aead.Seal(nil, nonce[:], plaintext, aad), nil
}

// OpenFrame decrypts and authenticates a post-handshake Companion frame's
// payload under key using the frame counter nonce scheme.
func OpenFrame(key [KeySize]byte, counter uint64, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("hapcrypto: new AEAD: %w", err)
	}
	nonce := frameNonce(counter)
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("hapcrypto: open frame %d: %w", counter, err)
	}
	return plaintext, nil
}
