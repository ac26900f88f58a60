// Package device holds the identity types shared across discovery,
// pairing, and session packages: the descriptor advertised on the
// network, and the long-term credentials exchanged during pair-setup.
package device

import (
	"crypto/ed25519"
	"errors"
)

// Descriptor identifies an Apple TV found during discovery, before any
// pairing has taken place.
type Descriptor struct {
	Identifier string // stable accessory identifier, from its TXT record
	Name       string
	Address    string
	Port       uint16
	Model      string
	Properties map[string]string // raw TXT record, for anything callers need beyond the parsed fields
}

// Credentials are the long-term keys established by a successful
// pair-setup: the controller's own Ed25519 keypair, and the accessory's
// long-term public key, keyed by the accessory's identifier.
type Credentials struct {
	Identifier string
	ClientLTSK ed25519.PrivateKey // controller's long-term secret key
	ClientLTPK ed25519.PublicKey  // controller's long-term public key
	ServerLTPK ed25519.PublicKey  // accessory's long-term public key, learned during pair-setup
}

// ErrIncompleteCredentials is returned by Validate when any required
// field is missing or the wrong length for its key type.
var ErrIncompleteCredentials = errors.New("device: credentials missing or malformed fields")

// Validate reports whether c has all three key fields present and sized
// correctly for Ed25519; credentials failing this check cannot be used
// for pair-verify.
func (c Credentials) Validate() error {
	if c.Identifier == "" {
		return ErrIncompleteCredentials
	}
	if len(c.ClientLTSK) != ed25519.PrivateKeySize {
		return ErrIncompleteCredentials
	}
	if len(c.ClientLTPK) != ed25519.PublicKeySize {
		return ErrIncompleteCredentials
	}
	if len(c.ServerLTPK) != ed25519.PublicKeySize {
		return ErrIncompleteCredentials
	}
	return nil
}
