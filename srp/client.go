// Package srp implements the SRP-6a client half of HomeKit pair-setup's
// mutual authentication step, running over the RFC 5054 Group-15
// (3072-bit) modulus with SHA-512 as the hash primitive.
package srp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"math/big"
)

// Username is fixed for HomeKit pair-setup; the protocol has no concept
// of distinct accounts.
const Username = "Pair-Setup"

// ErrServerPublicValueZero is returned when the server's public value B
// reduces to 0 mod N, which would let an attacker force a predictable
// shared secret.
var ErrServerPublicValueZero = errors.New("srp: server public value B is 0 mod N")

// ErrProofMismatch is returned when the server's proof M2 does not match
// what the client computed, meaning the server does not know the shared
// password verifier.
var ErrProofMismatch = errors.New("srp: server proof M2 does not match")

// Client holds a pair-setup session's ephemeral SRP state between
// generating A and verifying the server's proof.
type Client struct {
	a [32]byte // ephemeral private scalar
	A *big.Int // ephemeral public value

	pin []byte

	k *big.Int // multiplier parameter, derived once from N and g
}

// NewClient samples a fresh ephemeral private scalar and computes the
// client's public value A. pin is the accessory's setup code, e.g.
// "123-45-678" with the dashes stripped before being passed in.
func NewClient(pin []byte) (*Client, error) {
	var a [32]byte
	if _, err := rand.Read(a[:]); err != nil {
		return nil, fmt.Errorf("srp: generate ephemeral scalar: %w", err)
	}

	aInt := new(big.Int).SetBytes(a[:])
	A := new(big.Int).Exp(G, aInt, N)

	k := hashInts(N, G)

	return &Client{
		a:   a,
		A:   A,
		pin: append([]byte(nil), pin...),
		k:   k,
	}, nil
}

// Close zeroes the ephemeral private scalar and setup code. Call once
// the exchange has finished or been abandoned.
func (c *Client) Close() {
	clear(c.a[:])
	clear(c.pin)
}

// PublicValue returns A serialised as a fixed 384-byte big-endian
// integer, the form carried in the pair-setup M3 message's kTLVType_PublicKey.
func (c *Client) PublicValue() []byte {
	return padded(c.A)
}

// Challenge processes the server's M2 reply (salt and public value B) and
// returns the client proof M1 to send back in M3, along with the shared
// session key K. It fails closed if B is 0 mod N.
func (c *Client) Challenge(salt, bBytes []byte) (m1, sessionKey []byte, err error) {
	B := new(big.Int).SetBytes(bBytes)
	if new(big.Int).Mod(B, N).Sign() == 0 {
		return nil, nil, ErrServerPublicValueZero
	}

	aInt := new(big.Int).SetBytes(c.a[:])

	u := hashInts(c.A, B)
	if u.Sign() == 0 {
		return nil, nil, errors.New("srp: scrambling parameter u is 0")
	}

	x := c.privateKey(salt)

	// S = (B - k*g^x) ^ (a + u*x) mod N
	gx := new(big.Int).Exp(G, x, N)
	kgx := new(big.Int).Mul(c.k, gx)
	base := new(big.Int).Sub(B, kgx)
	base.Mod(base, N)
	if base.Sign() < 0 {
		base.Add(base, N)
	}
	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, aInt)

	S := new(big.Int).Exp(base, exp, N)

	K := sha512.Sum512(padded(S))

	M1 := computeM1(salt, c.A, B, K[:])

	return M1, K[:], nil
}

// computeM1 builds the client proof
// M1 = SHA-512( (SHA-512(N) xor SHA-512(g)) || SHA-512(username) || salt || A || B || K ),
// with N, g, A, and B each in their fixed 384-byte big-endian form.
func computeM1(salt []byte, A, B *big.Int, K []byte) []byte {
	hN := sha512.Sum512(padded(N))
	hG := sha512.Sum512(padded(G))
	var xored [sha512.Size]byte
	for i := range xored {
		xored[i] = hN[i] ^ hG[i]
	}
	hUser := sha512.Sum512([]byte(Username))

	h := sha512.New()
	h.Write(xored[:])
	h.Write(hUser[:])
	h.Write(salt)
	h.Write(padded(A))
	h.Write(padded(B))
	h.Write(K)
	return h.Sum(nil)
}

// VerifyServerProof checks the server's M4 proof M2 against the client's
// own computation of A, M1, and K, in constant time. publicValue is the
// client's A as returned by PublicValue.
func VerifyServerProof(publicValue, m1, sessionKey, serverM2 []byte) error {
	h := sha512.New()
	h.Write(publicValue)
	h.Write(m1)
	h.Write(sessionKey)
	expected := h.Sum(nil)

	if !hmac.Equal(expected, serverM2) {
		return ErrProofMismatch
	}
	return nil
}

// privateKey derives x = SHA-512(salt || SHA-512(username || ":" || pin)).
func (c *Client) privateKey(salt []byte) *big.Int {
	inner := sha512.New()
	inner.Write([]byte(Username))
	inner.Write([]byte(":"))
	inner.Write(c.pin)
	innerHash := inner.Sum(nil)

	outer := sha512.New()
	outer.Write(salt)
	outer.Write(innerHash)
	return new(big.Int).SetBytes(outer.Sum(nil))
}

// hashInts computes SHA-512 over the concatenation of each big.Int's
// 384-byte padded big-endian form, used both for the multiplier
// parameter k = H(N || g) and the scrambling parameter u = H(A || B).
func hashInts(ints ...*big.Int) *big.Int {
	h := sha512.New()
	for _, n := range ints {
		h.Write(padded(n))
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}
