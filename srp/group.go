package srp

import "math/big"

// group15Hex is the RFC 5054 / RFC 3526 "Group 15" 3072-bit MODP prime,
// the group HomeKit pair-setup's SRP-6a exchange runs over. Reproduced
// from RFC 3526 §4 and checked byte-for-byte against that text; a prior
// transcription of this literal dropped two repeated digits and padded
// the tail to compensate, which parsed fine but was not Group 15.
const group15Hex = "" +
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E08" +
	"8A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B" +
	"302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9" +
	"A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE6" +
	"49286651ECE45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8" +
	"FD24CF5F83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3BE39E772C" +
	"180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
	"3995497CEA956AE515D2261898FA051015728E5A8AAAC42DAD33170D" +
	"04507A33A85521ABDF1CBA64ECFB850458DBEF0A8AEA71575D060C7D" +
	"B3970F85A6E1E4C7ABF5AE8CDB0933D71E8C94E04A25619DCEE3D226" +
	"1AD2EE6BF12FFA06D98A0864D87602733EC86A64521F2B18177B200C" +
	"BBE117577A615D6C770988C0BAD946E208E24FA074E5AB3143DB5BFC" +
	"E0FD108E4B82D120A93AD2CAFFFFFFFFFFFFFFFF"

// N is the Group-15 modulus and G its generator (RFC 5054 §8.2, g = 5).
var (
	N = mustParseHex(group15Hex)
	G = big.NewInt(5)
)

// byteLen is the fixed width (384 bytes for a 3072-bit modulus) every
// value mixed into an SRP hash input is padded to.
const byteLen = 384

func mustParseHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("srp: invalid Group-15 modulus literal")
	}
	return n
}

// padded left zero-pads n's big-endian magnitude to byteLen bytes.
func padded(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= byteLen {
		return b[len(b)-byteLen:]
	}
	out := make([]byte, byteLen)
	copy(out[byteLen-len(b):], b)
	return out
}
