package walletdb

import (
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // legacy Hash160 scheme, matches orbas1-Synnergy's wallet address derivation
)

// integrityHash is the 32-byte tag appended to recent `key` records: the
// double SHA-256 of public-key-bytes ∥ private-key-bytes (spec GLOSSARY).
// SHA-256 is the primitive the rest of the pack reaches for when no
// domain-specific hash function is named (SPEC_FULL.md: stdlib is
// justified here — there is no third-party library in the retrieved pack
// for this exact bitcoin-style double concatenation hash, and crypto/sha256
// is what every pack repo uses for general-purpose hashing).
func integrityHash(pubKey, privKey []byte) [32]byte {
	first := sha256.Sum256(append(append([]byte{}, pubKey...), privKey...))
	return sha256.Sum256(first[:])
}

// hash160 is SHA-256 followed by RIPEMD-160, the legacy 20-byte script/
// address hash `WriteCScript` derives its sub-key from. Grounded on
// orbas1-Synnergy/synnergy-network/core/wallet.go's pubKeyToAddress, which
// uses the identical golang.org/x/crypto/ripemd160 pairing.
func hash160(data []byte) [20]byte {
	sha := sha256.Sum256(data)
	r := ripemd160.New()
	r.Write(sha[:])
	var out [20]byte
	copy(out[:], r.Sum(nil))
	return out
}

// isPlausiblePubKey performs the structural half of defaultkey validation:
// it must parse as a valid secp256k1 public key encoding. SPEC_FULL.md Open
// Question decision: the value is validated but never exposed.
func isPlausiblePubKey(b []byte) bool {
	switch len(b) {
	case 33, 65:
	default:
		return false
	}
	_, err := secp256k1.ParsePubKey(b)
	return err == nil
}

// secp256k1Deriver implements PubKeyDeriver via elliptic-curve
// multiplication (privKey * G), the fallback spec invariant 3 calls for
// when a `key`/`wkey` record has no integrity hash.
type secp256k1Deriver struct {
	compressed bool
}

// NewSecp256k1Deriver returns the production PubKeyDeriver. compressed
// selects the output public-key serialization.
func NewSecp256k1Deriver(compressed bool) PubKeyDeriver {
	return &secp256k1Deriver{compressed: compressed}
}

func (d *secp256k1Deriver) DerivePubKey(privKey []byte) ([]byte, error) {
	priv := secp256k1.PrivKeyFromBytes(privKey)
	if d.compressed {
		return priv.PubKey().SerializeCompressed(), nil
	}
	return priv.PubKey().SerializeUncompressed(), nil
}
