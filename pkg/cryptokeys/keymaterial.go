// Package cryptokeys wraps the oracle's long-term secp256k1 keypair and the
// BIP32 extended key used solely as the parent for nonce derivation.
package cryptokeys

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// KeyMaterial holds the oracle's long-term keypair and its nonce-derivation
// parent. The public key exposed here matches the one embedded in every
// announcement produced by this process.
type KeyMaterial struct {
	priv  *btcec.PrivateKey
	xpriv *hdkeychain.ExtendedKey
	xonly [32]byte
}

// NewKeyMaterial builds a KeyMaterial from a 32-byte secret.
func NewKeyMaterial(secret []byte) (*KeyMaterial, error) {
	if len(secret) != 32 {
		return nil, fmt.Errorf("cryptokeys: secret must be 32 bytes, got %d", len(secret))
	}
	priv, pub := btcec.PrivKeyFromBytes(secret)

	xpriv, err := hdkeychain.NewMaster(secret, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("cryptokeys: derive master key: %w", err)
	}

	var xonly [32]byte
	copy(xonly[:], schnorr.SerializePubKey(pub))

	return &KeyMaterial{priv: priv, xpriv: xpriv, xonly: xonly}, nil
}

// NewKeyMaterialFromHex parses a hex-encoded 32-byte secret, the format used
// by the ERNEST_KEY environment variable.
func NewKeyMaterialFromHex(hexSecret string) (*KeyMaterial, error) {
	b, err := hex.DecodeString(hexSecret)
	if err != nil {
		return nil, fmt.Errorf("cryptokeys: decode hex secret: %w", err)
	}
	return NewKeyMaterial(b)
}

// GenerateKeyMaterial produces a fresh random keypair, used by the keygen
// CLI command.
func GenerateKeyMaterial() (*KeyMaterial, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("cryptokeys: read random secret: %w", err)
	}
	return NewKeyMaterial(secret)
}

// PublicKey returns the 32-byte x-only long-term public key.
func (k *KeyMaterial) PublicKey() [32]byte {
	return k.xonly
}

// PublicKeyHex returns the x-only public key, hex encoded.
func (k *KeyMaterial) PublicKeyHex() string {
	return hex.EncodeToString(k.xonly[:])
}

// Sign produces a BIP-340 Schnorr signature over a 32-byte digest using the
// long-term secret key. auxRand, if non-nil, must be 32 bytes and is mixed
// into nonce generation per BIP-340.
func (k *KeyMaterial) Sign(digest [32]byte, auxRand []byte) ([64]byte, error) {
	var opts []schnorr.SignOption
	if auxRand != nil {
		opts = append(opts, schnorr.CustomAuxRand(auxRand))
	}
	sig, err := schnorr.Sign(k.priv, digest[:], opts...)
	if err != nil {
		return [64]byte{}, fmt.Errorf("cryptokeys: schnorr sign: %w", err)
	}
	var out [64]byte
	copy(out[:], sig.Serialize())
	return out, nil
}

// NonceChild derives the secret/public nonce keypair for a given global
// nonce index. Derivation is pure and reproducible from (extended key,
// index): the same index always yields the same nonce keypair, and distinct
// indices never collide as long as the allocator issuing them never repeats
// an index.
func (k *KeyMaterial) NonceChild(index uint32) (*NonceKey, error) {
	child, err := k.xpriv.Derive(hdkeychain.HardenedKeyStart + index)
	if err != nil {
		return nil, fmt.Errorf("cryptokeys: derive nonce child %d: %w", index, err)
	}
	ecPriv, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("cryptokeys: child %d to ec key: %w", index, err)
	}
	_, pub := btcec.PrivKeyFromBytes(ecPriv.Serialize())

	var xonly [32]byte
	copy(xonly[:], schnorr.SerializePubKey(pub))

	return &NonceKey{Index: index, priv: ecPriv, Public: xonly}, nil
}

// NonceKey is the secret/public nonce keypair derived for one allocated
// index.
type NonceKey struct {
	Index  uint32
	priv   *btcec.PrivateKey
	Public [32]byte
}

// SignDigit produces a per-digit BIP-340 signature whose R point is the
// nonce's own public key rather than one freshly derived from the message:
// DLC counterparties precompute payout points from the announced nonce, so
// the signature that later reveals a digit must use that exact nonce, not
// merely fold it into schnorr.Sign's aux-randomness input (which perturbs
// nonce generation but never pins R to a caller-chosen point).
func SignDigit(oraclePriv *btcec.PrivateKey, nonce *NonceKey, digest [32]byte) ([64]byte, error) {
	return signWithFixedNonce(oraclePriv, nonce.priv, digest)
}

// signWithFixedNonce implements BIP-340 signing with an externally supplied
// nonce scalar k instead of the standard deterministic-nonce derivation:
//
//	d = negate(priv) if pubkey(priv).y is odd else priv
//	R = k*G; k = negate(k) if R.y is odd else k
//	e = TaggedHash("BIP0340/challenge", R.x || pubkey.x || msg) mod n
//	sig = R.x || (k + e*d) mod n
//
// R.x is independent of which of {k, -k} is used, so the signature's R
// always matches the x-only nonce recorded in the announcement.
func signWithFixedNonce(priv *btcec.PrivateKey, noncePriv *btcec.PrivateKey, msg [32]byte) ([64]byte, error) {
	pub := priv.PubKey()
	d := priv.Key
	if pub.Y().IsOdd() {
		d.Negate()
	}

	k := noncePriv.Key
	var rJac btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&k, &rJac)
	rJac.ToAffine()
	if rJac.Y.IsOdd() {
		k.Negate()
	}

	rBytes := rJac.X.Bytes()
	pBytes := pub.X().Bytes()

	commitment := make([]byte, 0, 96)
	commitment = append(commitment, rBytes[:]...)
	commitment = append(commitment, pBytes[:]...)
	commitment = append(commitment, msg[:]...)
	challenge := TaggedHash("BIP0340/challenge", commitment)

	var e btcec.ModNScalar
	e.SetByteSlice(challenge[:])
	e.Mul(&d)

	s := k
	s.Add(&e)
	sBytes := s.Bytes()

	var sig [64]byte
	copy(sig[:32], rBytes[:])
	copy(sig[32:], sBytes[:])
	return sig, nil
}

// PrivateKey exposes the raw secp256k1 private key, used by the Attester to
// sign per-digit attestations with the long-term key.
func (k *KeyMaterial) PrivateKey() *btcec.PrivateKey {
	return k.priv
}

// SecretHex returns the 32-byte secret, hex encoded, in the format expected
// by the ERNEST_KEY environment variable. Used by the keygen CLI command.
func (k *KeyMaterial) SecretHex() string {
	return hex.EncodeToString(k.priv.Serialize())
}
