// Package oracleevent builds digit-decomposition numeric events: it
// allocates nonces, assembles the canonical OracleEvent descriptor, and
// produces the Schnorr-signed announcement.
package oracleevent

import (
	"crypto/rand"
	"fmt"

	"github.com/btcoracle/ernest/pkg/cryptokeys"
	"github.com/btcoracle/ernest/pkg/noncealloc"
	"github.com/btcoracle/ernest/pkg/oracleerr"
	"github.com/btcoracle/ernest/pkg/wireformat"
)

// Params are the inputs to Build.
type Params struct {
	EventID       string
	NbDigits      int32
	Precision     int32
	Unit          string
	MaturityEpoch uint32
}

// Built is the output of Build: the announcement plus the nonce indexes
// needed to later re-derive secrets for attestation.
type Built struct {
	Announcement wireformat.OracleAnnouncement
	NonceIndexes []uint32
}

// Build constructs a digit-decomposition event: allocates nb_digits nonces,
// assembles and serializes the OracleEvent, tagged-hashes it, and
// Schnorr-signs the digest with the long-term key.
func Build(keys *cryptokeys.KeyMaterial, allocator *noncealloc.Allocator, p Params) (*Built, error) {
	if p.NbDigits < 1 || p.NbDigits > 64 {
		return nil, oracleerr.New(oracleerr.InvalidParam, fmt.Sprintf("nb_digits %d out of range [1,64]", p.NbDigits))
	}

	indexes := allocator.Allocate(uint32(p.NbDigits))

	nonces := make([][32]byte, len(indexes))
	for i, idx := range indexes {
		nk, err := keys.NonceChild(idx)
		if err != nil {
			return nil, oracleerr.Wrap(oracleerr.Crypto, "derive nonce", err)
		}
		nonces[i] = nk.Public
	}

	event := wireformat.OracleEvent{
		Nonces:             nonces,
		EventMaturityEpoch: p.MaturityEpoch,
		Descriptor: wireformat.DigitDecomposition{
			Base:      2,
			IsSigned:  false,
			Unit:      p.Unit,
			Precision: p.Precision,
			NbDigits:  p.NbDigits,
		},
		EventID: p.EventID,
	}

	serialized, err := event.Serialize()
	if err != nil {
		return nil, oracleerr.Wrap(oracleerr.Crypto, "serialize oracle event", err)
	}

	digest := cryptokeys.AnnouncementDigest(serialized)

	aux := make([]byte, 32)
	if _, err := rand.Read(aux); err != nil {
		return nil, oracleerr.Wrap(oracleerr.Crypto, "read auxiliary randomness", err)
	}
	sig, err := keys.Sign(digest, aux)
	if err != nil {
		return nil, oracleerr.Wrap(oracleerr.Crypto, "sign announcement digest", err)
	}

	return &Built{
		Announcement: wireformat.OracleAnnouncement{
			AnnouncementSignature: sig,
			OraclePublicKey:       keys.PublicKey(),
			OracleEvent:           event,
		},
		NonceIndexes: indexes,
	}, nil
}
