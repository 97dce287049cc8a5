// Package attester computes and persists per-digit Schnorr attestation
// signatures for a matured event.
package attester

import (
	"context"
	"fmt"

	"github.com/btcoracle/ernest/pkg/cryptokeys"
	"github.com/btcoracle/ernest/pkg/oracleerr"
	"github.com/btcoracle/ernest/pkg/parlay"
	"github.com/btcoracle/ernest/pkg/store"
	"github.com/btcoracle/ernest/pkg/wireformat"
)

// Attester signs outcomes for events it loads from Store, re-deriving the
// nonce secrets from KeyMaterial at the stored indexes.
type Attester struct {
	keys  *cryptokeys.KeyMaterial
	store *store.Store
}

// New builds an Attester.
func New(keys *cryptokeys.KeyMaterial, st *store.Store) *Attester {
	return &Attester{keys: keys, store: st}
}

// Attestation is the public result of a successful Attest call.
type Attestation struct {
	EventID         string
	OraclePublicKey [32]byte
	Outcomes        []string
	Signatures      [][64]byte
}

// Attest loads the event, rejects it if missing, enum-tagged, or already
// signed, computes the base-2 digit decomposition of outcome, signs each
// digit with the re-derived nonce, and atomically persists the result.
func (a *Attester) Attest(ctx context.Context, eventID string, outcome int64) (*Attestation, error) {
	ev, err := a.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.IsEnum {
		return nil, oracleerr.New(oracleerr.UnsupportedDescriptor, fmt.Sprintf("event %s is an enum descriptor", eventID))
	}
	for _, n := range ev.Nonces {
		if n.Signature != nil {
			return nil, oracleerr.New(oracleerr.AlreadySigned, fmt.Sprintf("event %s already signed", eventID))
		}
	}

	oracleEvent, err := wireformat.ParseOracleEvent(ev.OracleEvent)
	if err != nil {
		return nil, oracleerr.Wrap(oracleerr.Storage, "parse stored oracle event", err)
	}
	nbDigits := int(oracleEvent.Descriptor.NbDigits)

	if outcome < 0 || outcome >= int64(1)<<uint(nbDigits) {
		return nil, oracleerr.New(oracleerr.InvalidParam, fmt.Sprintf("outcome %d out of range for %d digits", outcome, nbDigits))
	}
	if len(ev.Nonces) != nbDigits {
		return nil, oracleerr.New(oracleerr.Storage, fmt.Sprintf("event %s has %d nonces but descriptor wants %d", eventID, len(ev.Nonces), nbDigits))
	}

	labels := parlay.DigitLabels(uint64(outcome), nbDigits)

	sigs := make([]store.DigitSignature, nbDigits)
	outcomes := make([]string, nbDigits)
	signatures := make([][64]byte, nbDigits)
	for i, n := range ev.Nonces {
		nonceKey, err := a.keys.NonceChild(n.Index)
		if err != nil {
			return nil, oracleerr.Wrap(oracleerr.Crypto, "re-derive nonce", err)
		}
		digest := cryptokeys.DigitDigest(eventID, n.Index, labels[i])
		sig, err := cryptokeys.SignDigit(a.keys.PrivateKey(), nonceKey, digest)
		if err != nil {
			return nil, oracleerr.Wrap(oracleerr.Crypto, "sign digit", err)
		}
		sigs[i] = store.DigitSignature{Outcome: labels[i], Signature: sig}
		outcomes[i] = labels[i]
		signatures[i] = sig
	}

	if _, err := a.store.SaveSignatures(ctx, eventID, sigs); err != nil {
		return nil, err
	}

	return &Attestation{
		EventID:         eventID,
		OraclePublicKey: a.keys.PublicKey(),
		Outcomes:        outcomes,
		Signatures:      signatures,
	}, nil
}
