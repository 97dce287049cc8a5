package cryptokeys

import "crypto/sha256"

// TaggedHash implements the BIP-340 tagged hash construction:
// SHA256(SHA256(tag) || SHA256(tag) || msg).
func TaggedHash(tag string, msg []byte) [32]byte {
	tagHash := sha256.Sum256([]byte(tag))
	h := sha256.New()
	h.Write(tagHash[:])
	h.Write(tagHash[:])
	h.Write(msg)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// AnnouncementDigest is the tagged hash signed by the oracle's long-term key
// to produce an announcement signature.
func AnnouncementDigest(serializedOracleEvent []byte) [32]byte {
	return TaggedHash("DLC/oracle/announcement/v0", serializedOracleEvent)
}

// DigitDigest is the per-digit message hash signed during attestation, one
// per nonce index, in nonce-index order.
func DigitDigest(eventID string, index uint32, digitLabel string) [32]byte {
	msg := make([]byte, 0, len(eventID)+4+len(digitLabel))
	msg = append(msg, []byte(eventID)...)
	msg = append(msg, byte(index>>24), byte(index>>16), byte(index>>8), byte(index))
	msg = append(msg, []byte(digitLabel)...)
	return TaggedHash("DLC/oracle/attestation/v0", msg)
}
