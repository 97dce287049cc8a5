package wireformat

import "fmt"

// DigitDecomposition is the event descriptor for numeric events: a
// fixed-width base-2 decomposition of a bounded nonneg integer, signed one
// digit at a time.
type DigitDecomposition struct {
	Base      uint16 // always 2 in this system
	IsSigned  bool   // always false in this system
	Unit      string
	Precision int32
	NbDigits  int32
}

// OracleEvent is the canonical pre-signature event descriptor: the oracle's
// public nonces, maturity, and digit-decomposition descriptor.
type OracleEvent struct {
	Nonces             [][32]byte
	EventMaturityEpoch uint32
	Descriptor         DigitDecomposition
	EventID            string
}

// Serialize writes the OracleEvent in its documented byte layout:
//
//	nonce_count:u16 BE
//	nonces: 32 bytes each
//	event_maturity_epoch:u32 BE
//	event_descriptor: base:u16 BE, is_signed:bool, unit:varstring, precision:u32 BE, nb_digits:u32 BE
//	event_id_len:u16 BE, event_id:UTF-8
func (e *OracleEvent) Serialize() ([]byte, error) {
	if len(e.Nonces) > 0xffff {
		return nil, fmt.Errorf("wireformat: too many nonces: %d", len(e.Nonces))
	}
	w := NewWriter()
	w.WriteU16(uint16(len(e.Nonces)))
	for _, n := range e.Nonces {
		w.WriteRaw(n[:])
	}
	w.WriteU32(e.EventMaturityEpoch)
	w.WriteU16(e.Descriptor.Base)
	w.WriteBool(e.Descriptor.IsSigned)
	w.WriteVarString(e.Descriptor.Unit)
	w.WriteU32(uint32(e.Descriptor.Precision))
	w.WriteU32(uint32(e.Descriptor.NbDigits))
	w.WriteVarString(e.EventID)
	if w.Err() != nil {
		return nil, fmt.Errorf("wireformat: serialize oracle event: %w", w.Err())
	}
	return w.Bytes(), nil
}

// ParseOracleEvent reverses Serialize.
func ParseOracleEvent(buf []byte) (*OracleEvent, error) {
	r := NewReader(buf)
	count := r.ReadU16()
	nonces := make([][32]byte, count)
	for i := range nonces {
		copy(nonces[i][:], r.ReadRaw(32))
	}
	e := &OracleEvent{
		Nonces:             nonces,
		EventMaturityEpoch: r.ReadU32(),
	}
	e.Descriptor.Base = r.ReadU16()
	e.Descriptor.IsSigned = r.ReadBool()
	e.Descriptor.Unit = r.ReadVarString()
	e.Descriptor.Precision = int32(r.ReadU32())
	e.Descriptor.NbDigits = int32(r.ReadU32())
	e.EventID = r.ReadVarString()
	if r.Err() != nil {
		return nil, fmt.Errorf("wireformat: parse oracle event: %w", r.Err())
	}
	return e, nil
}

// OracleAnnouncement is the oracle's signed promise of an event descriptor,
// published before maturity: `signature || pubkey || serialize(OracleEvent)`.
type OracleAnnouncement struct {
	AnnouncementSignature [64]byte
	OraclePublicKey       [32]byte
	OracleEvent           OracleEvent
}

// Serialize writes the bit-exact announcement layout.
func (a *OracleAnnouncement) Serialize() ([]byte, error) {
	eventBytes, err := a.OracleEvent.Serialize()
	if err != nil {
		return nil, err
	}
	w := NewWriter()
	w.WriteRaw(a.AnnouncementSignature[:])
	w.WriteRaw(a.OraclePublicKey[:])
	w.WriteRaw(eventBytes)
	if w.Err() != nil {
		return nil, fmt.Errorf("wireformat: serialize announcement: %w", w.Err())
	}
	return w.Bytes(), nil
}

// ParseOracleAnnouncement reverses Serialize.
func ParseOracleAnnouncement(buf []byte) (*OracleAnnouncement, error) {
	r := NewReader(buf)
	var a OracleAnnouncement
	copy(a.AnnouncementSignature[:], r.ReadRaw(64))
	copy(a.OraclePublicKey[:], r.ReadRaw(32))
	if r.Err() != nil {
		return nil, fmt.Errorf("wireformat: parse announcement header: %w", r.Err())
	}
	event, err := ParseOracleEvent(r.Remaining())
	if err != nil {
		return nil, err
	}
	a.OracleEvent = *event
	return &a, nil
}

// OracleAttestation is the oracle's per-digit revelation of an event's
// outcome, published at or after maturity.
type OracleAttestation struct {
	EventID         string
	OraclePublicKey [32]byte
	Signatures      [][64]byte
	Outcomes        []string
}

// Serialize writes:
//
//	event_id_len:u16 BE, event_id:UTF-8
//	pubkey: 32 bytes
//	nb_sigs:u16 BE
//	signatures: 64 bytes each
//	(outcome_len:u16 BE, outcome:UTF-8) per signature
func (a *OracleAttestation) Serialize() ([]byte, error) {
	if len(a.Signatures) != len(a.Outcomes) {
		return nil, fmt.Errorf("wireformat: attestation signature/outcome count mismatch: %d vs %d", len(a.Signatures), len(a.Outcomes))
	}
	if len(a.Signatures) > 0xffff {
		return nil, fmt.Errorf("wireformat: too many signatures: %d", len(a.Signatures))
	}
	w := NewWriter()
	w.WriteVarString(a.EventID)
	w.WriteRaw(a.OraclePublicKey[:])
	w.WriteU16(uint16(len(a.Signatures)))
	for _, s := range a.Signatures {
		w.WriteRaw(s[:])
	}
	for _, o := range a.Outcomes {
		w.WriteVarString(o)
	}
	if w.Err() != nil {
		return nil, fmt.Errorf("wireformat: serialize attestation: %w", w.Err())
	}
	return w.Bytes(), nil
}

// ParseOracleAttestation reverses Serialize.
func ParseOracleAttestation(buf []byte) (*OracleAttestation, error) {
	r := NewReader(buf)
	var a OracleAttestation
	a.EventID = r.ReadVarString()
	copy(a.OraclePublicKey[:], r.ReadRaw(32))
	n := r.ReadU16()
	a.Signatures = make([][64]byte, n)
	for i := range a.Signatures {
		copy(a.Signatures[i][:], r.ReadRaw(64))
	}
	a.Outcomes = make([]string, n)
	for i := range a.Outcomes {
		a.Outcomes[i] = r.ReadVarString()
	}
	if r.Err() != nil {
		return nil, fmt.Errorf("wireformat: parse attestation: %w", r.Err())
	}
	return &a, nil
}
