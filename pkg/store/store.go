// Package store implements the oracle's transactional Postgres persistence:
// announcements, nonces, signatures, parlay contracts, and the event-type
// tag lookup the Watcher uses to drive maturity selection.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/btcoracle/ernest/pkg/oracleerr"
	"github.com/btcoracle/ernest/pkg/wireformat"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store wraps a Postgres connection pool and exposes the oracle's
// persistence operations.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and applies embedded migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("store: read migrations: %w", err)
	}
	for _, entry := range entries {
		sqlBytes, err := migrationFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("store: read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.pool.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("store: apply migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Nonce is one allocated (and possibly signed) slot of an event.
type Nonce struct {
	Index     uint32
	Nonce     [32]byte
	Outcome   *string
	Signature *[64]byte
}

// EventData is the full stored shape of one event: its announcement bytes
// plus its ordered nonces.
type EventData struct {
	EventID               string
	AnnouncementSignature [64]byte
	OracleEvent           []byte
	Name                  string
	IsEnum                bool
	CreatedAt             time.Time
	Nonces                []Nonce
}

// AllocateCurrentMaxIndex returns one past the highest nonce index ever
// persisted (0 when none exists), read once at startup to seed the
// NonceAllocator.
func (s *Store) AllocateCurrentMaxIndex(ctx context.Context) (uint32, error) {
	var max int64
	row := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(index), -1) FROM event_nonces`)
	if err := row.Scan(&max); err != nil {
		return 0, oracleerr.Wrap(oracleerr.Storage, "read max nonce index", err)
	}
	if max < 0 {
		return 0, nil
	}
	return uint32(max) + 1, nil
}

// NewEventNonce is an about-to-be-inserted nonce, index and public bytes
// only; outcome/signature start null.
type NewEventNonce struct {
	Index uint32
	Nonce [32]byte
}

// SaveEventAndNonces inserts an Event row plus one EventNonce per nonce
// index, in a single transaction. eventType, if non-empty, also writes the
// event_types tag row.
func (s *Store) SaveEventAndNonces(ctx context.Context, eventID string, announcementSig [64]byte, oracleEvent []byte, name string, nonces []NewEventNonce, eventType string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oracleerr.Wrap(oracleerr.Storage, "begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO events (event_id, announcement_signature, oracle_event, name, is_enum) VALUES ($1,$2,$3,$4,false)`,
		eventID, announcementSig[:], oracleEvent, name); err != nil {
		return oracleerr.Wrap(oracleerr.Storage, "insert event", err)
	}

	for _, n := range nonces {
		if _, err := tx.Exec(ctx,
			`INSERT INTO event_nonces (event_id, index, nonce) VALUES ($1,$2,$3)`,
			eventID, n.Index, n.Nonce[:]); err != nil {
			return oracleerr.Wrap(oracleerr.Storage, "insert event nonce", err)
		}
	}

	if eventType != "" {
		if _, err := tx.Exec(ctx,
			`INSERT INTO event_types (oracle_event_id, event_type) VALUES ($1,$2)`,
			eventID, eventType); err != nil {
			return oracleerr.Wrap(oracleerr.Storage, "insert event type", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return oracleerr.Wrap(oracleerr.Storage, "commit transaction", err)
	}
	return nil
}

// DigitSignature is one digit's outcome label and Schnorr signature, ready
// to be persisted by SaveSignatures.
type DigitSignature struct {
	Outcome   string
	Signature [64]byte
}

// SaveSignatures loads the event's nonces ordered by index, requires the
// signature count to match, and fails the whole transaction if any nonce
// already carries a signature -- signing is once-only.
func (s *Store) SaveSignatures(ctx context.Context, eventID string, sigs []DigitSignature) (*EventData, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, oracleerr.Wrap(oracleerr.Storage, "begin transaction", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT index, nonce, outcome, signature FROM event_nonces WHERE event_id = $1 ORDER BY index FOR UPDATE`,
		eventID)
	if err != nil {
		return nil, oracleerr.Wrap(oracleerr.Storage, "select nonces", err)
	}
	var nonces []Nonce
	for rows.Next() {
		var n Nonce
		var nonceBytes []byte
		var outcome *string
		var sigBytes []byte
		if err := rows.Scan(&n.Index, &nonceBytes, &outcome, &sigBytes); err != nil {
			rows.Close()
			return nil, oracleerr.Wrap(oracleerr.Storage, "scan nonce row", err)
		}
		copy(n.Nonce[:], nonceBytes)
		n.Outcome = outcome
		if sigBytes != nil {
			var sig [64]byte
			copy(sig[:], sigBytes)
			n.Signature = &sig
		}
		nonces = append(nonces, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, oracleerr.Wrap(oracleerr.Storage, "iterate nonce rows", err)
	}

	if len(nonces) == 0 {
		return nil, oracleerr.New(oracleerr.NotFound, fmt.Sprintf("event %s not found", eventID))
	}
	if len(nonces) != len(sigs) {
		return nil, oracleerr.New(oracleerr.Storage, fmt.Sprintf("event %s: %d nonces but %d signatures", eventID, len(nonces), len(sigs)))
	}
	for _, n := range nonces {
		if n.Signature != nil {
			return nil, oracleerr.New(oracleerr.AlreadySigned, fmt.Sprintf("event %s already signed", eventID))
		}
	}

	for i, sig := range sigs {
		idx := nonces[i].Index
		if _, err := tx.Exec(ctx,
			`UPDATE event_nonces SET outcome = $1, signature = $2 WHERE event_id = $3 AND index = $4`,
			sig.Outcome, sig.Signature[:], eventID, idx); err != nil {
			return nil, oracleerr.Wrap(oracleerr.Storage, "update nonce signature", err)
		}
		nonces[i].Outcome = &sig.Outcome
		s := sig.Signature
		nonces[i].Signature = &s
	}

	event, err := s.loadEventRow(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}
	event.Nonces = nonces

	if err := tx.Commit(ctx); err != nil {
		return nil, oracleerr.Wrap(oracleerr.Storage, "commit transaction", err)
	}
	return event, nil
}

func (s *Store) loadEventRow(ctx context.Context, tx pgx.Tx, eventID string) (*EventData, error) {
	var e EventData
	var sig []byte
	row := tx.QueryRow(ctx,
		`SELECT event_id, announcement_signature, oracle_event, name, is_enum, created_at FROM events WHERE event_id = $1`,
		eventID)
	if err := row.Scan(&e.EventID, &sig, &e.OracleEvent, &e.Name, &e.IsEnum, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oracleerr.New(oracleerr.NotFound, fmt.Sprintf("event %s not found", eventID))
		}
		return nil, oracleerr.Wrap(oracleerr.Storage, "select event", err)
	}
	copy(e.AnnouncementSignature[:], sig)
	return &e, nil
}

// GetEvent loads one event and its ordered nonces.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*EventData, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, oracleerr.Wrap(oracleerr.Storage, "begin transaction", err)
	}
	defer tx.Rollback(ctx)

	event, err := s.loadEventRow(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx,
		`SELECT index, nonce, outcome, signature FROM event_nonces WHERE event_id = $1 ORDER BY index`,
		eventID)
	if err != nil {
		return nil, oracleerr.Wrap(oracleerr.Storage, "select nonces", err)
	}
	defer rows.Close()
	for rows.Next() {
		var n Nonce
		var nonceBytes []byte
		var outcome *string
		var sigBytes []byte
		if err := rows.Scan(&n.Index, &nonceBytes, &outcome, &sigBytes); err != nil {
			return nil, oracleerr.Wrap(oracleerr.Storage, "scan nonce row", err)
		}
		copy(n.Nonce[:], nonceBytes)
		n.Outcome = outcome
		if sigBytes != nil {
			var sig [64]byte
			copy(sig[:], sigBytes)
			n.Signature = &sig
		}
		event.Nonces = append(event.Nonces, n)
	}
	if err := rows.Err(); err != nil {
		return nil, oracleerr.Wrap(oracleerr.Storage, "iterate nonce rows", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, oracleerr.Wrap(oracleerr.Storage, "commit transaction", err)
	}
	return event, nil
}

// ListEvents returns every stored event, each with its ordered nonces.
func (s *Store) ListEvents(ctx context.Context) ([]EventData, error) {
	rows, err := s.pool.Query(ctx, `SELECT event_id FROM events ORDER BY created_at ASC`)
	if err != nil {
		return nil, oracleerr.Wrap(oracleerr.Storage, "select events", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, oracleerr.Wrap(oracleerr.Storage, "scan event id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, oracleerr.Wrap(oracleerr.Storage, "iterate event ids", err)
	}

	events := make([]EventData, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetEvent(ctx, id)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, nil
}

// MaturedEvent is a (event_id, serialized OracleEvent) pair returned by
// ListMaturedUnsigned.
type MaturedEvent struct {
	EventID     string
	OracleEvent []byte
}

// ListMaturedUnsigned returns events tagged eventType whose maturity has
// passed and which have zero signed nonces, ordered by created_at ascending.
// Maturity lives inside the serialized oracle_event blob, not a SQL column,
// so the comparison against now happens here, after decoding each candidate.
func (s *Store) ListMaturedUnsigned(ctx context.Context, eventType string, now time.Time) ([]MaturedEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.event_id, e.oracle_event
		FROM events e
		JOIN event_types t ON t.oracle_event_id = e.event_id
		WHERE t.event_type = $1
		  AND NOT EXISTS (
		      SELECT 1 FROM event_nonces n
		      WHERE n.event_id = e.event_id AND n.signature IS NOT NULL
		  )
		ORDER BY e.created_at ASC`, eventType)
	if err != nil {
		return nil, oracleerr.Wrap(oracleerr.Storage, "select matured unsigned events", err)
	}
	defer rows.Close()

	var candidates []MaturedEvent
	for rows.Next() {
		var m MaturedEvent
		if err := rows.Scan(&m.EventID, &m.OracleEvent); err != nil {
			return nil, oracleerr.Wrap(oracleerr.Storage, "scan matured event", err)
		}
		candidates = append(candidates, m)
	}
	if err := rows.Err(); err != nil {
		return nil, oracleerr.Wrap(oracleerr.Storage, "iterate matured events", err)
	}

	nowEpoch := uint32(now.Unix())
	matured := make([]MaturedEvent, 0, len(candidates))
	for _, m := range candidates {
		ev, err := wireformat.ParseOracleEvent(m.OracleEvent)
		if err != nil {
			return nil, oracleerr.Wrap(oracleerr.Storage, "parse stored oracle event", err)
		}
		if ev.EventMaturityEpoch > nowEpoch {
			continue
		}
		matured = append(matured, m)
	}
	return matured, nil
}

// ParlayParameterRow is one stored parameter row of a parlay contract.
type ParlayParameterRow struct {
	DataType         string
	Threshold        float64
	Range            float64
	IsAboveThreshold bool
	Transformation   string
	Weight           float64
}

// ParlayContractRow is the stored shape of a parlay contract.
type ParlayContractRow struct {
	ID                 string
	CombinationMethod  string
	MaxNormalizedValue uint64
	Parameters         []ParlayParameterRow
}

// SaveParlayContract inserts the contract row and its ordered parameter
// rows in one transaction. Callers SHOULD call this before
// SaveEventAndNonces so readers never observe a parlay event without its
// contract row.
func (s *Store) SaveParlayContract(ctx context.Context, c ParlayContractRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oracleerr.Wrap(oracleerr.Storage, "begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO parlay_contracts (id, combination_method, max_normalized_value) VALUES ($1,$2,$3)`,
		c.ID, c.CombinationMethod, int64(c.MaxNormalizedValue)); err != nil {
		return oracleerr.Wrap(oracleerr.Storage, "insert parlay contract", err)
	}

	for i, p := range c.Parameters {
		if _, err := tx.Exec(ctx,
			`INSERT INTO parlay_parameters (contract_id, data_type, threshold, range, is_above_threshold, transformation, weight, ordinal)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			c.ID, p.DataType, p.Threshold, p.Range, p.IsAboveThreshold, p.Transformation, p.Weight, i); err != nil {
			return oracleerr.Wrap(oracleerr.Storage, "insert parlay parameter", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return oracleerr.Wrap(oracleerr.Storage, "commit transaction", err)
	}
	return nil
}

// GetParlayContract loads a contract and its parameters, ordered by
// insertion.
func (s *Store) GetParlayContract(ctx context.Context, id string) (*ParlayContractRow, error) {
	var c ParlayContractRow
	c.ID = id
	var maxVal int64
	row := s.pool.QueryRow(ctx, `SELECT combination_method, max_normalized_value FROM parlay_contracts WHERE id = $1`, id)
	if err := row.Scan(&c.CombinationMethod, &maxVal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oracleerr.New(oracleerr.NotFound, fmt.Sprintf("parlay contract %s not found", id))
		}
		return nil, oracleerr.Wrap(oracleerr.Storage, "select parlay contract", err)
	}
	c.MaxNormalizedValue = uint64(maxVal)

	rows, err := s.pool.Query(ctx,
		`SELECT data_type, threshold, range, is_above_threshold, transformation, weight
		 FROM parlay_parameters WHERE contract_id = $1 ORDER BY ordinal ASC`, id)
	if err != nil {
		return nil, oracleerr.Wrap(oracleerr.Storage, "select parlay parameters", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p ParlayParameterRow
		if err := rows.Scan(&p.DataType, &p.Threshold, &p.Range, &p.IsAboveThreshold, &p.Transformation, &p.Weight); err != nil {
			return nil, oracleerr.Wrap(oracleerr.Storage, "scan parlay parameter", err)
		}
		c.Parameters = append(c.Parameters, p)
	}
	if err := rows.Err(); err != nil {
		return nil, oracleerr.Wrap(oracleerr.Storage, "iterate parlay parameters", err)
	}
	return &c, nil
}

// SaveAttestationOutcome writes the audit row for a completed attestation.
// These tables are advisory and never read back into a cryptographic
// operation.
func (s *Store) SaveAttestationOutcome(ctx context.Context, eventID string, combinedScore float64, attestedValue uint64, dataOutcomes []ParlayDataOutcome) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oracleerr.Wrap(oracleerr.Storage, "begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO numeric_attestation_outcome (event_id, combined_score, attested_value) VALUES ($1,$2,$3)`,
		eventID, combinedScore, int64(attestedValue)); err != nil {
		return oracleerr.Wrap(oracleerr.Storage, "insert attestation outcome", err)
	}

	for _, d := range dataOutcomes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO numeric_attestation_data_outcome (event_id, data_type, normalized_value, original_value) VALUES ($1,$2,$3,$4)`,
			eventID, d.DataType, d.NormalizedValue, d.OriginalValue); err != nil {
			return oracleerr.Wrap(oracleerr.Storage, "insert attestation data outcome", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return oracleerr.Wrap(oracleerr.Storage, "commit transaction", err)
	}
	return nil
}

// ParlayDataOutcome mirrors parlay.DataOutcome without importing pkg/parlay,
// keeping store free of a dependency on the evaluation package.
type ParlayDataOutcome struct {
	DataType        string
	NormalizedValue float64
	OriginalValue   float64
}

// EventType returns the event_types tag for an event_id, or "" if untagged.
func (s *Store) EventType(ctx context.Context, eventID string) (string, error) {
	var eventType string
	row := s.pool.QueryRow(ctx, `SELECT event_type FROM event_types WHERE oracle_event_id = $1`, eventID)
	if err := row.Scan(&eventType); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", oracleerr.Wrap(oracleerr.Storage, "select event type", err)
	}
	return eventType, nil
}
