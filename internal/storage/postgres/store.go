// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/lotto_layer/internal/domain/randomness"
	"github.com/R3E-Network/lotto_layer/internal/domain/round"
	"github.com/R3E-Network/lotto_layer/internal/domain/settlement"
	"github.com/R3E-Network/lotto_layer/internal/storage"
)

// Store implements the storage interfaces on a PostgreSQL database.
type Store struct {
	db *sql.DB
}

var _ storage.RoundStore = (*Store)(nil)
var _ storage.RandomnessStore = (*Store)(nil)
var _ storage.SettlementStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS lotto_rounds (
	id               BIGSERIAL PRIMARY KEY,
	deadline         TIMESTAMPTZ NOT NULL,
	participants     JSONB NOT NULL DEFAULT '[]',
	contributions    JSONB NOT NULL DEFAULT '{}',
	total_deposited  BIGINT NOT NULL DEFAULT 0,
	pool_balance     BIGINT NOT NULL DEFAULT 0,
	closed           BOOLEAN NOT NULL DEFAULT FALSE,
	request_id       TEXT NOT NULL DEFAULT '',
	draw_value       TEXT,
	draw_proof       TEXT NOT NULL DEFAULT '',
	winner           TEXT NOT NULL DEFAULT '',
	scan_cursor      INTEGER NOT NULL DEFAULT 0,
	scan_accumulator BIGINT NOT NULL DEFAULT 0,
	paid_out         BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	closed_at        TIMESTAMPTZ,
	drawn_at         TIMESTAMPTZ,
	paid_at          TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS lotto_requests (
	id           TEXT PRIMARY KEY,
	round_id     BIGINT NOT NULL,
	seed         TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	raw_value    TEXT NOT NULL DEFAULT '0',
	proof        TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	consumed     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL,
	fulfilled_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS lotto_settlements (
	id            TEXT PRIMARY KEY,
	round_id      BIGINT NOT NULL,
	type          TEXT NOT NULL,
	amount        BIGINT NOT NULL,
	from_identity TEXT NOT NULL DEFAULT '',
	to_identity   TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lotto_requests_status ON lotto_requests (status);
CREATE INDEX IF NOT EXISTS idx_lotto_settlements_round ON lotto_settlements (round_id);
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// RoundStore implementation ---------------------------------------------------

const roundColumns = `id, deadline, participants, contributions, total_deposited,
	pool_balance, closed, request_id, draw_value, draw_proof, winner,
	scan_cursor, scan_accumulator, paid_out, created_at, updated_at,
	closed_at, drawn_at, paid_at`

func (s *Store) CreateRound(ctx context.Context, r round.Round) (round.Round, error) {
	participants, contributions, err := marshalLedger(r)
	if err != nil {
		return round.Round{}, err
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO lotto_rounds (deadline, participants, contributions,
			total_deposited, pool_balance, closed, request_id, winner,
			scan_cursor, scan_accumulator, paid_out, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, r.Deadline, participants, contributions, r.TotalDeposited, r.PoolBalance,
		r.Closed, r.RequestID, r.Winner, r.ScanCursor, r.ScanAccumulator,
		r.PaidOut, r.CreatedAt, r.UpdatedAt).Scan(&r.ID)
	if err != nil {
		return round.Round{}, err
	}
	if r.Contributions == nil {
		r.Contributions = make(map[string]int64)
	}
	return r, nil
}

func (s *Store) GetRound(ctx context.Context, id int64) (round.Round, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM lotto_rounds WHERE id = $1`, id)
	r, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return round.Round{}, fmt.Errorf("round %d: %w", id, storage.ErrNotFound)
	}
	return r, err
}

func (s *Store) UpdateRound(ctx context.Context, r round.Round, entries ...settlement.Entry) (round.Round, error) {
	participants, contributions, err := marshalLedger(r)
	if err != nil {
		return round.Round{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return round.Round{}, err
	}
	defer tx.Rollback()

	r.UpdatedAt = time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE lotto_rounds
		SET deadline = $2, participants = $3, contributions = $4,
			total_deposited = $5, pool_balance = $6, closed = $7,
			request_id = $8, draw_value = $9, draw_proof = $10, winner = $11,
			scan_cursor = $12, scan_accumulator = $13, paid_out = $14,
			updated_at = $15, closed_at = $16, drawn_at = $17, paid_at = $18
		WHERE id = $1
	`, r.ID, r.Deadline, participants, contributions, r.TotalDeposited,
		r.PoolBalance, r.Closed, r.RequestID, drawValue(r.Draw), drawProof(r.Draw),
		r.Winner, r.ScanCursor, r.ScanAccumulator, r.PaidOut, r.UpdatedAt,
		nullTime(r.ClosedAt), nullTime(r.DrawnAt), nullTime(r.PaidAt))
	if err != nil {
		return round.Round{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return round.Round{}, fmt.Errorf("round %d: %w", r.ID, storage.ErrNotFound)
	}

	if err := insertEntries(ctx, tx, entries); err != nil {
		return round.Round{}, err
	}
	if err := tx.Commit(); err != nil {
		return round.Round{}, err
	}
	return r, nil
}

func (s *Store) DeleteRound(ctx context.Context, id int64, entries ...settlement.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM lotto_rounds WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("round %d: %w", id, storage.ErrNotFound)
	}

	if err := insertEntries(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListRounds(ctx context.Context, limit int) ([]round.Round, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roundColumns+` FROM lotto_rounds ORDER BY id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRounds(rows)
}

func (s *Store) ListDueRounds(ctx context.Context, now time.Time) ([]round.Round, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roundColumns+` FROM lotto_rounds
		WHERE closed = FALSE AND deadline < $1
		ORDER BY id ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRounds(rows)
}

// RandomnessStore implementation ----------------------------------------------

func (s *Store) CreateRequest(ctx context.Context, req randomness.Request) (randomness.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lotto_requests (id, round_id, seed, status, raw_value,
			proof, error, consumed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, req.ID, req.RoundID, req.Seed, string(req.Status),
		strconv.FormatUint(req.RawValue, 10), req.Proof, req.Error,
		req.Consumed, req.CreatedAt)
	if err != nil {
		return randomness.Request{}, err
	}
	return req, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (randomness.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, round_id, seed, status, raw_value, proof, error, consumed,
			created_at, fulfilled_at
		FROM lotto_requests WHERE id = $1
	`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return randomness.Request{}, fmt.Errorf("request %s: %w", id, storage.ErrNotFound)
	}
	return req, err
}

func (s *Store) UpdateRequest(ctx context.Context, req randomness.Request) (randomness.Request, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE lotto_requests
		SET status = $2, raw_value = $3, proof = $4, error = $5, consumed = $6,
			fulfilled_at = $7
		WHERE id = $1
	`, req.ID, string(req.Status), strconv.FormatUint(req.RawValue, 10),
		req.Proof, req.Error, req.Consumed, nullTime(req.FulfilledAt))
	if err != nil {
		return randomness.Request{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return randomness.Request{}, fmt.Errorf("request %s: %w", req.ID, storage.ErrNotFound)
	}
	return req, nil
}

func (s *Store) ListPendingRequests(ctx context.Context) ([]randomness.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, round_id, seed, status, raw_value, proof, error, consumed,
			created_at, fulfilled_at
		FROM lotto_requests WHERE status = $1 ORDER BY created_at ASC
	`, string(randomness.StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []randomness.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// SettlementStore implementation ----------------------------------------------

func (s *Store) ListEntries(ctx context.Context, roundID int64) ([]settlement.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, round_id, type, amount, from_identity, to_identity, created_at
		FROM lotto_settlements WHERE round_id = $1 ORDER BY created_at ASC
	`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []settlement.Entry
	for rows.Next() {
		var e settlement.Entry
		var entryType string
		if err := rows.Scan(&e.ID, &e.RoundID, &entryType, &e.Amount, &e.From, &e.To, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = settlement.EntryType(entryType)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) SumEntries(ctx context.Context, entryType settlement.EntryType) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(amount) FROM lotto_settlements WHERE type = $1
	`, string(entryType)).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// Helpers ----------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (round.Round, error) {
	var (
		r                           round.Round
		participants, contributions []byte
		drawVal                     sql.NullString
		proof                       string
		closedAt, drawnAt, paidAt   sql.NullTime
	)
	err := row.Scan(&r.ID, &r.Deadline, &participants, &contributions,
		&r.TotalDeposited, &r.PoolBalance, &r.Closed, &r.RequestID, &drawVal,
		&proof, &r.Winner, &r.ScanCursor, &r.ScanAccumulator, &r.PaidOut,
		&r.CreatedAt, &r.UpdatedAt, &closedAt, &drawnAt, &paidAt)
	if err != nil {
		return round.Round{}, err
	}

	if err := json.Unmarshal(participants, &r.Participants); err != nil {
		return round.Round{}, fmt.Errorf("decode participants: %w", err)
	}
	if err := json.Unmarshal(contributions, &r.Contributions); err != nil {
		return round.Round{}, fmt.Errorf("decode contributions: %w", err)
	}
	if r.Contributions == nil {
		r.Contributions = make(map[string]int64)
	}

	if drawVal.Valid {
		raw, err := strconv.ParseUint(drawVal.String, 10, 64)
		if err != nil {
			return round.Round{}, fmt.Errorf("decode draw value: %w", err)
		}
		r.Draw = &round.Draw{RawValue: raw, Proof: proof, ReceivedAt: drawnAt.Time}
	}
	r.ClosedAt = closedAt.Time
	r.DrawnAt = drawnAt.Time
	r.PaidAt = paidAt.Time
	return r, nil
}

func collectRounds(rows *sql.Rows) ([]round.Round, error) {
	var out []round.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRequest(row rowScanner) (randomness.Request, error) {
	var (
		req         randomness.Request
		status, raw string
		fulfilledAt sql.NullTime
	)
	err := row.Scan(&req.ID, &req.RoundID, &req.Seed, &status, &raw,
		&req.Proof, &req.Error, &req.Consumed, &req.CreatedAt, &fulfilledAt)
	if err != nil {
		return randomness.Request{}, err
	}
	req.Status = randomness.Status(status)
	req.RawValue, err = strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return randomness.Request{}, fmt.Errorf("decode raw value: %w", err)
	}
	req.FulfilledAt = fulfilledAt.Time
	return req, nil
}

func insertEntries(ctx context.Context, tx *sql.Tx, entries []settlement.Entry) error {
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lotto_settlements (id, round_id, type, amount,
				from_identity, to_identity, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, e.ID, e.RoundID, string(e.Type), e.Amount, e.From, e.To, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert settlement entry: %w", err)
		}
	}
	return nil
}

func marshalLedger(r round.Round) ([]byte, []byte, error) {
	participants := r.Participants
	if participants == nil {
		participants = []string{}
	}
	contributions := r.Contributions
	if contributions == nil {
		contributions = map[string]int64{}
	}
	p, err := json.Marshal(participants)
	if err != nil {
		return nil, nil, err
	}
	c, err := json.Marshal(contributions)
	if err != nil {
		return nil, nil, err
	}
	return p, c, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func drawValue(d *round.Draw) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: strconv.FormatUint(d.RawValue, 10), Valid: true}
}

func drawProof(d *round.Draw) string {
	if d == nil {
		return ""
	}
	return d.Proof
}
