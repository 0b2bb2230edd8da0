package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"dialgate/pkg/utils"
)

// PostgresRepo implements Repository on database/sql (pgx stdlib driver).
//
// Assumed schema:
// - calls (id PK, account_id, api_key_id, from_number, to_number, status,
//   provider_call_id, metadata JSONB, scheduled_for, duration, created_at, updated_at)
//   with indexes on provider_call_id (reconciliation key), account_id, and
//   (metadata->>'batch_id').
// - recordings (id PK, call_id UNIQUE, ...)
// - call_events (id PK, call_id, type, payload, created_at) INSERT-only.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const callColumns = `id, account_id, api_key_id, from_number, to_number, status,
       provider_call_id, metadata, scheduled_for, duration, created_at, updated_at`

func scanCall(row interface{ Scan(...any) error }) (Call, error) {
	var c Call
	var meta []byte
	var providerID sql.NullString
	var scheduled sql.NullTime
	if err := row.Scan(
		&c.ID,
		&c.AccountID,
		&c.APIKeyID,
		&c.FromNumber,
		&c.ToNumber,
		&c.Status,
		&providerID,
		&meta,
		&scheduled,
		&c.DurationSeconds,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return Call{}, err
	}
	if providerID.Valid {
		c.ProviderCallID = providerID.String
	}
	if scheduled.Valid {
		t := scheduled.Time
		c.ScheduledFor = &t
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return Call{}, err
		}
	}
	return c, nil
}

func (r *PostgresRepo) Create(ctx context.Context, c Call) error {
	meta, err := json.Marshal(orEmpty(c.Metadata))
	if err != nil {
		return err
	}
	const q = `
INSERT INTO calls (
  id, account_id, api_key_id, from_number, to_number, status,
  provider_call_id, metadata, scheduled_for, duration, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9,$10,$11,$12
)
`
	_, err = r.db.ExecContext(ctx, q,
		c.ID,
		c.AccountID,
		c.APIKeyID,
		c.FromNumber,
		c.ToNumber,
		c.Status,
		c.ProviderCallID,
		meta,
		c.ScheduledFor,
		c.DurationSeconds,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE provider_call_id = $1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, providerCallID))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

// ConditionalUpdate locks the call row, checks the expected-status guard and
// applies the patch in one transaction. The row lock serializes concurrent
// webhook deliveries and the dispatch task racing on the same call.
func (r *PostgresRepo) ConditionalUpdate(ctx context.Context, id string, expected []CallStatus, p Patch) (Call, error) {
	var out Call

	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1 FOR UPDATE`
		c, err := scanCall(tx.QueryRowContext(ctx, q, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if len(expected) > 0 {
			match := false
			for _, s := range expected {
				if c.Status == s {
					match = true
					break
				}
			}
			if !match {
				return ErrStaleStatus
			}
		}

		if p.ProviderCallID != nil && *p.ProviderCallID != "" {
			if c.ProviderCallID != "" && c.ProviderCallID != *p.ProviderCallID {
				return ErrProviderIDConflict
			}
			c.ProviderCallID = *p.ProviderCallID
		}
		if p.Status != nil {
			c.Status = *p.Status
		}
		if p.DurationSeconds != nil {
			c.DurationSeconds = *p.DurationSeconds
		}
		if len(p.SetMetadata) > 0 {
			if c.Metadata == nil {
				c.Metadata = make(map[string]string, len(p.SetMetadata))
			}
			for k, v := range p.SetMetadata {
				c.Metadata[k] = v
			}
		}
		c.UpdatedAt = r.clock().UTC()

		meta, err := json.Marshal(orEmpty(c.Metadata))
		if err != nil {
			return err
		}
		const u = `
UPDATE calls
SET status = $2, provider_call_id = NULLIF($3,''), metadata = $4, duration = $5, updated_at = $6
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, u, c.ID, c.Status, c.ProviderCallID, meta, c.DurationSeconds, c.UpdatedAt); err != nil {
			return err
		}
		out = c
		return nil
	})

	return out, err
}

func (r *PostgresRepo) ListByAccount(ctx context.Context, accountID string, from, to time.Time) ([]Call, error) {
	q := `SELECT ` + callColumns + `
FROM calls
WHERE account_id = $1 AND created_at >= $2 AND created_at <= $3
ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q, accountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]Call, error) {
	q := `SELECT ` + callColumns + `
FROM calls
WHERE status = $1 AND scheduled_for <= $2
ORDER BY scheduled_for
LIMIT $3`
	rows, err := r.db.QueryContext(ctx, q, CallStatusScheduled, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CountStatusesByBatch(ctx context.Context, accountID, batchID string) (map[CallStatus]int, error) {
	const q = `
SELECT status, COUNT(*)
FROM calls
WHERE account_id = $1 AND metadata->>'batch_id' = $2
GROUP BY status
`
	rows, err := r.db.QueryContext(ctx, q, accountID, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[CallStatus]int)
	for rows.Next() {
		var s CallStatus
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CreateRecording(ctx context.Context, rec Recording) error {
	const q = `
INSERT INTO recordings (
  id, call_id, provider_recording_id, source_url, storage_key, url,
  duration_seconds, size_bytes, status,
  transcription_id, transcription_text, transcription_status,
  created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
ON CONFLICT (call_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		rec.ID,
		rec.CallID,
		rec.ProviderRecordingID,
		rec.SourceURL,
		rec.StorageKey,
		rec.URL,
		rec.DurationSeconds,
		rec.SizeBytes,
		rec.Status,
		rec.TranscriptionID,
		rec.TranscriptionText,
		rec.TranscriptionStatus,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return err
	}
	// The UNIQUE(call_id) constraint enforces the one-recording-per-call
	// invariant under concurrent webhook delivery.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicateRecording
	}
	return nil
}

func (r *PostgresRepo) RecordingByCall(ctx context.Context, callID string) (Recording, bool, error) {
	const q = `
SELECT id, call_id, provider_recording_id, source_url, storage_key, url,
       duration_seconds, size_bytes, status,
       transcription_id, transcription_text, transcription_status,
       created_at, updated_at
FROM recordings
WHERE call_id = $1
`
	var rec Recording
	err := r.db.QueryRowContext(ctx, q, callID).Scan(
		&rec.ID,
		&rec.CallID,
		&rec.ProviderRecordingID,
		&rec.SourceURL,
		&rec.StorageKey,
		&rec.URL,
		&rec.DurationSeconds,
		&rec.SizeBytes,
		&rec.Status,
		&rec.TranscriptionID,
		&rec.TranscriptionText,
		&rec.TranscriptionStatus,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, false, nil
	}
	if err != nil {
		return Recording{}, false, err
	}
	return rec, true, nil
}

func (r *PostgresRepo) UpdateRecording(ctx context.Context, rec Recording) error {
	const q = `
UPDATE recordings
SET source_url = $2, storage_key = $3, url = $4,
    duration_seconds = $5, size_bytes = $6, status = $7,
    transcription_id = $8, transcription_text = $9, transcription_status = $10,
    updated_at = $11
WHERE call_id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		rec.CallID,
		rec.SourceURL,
		rec.StorageKey,
		rec.URL,
		rec.DurationSeconds,
		rec.SizeBytes,
		rec.Status,
		rec.TranscriptionID,
		rec.TranscriptionText,
		rec.TranscriptionStatus,
		r.clock().UTC(),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) AppendEvent(ctx context.Context, e CallEvent) error {
	const q = `
INSERT INTO call_events (id, call_id, type, payload, created_at)
VALUES ($1,$2,$3,$4,$5)
`
	_, err := r.db.ExecContext(ctx, q, e.ID, e.CallID, e.Type, e.Payload, e.CreatedAt)
	return err
}

func (r *PostgresRepo) ListEvents(ctx context.Context, callID string) ([]CallEvent, error) {
	const q = `
SELECT id, call_id, type, payload, created_at
FROM call_events
WHERE call_id = $1
ORDER BY created_at, id
`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallEvent
	for rows.Next() {
		var e CallEvent
		if err := rows.Scan(&e.ID, &e.CallID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
