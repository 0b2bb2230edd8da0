package quota

import (
	"context"
	"database/sql"
	"time"

	"dialgate/pkg/utils"
)

// PostgresCounters stores admission counts in a quota_counters table:
//
//   quota_counters (account_id, period_key, count, updated_at)
//   PRIMARY KEY (account_id, period_key)
//
// Both period rows are incremented inside one transaction so the per-account
// counters never diverge.
type PostgresCounters struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresCounters(db *sql.DB) *PostgresCounters {
	return &PostgresCounters{db: db, clock: time.Now}
}

func (p *PostgresCounters) Usage(ctx context.Context, accountID, dayKey, monthKey string) (Usage, error) {
	const q = `
SELECT period_key, count
FROM quota_counters
WHERE account_id = $1 AND period_key IN ($2, $3)
`
	rows, err := p.db.QueryContext(ctx, q, accountID, dayKey, monthKey)
	if err != nil {
		return Usage{}, err
	}
	defer rows.Close()

	var u Usage
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return Usage{}, err
		}
		switch key {
		case dayKey:
			u.Day = n
		case monthKey:
			u.Month = n
		}
	}
	return u, rows.Err()
}

func (p *PostgresCounters) Add(ctx context.Context, accountID, dayKey, monthKey string, n int) error {
	if n <= 0 {
		return ErrInvalidArgument
	}
	now := p.clock().UTC()

	return utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO quota_counters (account_id, period_key, count, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (account_id, period_key)
DO UPDATE SET count = quota_counters.count + EXCLUDED.count,
              updated_at = EXCLUDED.updated_at
`
		for _, key := range []string{dayKey, monthKey} {
			if _, err := tx.ExecContext(ctx, q, accountID, key, n, now); err != nil {
				return err
			}
		}
		return nil
	})
}
