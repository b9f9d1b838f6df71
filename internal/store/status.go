package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"gitea.jw6.us/james/calsched/internal/itip"
)

// StatusRepo keeps message processing statuses in PostgreSQL. A message
// without a row is in status NONE.
type StatusRepo struct {
	pool PgxPool
}

var _ itip.StatusStore = (*StatusRepo)(nil)

func (r *StatusRepo) Get(ctx context.Context, key itip.MessageKey) (itip.MessageStatus, error) {
	defer observeDB(ctx, "db.status_get")()
	var value string
	err := r.pool.QueryRow(ctx, `SELECT status FROM itip_message_status WHERE owner=$1 AND message_id=$2`, key.Owner, key.MessageID).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return itip.StatusNone, nil
	}
	if err != nil {
		return "", fmt.Errorf("get status %s: %w", key, err)
	}
	return itip.ParseMessageStatus(value)
}

// CompareAndSet moves key from expected to next in a single statement and
// reports whether the row matched.
func (r *StatusRepo) CompareAndSet(ctx context.Context, key itip.MessageKey, expected, next itip.MessageStatus) (bool, error) {
	defer observeDB(ctx, "db.status_cas")()
	if next == itip.StatusNone {
		tag, err := r.pool.Exec(ctx, `DELETE FROM itip_message_status WHERE owner=$1 AND message_id=$2 AND status=$3`,
			key.Owner, key.MessageID, expected.String())
		if err != nil {
			return false, fmt.Errorf("clear status %s: %w", key, err)
		}
		return tag.RowsAffected() == 1, nil
	}
	if expected == itip.StatusNone {
		tag, err := r.pool.Exec(ctx, `INSERT INTO itip_message_status (owner, message_id, status)
VALUES ($1, $2, $3) ON CONFLICT (owner, message_id) DO NOTHING`,
			key.Owner, key.MessageID, next.String())
		if err != nil {
			return false, fmt.Errorf("insert status %s: %w", key, err)
		}
		return tag.RowsAffected() == 1, nil
	}
	tag, err := r.pool.Exec(ctx, `UPDATE itip_message_status SET status=$3, updated_at=NOW()
WHERE owner=$1 AND message_id=$2 AND status=$4`,
		key.Owner, key.MessageID, next.String(), expected.String())
	if err != nil {
		return false, fmt.Errorf("update status %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Reset returns key to NONE.
func (r *StatusRepo) Reset(ctx context.Context, key itip.MessageKey) error {
	defer observeDB(ctx, "db.status_reset")()
	if _, err := r.pool.Exec(ctx, `DELETE FROM itip_message_status WHERE owner=$1 AND message_id=$2`, key.Owner, key.MessageID); err != nil {
		return fmt.Errorf("reset status %s: %w", key, err)
	}
	return nil
}
