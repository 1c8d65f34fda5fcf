package ticketnumber

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotrs-io/gotrs-chat/internal/database"
)

// DBStore keeps one row per counter_uid and increments it with a dialect
// specific upsert.
type DBStore struct {
	qb       *database.QueryBuilder
	systemID string
	clock    func() time.Time
}

func NewDBStore(qb *database.QueryBuilder, systemID string) *DBStore {
	return &DBStore{qb: qb, systemID: systemID, clock: time.Now}
}

// Add implements CounterStore.
func (s *DBStore) Add(ctx context.Context, dateScoped bool, offset int64) (int64, error) {
	if offset < 1 {
		return 0, errors.New("bad offset")
	}
	uid := scopeUID(s.systemID, dateScoped, s.clock())

	if database.IsMySQL(s.qb.DB()) {
		// LAST_INSERT_ID keeps the read on the same connection as the write.
		res, err := s.qb.ExecContext(ctx, `INSERT INTO ticket_counters (counter_uid, counter) VALUES (?, ?)
ON DUPLICATE KEY UPDATE counter = LAST_INSERT_ID(counter + VALUES(counter))`, uid, offset)
		if err != nil {
			return 0, fmt.Errorf("failed to increment ticket counter: %w", err)
		}
		c, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		if c == 0 {
			// first insert for this uid does not set LAST_INSERT_ID
			return offset, nil
		}
		return c, nil
	}

	var c int64
	err := s.qb.GetContext(ctx, &c, `INSERT INTO ticket_counters (counter_uid, counter) VALUES (?, ?)
ON CONFLICT (counter_uid) DO UPDATE SET counter = ticket_counters.counter + excluded.counter
RETURNING counter`, uid, offset)
	if err != nil {
		return 0, fmt.Errorf("failed to increment ticket counter: %w", err)
	}
	return c, nil
}
