package pgshipment

import (
	"context"
	"time"

	"github.com/BearBump/ShipLedger/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// insertEvent — единственный путь записи в таймлайн. События никогда
// не обновляются и не удаляются.
func insertEvent(ctx context.Context, tx pgx.Tx, tracking string, status models.Status, note string, at time.Time, actor string) error {
	_, err := tx.Exec(ctx, `
INSERT INTO shipment_events (tracking, status, note, at, actor)
VALUES ($1,$2,$3,$4,$5)
`, tracking, string(status), note, at.UTC(), actor)
	return errors.Wrap(err, "insert event")
}

// ListEvents отдаёт таймлайн отправления в порядке вставки (по id).
// Переворот под "новые сверху" — забота презентации, не леджера.
func (s *Storage) ListEvents(ctx context.Context, tracking string) ([]*models.Event, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shipments WHERE tracking = $1)`, tracking).Scan(&exists); err != nil {
		return nil, errors.Wrap(err, "check shipment")
	}
	if !exists {
		return nil, &models.NotFoundError{Tracking: tracking}
	}

	rows, err := s.db.Query(ctx, `
SELECT id, tracking, status, note, at, actor
FROM shipment_events
WHERE tracking = $1
ORDER BY id ASC
`, tracking)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	return scanEvents(rows)
}

// RecentEvents — глобально последние N событий, at DESC, при равных at
// побеждает вставленное позже.
func (s *Storage) RecentEvents(ctx context.Context, limit int) ([]*models.Event, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, tracking, status, note, at, actor
FROM shipment_events
ORDER BY at DESC, id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select recent events")
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]*models.Event, error) {
	var out []*models.Event
	for rows.Next() {
		var e models.Event
		var status string
		if err := rows.Scan(&e.ID, &e.Tracking, &status, &e.Note, &e.At, &e.Actor); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		e.Status = models.Status(status)
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
