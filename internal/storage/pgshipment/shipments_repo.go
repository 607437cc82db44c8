package pgshipment

import (
	"context"
	"strconv"
	"time"

	"github.com/BearBump/ShipLedger/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const shipmentColumns = `tracking, status, origin, destination, customer_email, eta, created_at, updated_at, delivered_at`

func scanShipment(row pgx.Row) (*models.Shipment, error) {
	var sh models.Shipment
	var status string
	if err := row.Scan(
		&sh.Tracking, &status, &sh.Origin, &sh.Destination, &sh.CustomerEmail,
		&sh.ETA, &sh.CreatedAt, &sh.UpdatedAt, &sh.DeliveredAt,
	); err != nil {
		return nil, err
	}
	sh.Status = models.Status(status)
	return &sh, nil
}

// CreateShipment атомарно создаёт отправление и его первое событие.
// Занятый трек-номер — это models.ErrTrackingTaken, сервис сам решает,
// перегенерировать идентификатор или вернуть ошибку вызывающему.
func (s *Storage) CreateShipment(ctx context.Context, in models.ShipmentCreateInput) (*models.Shipment, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
INSERT INTO shipments (tracking, status, origin, destination, customer_email, eta, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
ON CONFLICT (tracking) DO NOTHING
`, in.Tracking, string(models.StatusCreated), in.Origin, in.Destination, in.CustomerEmail, in.ETA.UTC(), now)
	if err != nil {
		return nil, errors.Wrap(err, "insert shipment")
	}
	if tag.RowsAffected() == 0 {
		return nil, models.ErrTrackingTaken
	}

	if err := insertEvent(ctx, tx, in.Tracking, models.StatusCreated, in.Note, now, in.Actor); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return &models.Shipment{
		Tracking:      in.Tracking,
		Status:        models.StatusCreated,
		Origin:        in.Origin,
		Destination:   in.Destination,
		CustomerEmail: in.CustomerEmail,
		ETA:           in.ETA.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (s *Storage) GetShipment(ctx context.Context, tracking string) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE tracking = $1`, tracking))
	if err == pgx.ErrNoRows {
		return nil, &models.NotFoundError{Tracking: tracking}
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return sh, nil
}

// lockShipment берёт строку под FOR UPDATE: мутации одного отправления
// сериализуются на уровне БД, состояние и событие пишутся одной транзакцией.
func lockShipment(ctx context.Context, tx pgx.Tx, tracking string) (*models.Shipment, error) {
	sh, err := scanShipment(tx.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE tracking = $1 FOR UPDATE`, tracking))
	if err == pgx.ErrNoRows {
		return nil, &models.NotFoundError{Tracking: tracking}
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock shipment")
	}
	return sh, nil
}

func (s *Storage) ChangeStatus(ctx context.Context, tracking string, to models.Status, note, actor string) (*models.Shipment, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sh, err := lockShipment(ctx, tx, tracking)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(sh.Status, to) {
		return nil, &models.InvalidTransitionError{From: sh.Status, To: to}
	}

	sh.Status = to
	sh.UpdatedAt = now
	if to == models.StatusDelivered {
		sh.DeliveredAt = &now
	}

	_, err = tx.Exec(ctx, `
UPDATE shipments SET status = $2, updated_at = $3, delivered_at = COALESCE(delivered_at, $4)
WHERE tracking = $1
`, tracking, string(to), now, sh.DeliveredAt)
	if err != nil {
		return nil, errors.Wrap(err, "update status")
	}

	if err := insertEvent(ctx, tx, tracking, to, note, now, actor); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return sh, nil
}

// UpdateETA намеренно не смотрит в таблицу переходов: ревизия ETA
// разрешена в любом статусе, включая терминальные.
func (s *Storage) UpdateETA(ctx context.Context, tracking string, eta time.Time, note, actor string) (*models.Shipment, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sh, err := lockShipment(ctx, tx, tracking)
	if err != nil {
		return nil, err
	}

	sh.ETA = eta.UTC()
	sh.UpdatedAt = now

	_, err = tx.Exec(ctx, `UPDATE shipments SET eta = $2, updated_at = $3 WHERE tracking = $1`, tracking, eta.UTC(), now)
	if err != nil {
		return nil, errors.Wrap(err, "update eta")
	}

	if err := insertEvent(ctx, tx, tracking, sh.Status, note, now, actor); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return sh, nil
}

func (s *Storage) AddNote(ctx context.Context, tracking string, note, actor string) (*models.Shipment, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sh, err := lockShipment(ctx, tx, tracking)
	if err != nil {
		return nil, err
	}

	sh.UpdatedAt = now

	_, err = tx.Exec(ctx, `UPDATE shipments SET updated_at = $2 WHERE tracking = $1`, tracking, now)
	if err != nil {
		return nil, errors.Wrap(err, "touch shipment")
	}

	if err := insertEvent(ctx, tx, tracking, sh.Status, note, now, actor); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return sh, nil
}

// ListShipments возвращает страницу и общее количество до среза.
func (s *Storage) ListShipments(ctx context.Context, f models.ListFilter) ([]*models.Shipment, int, error) {
	where := ` WHERE TRUE`
	args := []any{}

	if f.Query != "" {
		args = append(args, "%"+f.Query+"%")
		n := len(args)
		where += ` AND (tracking ILIKE $` + strconv.Itoa(n) + ` OR customer_email ILIKE $` + strconv.Itoa(n) + `)`
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where += ` AND status = $` + strconv.Itoa(len(args))
	}
	if f.From != nil {
		args = append(args, f.From.UTC())
		where += ` AND created_at >= $` + strconv.Itoa(len(args))
	}
	if f.To != nil {
		args = append(args, f.To.UTC())
		where += ` AND created_at <= $` + strconv.Itoa(len(args))
	}

	args = append(args, f.Limit)
	limitArg := len(args)
	args = append(args, (f.Page-1)*f.Limit)
	offsetArg := len(args)

	// COUNT(*) OVER() даёт total в том же снимке, что и страница.
	rows, err := s.db.Query(ctx, `
SELECT `+shipmentColumns+`, COUNT(*) OVER() AS total
FROM shipments`+where+`
ORDER BY updated_at DESC, tracking
LIMIT $`+strconv.Itoa(limitArg)+` OFFSET $`+strconv.Itoa(offsetArg), args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "select shipments")
	}
	defer rows.Close()

	var out []*models.Shipment
	total := 0
	for rows.Next() {
		var sh models.Shipment
		var status string
		if err := rows.Scan(
			&sh.Tracking, &status, &sh.Origin, &sh.Destination, &sh.CustomerEmail,
			&sh.ETA, &sh.CreatedAt, &sh.UpdatedAt, &sh.DeliveredAt, &total,
		); err != nil {
			return nil, 0, errors.Wrap(err, "scan shipment")
		}
		sh.Status = models.Status(status)
		out = append(out, &sh)
	}
	if rows.Err() != nil {
		return nil, 0, errors.Wrap(rows.Err(), "rows")
	}

	// Страница за пределами выборки: total всё равно нужен вызывающему.
	if len(out) == 0 {
		if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM shipments`+where, args[:len(args)-2]...).Scan(&total); err != nil {
			return nil, 0, errors.Wrap(err, "count shipments")
		}
	}
	return out, total, nil
}

func (s *Storage) DashboardCounts(ctx context.Context) (map[models.Status]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM shipments GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "select counts")
	}
	defer rows.Close()

	out := make(map[models.Status]int, len(models.AllStatuses))
	for _, st := range models.AllStatuses {
		out[st] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "scan count")
		}
		out[models.Status(status)] = n
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
