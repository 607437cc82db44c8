package pgshipment

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS shipments (
  tracking TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  origin TEXT NOT NULL,
  destination TEXT NOT NULL,
  customer_email TEXT NOT NULL,
  eta TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  delivered_at TIMESTAMPTZ NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_updated_at ON shipments(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_status ON shipments(status)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_created_at ON shipments(created_at)`,
		`
CREATE TABLE IF NOT EXISTS shipment_events (
  id BIGSERIAL PRIMARY KEY,
  tracking TEXT NOT NULL REFERENCES shipments(tracking),
  status TEXT NOT NULL,
  note TEXT NOT NULL DEFAULT '',
  at TIMESTAMPTZ NOT NULL,
  actor TEXT NOT NULL
)`,
		// id BIGSERIAL фиксирует порядок вставки; по нему читается таймлайн.
		`CREATE INDEX IF NOT EXISTS idx_shipment_events_tracking_id ON shipment_events(tracking, id)`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_events_at_id ON shipment_events(at DESC, id DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
