// Package notifier превращает события shipment.updated в уведомления
// клиентам. Реальной почты здесь нет: письмо - это структурированная
// строчка в логе, дальше её подхватывает внешний relay.
package notifier

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShipLedger/internal/broker/messages"
	"github.com/BearBump/ShipLedger/internal/models"
)

type Stats struct {
	Processed uint64 `json:"processed"`
	Notified  uint64 `json:"notified"`
	Skipped   uint64 `json:"skipped"`

	LastTracking string    `json:"lastTracking,omitempty"`
	LastAt       time.Time `json:"lastAt,omitzero"`
}

type Notifier struct {
	log *slog.Logger

	processed atomic.Uint64
	notified  atomic.Uint64
	skipped   atomic.Uint64

	lastTracking atomic.Value // string
	lastAt       atomic.Int64 // unix nanos
}

func New(log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{log: log}
}

// Handle обрабатывает одно событие. Ошибку не возвращаем никогда:
// уведомления best-effort, перечитывать оффсет ради них незачем.
func (n *Notifier) Handle(m messages.ShipmentUpdated) error {
	n.processed.Add(1)
	n.lastTracking.Store(m.Tracking)
	n.lastAt.Store(time.Now().UTC().UnixNano())

	if m.CustomerEmail == "" {
		n.skipped.Add(1)
		n.log.Warn("shipment update without customer email", "tracking", m.Tracking)
		return nil
	}

	n.notified.Add(1)
	n.log.Info("notification sent",
		"to", m.CustomerEmail,
		"tracking", m.Tracking,
		"subject", subjectFor(m),
		"status", m.Status,
		"note", m.Note,
		"eta", m.ETA,
	)
	return nil
}

func subjectFor(m messages.ShipmentUpdated) string {
	switch models.Status(m.Status) {
	case models.StatusDelivered:
		return "Your shipment " + m.Tracking + " has been delivered"
	case models.StatusDelayed:
		return "Your shipment " + m.Tracking + " is delayed"
	case models.StatusCancelled:
		return "Your shipment " + m.Tracking + " was cancelled"
	default:
		return "Update on your shipment " + m.Tracking
	}
}

func (n *Notifier) Stats() Stats {
	s := Stats{
		Processed: n.processed.Load(),
		Notified:  n.notified.Load(),
		Skipped:   n.skipped.Load(),
	}
	if v, ok := n.lastTracking.Load().(string); ok {
		s.LastTracking = v
	}
	if ns := n.lastAt.Load(); ns != 0 {
		s.LastAt = time.Unix(0, ns).UTC()
	}
	return s
}
