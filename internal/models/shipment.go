package models

import "time"

type Shipment struct {
	Tracking      string
	Status        Status
	Origin        string
	Destination   string
	CustomerEmail string
	ETA           time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeliveredAt   *time.Time
}

// IsLate вычисляется на каждое чтение и никогда не хранится.
// Завершённые отправления не бывают "опаздывающими".
func (s *Shipment) IsLate(now time.Time) bool {
	if s.Status == StatusDelivered || s.Status == StatusCancelled {
		return false
	}
	return now.After(s.ETA)
}

// Event — одна неизменяемая запись таймлайна отправления.
// События не редактируются и не удаляются; текущее состояние отправления
// воспроизводимо свёрткой его событий в порядке вставки.
type Event struct {
	ID       uint64
	Tracking string
	Status   Status
	Note     string
	At       time.Time
	Actor    string
}

type ShipmentCreateInput struct {
	Tracking      string // пусто => сгенерировать
	Origin        string
	Destination   string
	CustomerEmail string
	ETA           time.Time
	Actor         string
	Note          string
}

// ListFilter — параметры выборки для list. Все заданные условия
// соединяются через AND; Query ищет подстроку (без учёта регистра)
// в tracking ИЛИ customerEmail.
type ListFilter struct {
	Query  string
	Status Status
	From   *time.Time // включительно, по createdAt
	To     *time.Time // включительно, по createdAt
	Page   int        // 1-based
	Limit  int
}
