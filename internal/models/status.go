package models

// Status — жизненный цикл отправления. Закрытый набор значений,
// переходы разрешены только по таблице ниже.
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusInTransit      Status = "IN_TRANSIT"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelayed        Status = "DELAYED"
	StatusException      Status = "EXCEPTION"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
)

// AllStatuses перечисляет статусы в порядке жизненного цикла.
// Используется для dashboard-счётчиков и валидации входа.
var AllStatuses = []Status{
	StatusCreated,
	StatusInTransit,
	StatusOutForDelivery,
	StatusDelayed,
	StatusException,
	StatusDelivered,
	StatusCancelled,
}

// allowedTransitions — единственный источник правды о переходах.
// Терминальные статусы присутствуют с пустым списком, чтобы таблица
// оставалась тотальной: отсутствие ключа — это баг, а не "нет переходов".
var allowedTransitions = map[Status][]Status{
	StatusCreated:        {StatusInTransit, StatusCancelled},
	StatusInTransit:      {StatusOutForDelivery, StatusDelayed, StatusException, StatusCancelled},
	StatusOutForDelivery: {StatusDelivered, StatusDelayed, StatusException},
	StatusDelayed:        {StatusInTransit, StatusOutForDelivery, StatusException, StatusCancelled},
	StatusException:      {StatusInTransit, StatusCancelled},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the seven lifecycle statuses.
func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	to, ok := allowedTransitions[s]
	return ok && len(to) == 0
}

// AllowedTransitions returns a copy of the destinations reachable from s.
func (s Status) AllowedTransitions() []Status {
	to := allowedTransitions[s]
	out := make([]Status, len(to))
	copy(out, to)
	return out
}

// CanTransition — чистая проверка по таблице. Никакой операции
// (включая "mark delayed") не разрешено её обходить.
func CanTransition(from, to Status) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ParseStatus validates a status arriving from the outside (API, DB).
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", &ValidationError{Field: "status", Reason: "unknown status " + s}
	}
	return st, nil
}
