package messages

import "time"

// ShipmentUpdated публикуется после каждой успешной мутации отправления.
// Key сообщения — tracking, чтобы события одного трека шли в одну партицию
// и сохраняли порядок.
type ShipmentUpdated struct {
	Tracking      string     `json:"tracking"`
	Status        string     `json:"status"`
	Note          string     `json:"note,omitempty"`
	Actor         string     `json:"actor"`
	CustomerEmail string     `json:"customer_email"`
	ETA           time.Time  `json:"eta"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
}
