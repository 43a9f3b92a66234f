package models

// WebhookEventType represents the kind of reservation change notification
type WebhookEventType string

const (
	WebhookEventReservationUpserted  WebhookEventType = "reservation.upserted"
	WebhookEventReservationCancelled WebhookEventType = "reservation.cancelled"
)

// WebhookEvent records an inbound notification from the booking platform.
// Append-only; the unique external event id is the dedup key for
// at-least-once delivery.
type WebhookEvent struct {
	BaseModel
	EventID       string           `gorm:"type:varchar(100);uniqueIndex;not null" json:"event_id"` // 上游事件ID，幂等去重键
	EventType     WebhookEventType `gorm:"type:varchar(50);not null" json:"event_type"`
	ReservationID string           `gorm:"type:varchar(100);index" json:"reservation_id"` // 上游预订ID
	RawPayload    string           `gorm:"type:text" json:"raw_payload"`
	Processed     bool             `gorm:"default:false" json:"processed"`
}
