package models

import (
	"time"
)

// ReservationStatus represents the lifecycle state of a reservation
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "PENDING"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
	ReservationStatusCompleted ReservationStatus = "COMPLETED"
	ReservationStatusNoShow    ReservationStatus = "NO_SHOW"
)

// IsTerminal returns true if the status accepts no further mutation
func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationStatusCancelled || s == ReservationStatusCompleted || s == ReservationStatusNoShow
}

// Reservation represents a stay synced from the booking platform.
// Reservations are never hard-deleted; cancellation is a status transition.
type Reservation struct {
	BaseModel
	ExternalID      string            `gorm:"type:varchar(100);uniqueIndex;not null" json:"external_id"` // 预订平台的稳定标识
	AccommodationID uint              `gorm:"index;not null" json:"accommodation_id"`
	GuestName       string            `gorm:"type:varchar(100)" json:"guest_name"`
	CheckInAt       time.Time         `gorm:"not null" json:"check_in_at"`
	CheckOutAt      time.Time         `gorm:"not null" json:"check_out_at"`
	Status          ReservationStatus `gorm:"type:varchar(20);default:'PENDING';index" json:"status"`

	// Relations
	Accommodation *Accommodation `gorm:"foreignKey:AccommodationID" json:"accommodation,omitempty"`
	Credentials   []Credential   `gorm:"foreignKey:ReservationID" json:"credentials,omitempty"`
}
