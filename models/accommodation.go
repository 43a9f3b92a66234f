package models

// AccommodationStatus represents the status of a bookable unit
type AccommodationStatus string

const (
	AccommodationStatusActive   AccommodationStatus = "active"
	AccommodationStatusInactive AccommodationStatus = "inactive"
)

// Accommodation represents a bookable unit synced from the booking platform
type Accommodation struct {
	BaseModel
	ExternalID string              `gorm:"type:varchar(100);uniqueIndex;not null" json:"external_id"` // 预订平台的稳定标识
	Name       string              `gorm:"type:varchar(100);not null" json:"name"`
	Status     AccommodationStatus `gorm:"type:varchar(20);default:'active'" json:"status"`

	// Relations
	LockMapping  *AccommodationLockMapping `gorm:"foreignKey:AccommodationID" json:"lock_mapping,omitempty"`
	Reservations []Reservation             `gorm:"foreignKey:AccommodationID" json:"reservations,omitempty"`
}

// AccommodationLockMapping maps an accommodation to its physical lock (1:1)
type AccommodationLockMapping struct {
	BaseModel
	AccommodationID uint `gorm:"uniqueIndex;not null" json:"accommodation_id"` // 一个房源最多绑定一把锁
	LockID          uint `gorm:"uniqueIndex;not null" json:"lock_id"`          // 一把锁最多绑定一个房源

	// Relations
	Accommodation *Accommodation `gorm:"foreignKey:AccommodationID" json:"accommodation,omitempty"`
	Lock          *Lock          `gorm:"foreignKey:LockID" json:"lock,omitempty"`
}
