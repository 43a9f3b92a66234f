package models

import (
	"time"
)

// CredentialStatus represents the status of an issued PIN credential
type CredentialStatus string

const (
	CredentialStatusActive  CredentialStatus = "ACTIVE"
	CredentialStatusRevoked CredentialStatus = "REVOKED"
	CredentialStatusExpired CredentialStatus = "EXPIRED"
)

// Credential represents a PIN issued for one reservation on one lock.
// The PIN itself is stored hashed; the plaintext only lives long enough
// to be pushed to the device and handed to delivery.
type Credential struct {
	BaseModel
	ReservationID     uint             `gorm:"index;not null" json:"reservation_id"`
	ActiveKey         *uint            `gorm:"uniqueIndex" json:"-"` // 生效期间等于ReservationID，撤销后置空；唯一索引保证每个预订至多一个生效凭证
	LockID            uint             `gorm:"index;not null" json:"lock_id"`
	PinHash           string           `gorm:"type:varchar(100);not null" json:"-"`
	Status            CredentialStatus `gorm:"type:varchar(20);default:'ACTIVE';index" json:"status"`
	ValidFrom         time.Time        `gorm:"not null" json:"valid_from"`
	ValidTo           time.Time        `gorm:"not null" json:"valid_to"`
	DeviceConfirmedAt *time.Time       `json:"device_confirmed_at,omitempty"` // 设备确认下发成功的时间，未确认为空
	RevokedAt         *time.Time       `json:"revoked_at,omitempty"`
	RevokedBy         string           `gorm:"type:varchar(50)" json:"revoked_by,omitempty"` // checkout / cancellation / unmap / operator

	// Relations
	Reservation *Reservation `gorm:"foreignKey:ReservationID" json:"reservation,omitempty"`
	Lock        *Lock        `gorm:"foreignKey:LockID" json:"lock,omitempty"`
}

// DeviceConfirmed returns true once the gateway has acknowledged the PIN
func (c *Credential) DeviceConfirmed() bool {
	return c.DeviceConfirmedAt != nil
}
