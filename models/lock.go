package models

// LockVendor represents the smart lock vendor
type LockVendor string

const (
	LockVendorTuya    LockVendor = "tuya"
	LockVendorNuki    LockVendor = "nuki"
	LockVendorGeneric LockVendor = "generic"
)

// Lock represents a physical smart lock device
type Lock struct {
	BaseModel
	Vendor    LockVendor `gorm:"type:varchar(20);not null" json:"vendor"`
	DeviceID  string     `gorm:"type:varchar(100);uniqueIndex;not null" json:"device_id"` // 厂商侧设备标识
	Alias     string     `gorm:"type:varchar(100)" json:"alias"`
	PinLength int        `gorm:"default:0" json:"pin_length"` // 厂商约束的PIN位数，0表示使用全局默认

	// Relations
	Mapping     *AccommodationLockMapping `gorm:"foreignKey:LockID" json:"mapping,omitempty"`
	Credentials []Credential              `gorm:"foreignKey:LockID" json:"credentials,omitempty"`
}
