package models

import (
	"time"
)

// ReconciliationStatus represents the terminal status of a reconciliation run
type ReconciliationStatus string

const (
	ReconciliationStatusSuccess ReconciliationStatus = "SUCCESS"
	ReconciliationStatusPartial ReconciliationStatus = "PARTIAL"
	ReconciliationStatusFailed  ReconciliationStatus = "FAILED"
)

// ReconciliationLog records one reconciliation run. Append-only.
type ReconciliationLog struct {
	BaseModel
	RunID      string               `gorm:"type:varchar(50);uniqueIndex;not null" json:"run_id"`
	StartedAt  time.Time            `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Fetched    int                  `json:"fetched"`
	Created    int                  `json:"created"`
	Updated    int                  `json:"updated"`
	Deleted    int                  `json:"deleted"`  // 预订从不硬删除，恒为0，保留在契约中
	Orphaned   int                  `json:"orphaned"` // 上游消失、本地被取消的预订数
	Errors     int                  `json:"errors"`
	Status     ReconciliationStatus `gorm:"type:varchar(20)" json:"status"`
}
