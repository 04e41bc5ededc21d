package models

import (
	"time"
)

// Represents one audited lookup or enquiry
type AuditLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
	Kind           string    `gorm:"index;size:16" json:"kind"`
	RequestID      string    `gorm:"size:64" json:"request_id"`
	ClientIP       string    `gorm:"size:64" json:"client_ip"`
	Subject        string    `gorm:"index;size:255" json:"subject"`
	Method         string    `gorm:"size:8" json:"method"`
	StatusCode     int       `gorm:"index" json:"status_code"`
	UpstreamStatus int       `json:"upstream_status"`
	Detail         string    `json:"detail,omitempty"`
	ResponseTimeMs int       `json:"response_time_ms"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
