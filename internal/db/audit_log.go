package db

import "time"

// AuditLog 记录一次管理或写操作，写入后不再修改。
type AuditLog struct {
	ID          string    `gorm:"primaryKey;size:255" json:"id"`
	UserID      string    `gorm:"size:255;not null;index" json:"userId"`
	Action      string    `gorm:"size:32;not null;index" json:"action"`
	TargetTable string    `gorm:"size:32;not null" json:"targetTable"`
	TargetID    string    `gorm:"size:255;not null" json:"targetId"`
	Details     string    `gorm:"type:text" json:"details"`
	Timestamp   time.Time `gorm:"not null;index" json:"timestamp"`
}

// TableName 指定自定义表名。
func (AuditLog) TableName() string {
	return "audit_logs"
}
