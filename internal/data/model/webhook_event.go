package model

import (
	"time"

	"payment-service/internal/constants"
)

// webhook 幂等记录状态常量（引用 constants 包中的常量，保持一致性）
const (
	WebhookStatusProcessing = constants.WebhookStatusProcessing // 处理中
	WebhookStatusCompleted  = constants.WebhookStatusCompleted  // 处理完成
	WebhookStatusFailed     = constants.WebhookStatusFailed     // 处理失败（死信）
)

// WebhookEvent webhook 幂等账本表
// WebhookID 上的唯一索引是并发投递去重的最终仲裁：
// 同一 webhook id 只允许 absent -> processing -> completed/failed 一次状态迁移，
// 冲突插入视为重复投递。failed 记录保留用于死信排查与手工重试，不删除
type WebhookEvent struct {
	WebhookID       string     `gorm:"primaryKey;type:varchar(64)"` // 提供方签发的事件ID
	EventType       string     `gorm:"type:varchar(100);not null;index"`
	Status          string     `gorm:"type:enum('processing','completed','failed');not null;default:'processing'"`
	RetryCount      int        `gorm:"default:0"`
	Payload         string     `gorm:"type:longtext;not null"` // 原始载荷，死信排查用
	Result          string     `gorm:"type:text"`              // 处理结果（JSON）
	ProcessingError string     `gorm:"type:text"`
	SignatureValid  bool       `gorm:"default:false"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (WebhookEvent) TableName() string {
	return "webhook_event"
}
