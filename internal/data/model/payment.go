package model

import (
	"time"

	"payment-service/internal/constants"
)

// 支付流水状态常量（引用 constants 包中的常量，保持一致性）
const (
	TxnStatusPending   = constants.TxnStatusPending   // 处理中
	TxnStatusSucceeded = constants.TxnStatusSucceeded // 成功
	TxnStatusFailed    = constants.TxnStatusFailed    // 失败
)

// Payment 支付流水表
// 一个订单可以有多条流水（失败后重试、负金额退款记录）；
// ProcessedAt 一旦写入，该行不再变更，退款以新行表示
type Payment struct {
	PaymentID         string     `gorm:"primaryKey;type:varchar(36)"`
	OrderID           string     `gorm:"type:varchar(36);not null;index"`
	Amount            float64    `gorm:"type:decimal(10,2);not null"` // 退款为负数
	Currency          string     `gorm:"type:varchar(8);not null;default:'usd'"`
	Provider          string     `gorm:"type:varchar(32);not null"`
	ProviderPaymentID string     `gorm:"type:varchar(64);uniqueIndex"` // 外部流水号，每次尝试唯一
	Status            string     `gorm:"type:enum('pending','succeeded','failed');not null;default:'pending'"`
	FailureReason     string     `gorm:"type:varchar(500)"`
	Metadata          string     `gorm:"type:json"`
	ProcessedAt       *time.Time `gorm:"type:timestamp;default:null"`
	CreatedAt         time.Time  `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (Payment) TableName() string {
	return "payment_txn"
}
