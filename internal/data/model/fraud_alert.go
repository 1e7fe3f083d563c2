package model

import "time"

// FraudAlert 风控告警表
// 拦截或标记人工审核时写入，与订单创建是否成功无关
type FraudAlert struct {
	FraudAlertID  string    `gorm:"primaryKey;type:varchar(36)"`
	AttemptID     string    `gorm:"type:varchar(64);not null;index"` // 订单号或尝试ID
	CustomerEmail string    `gorm:"type:varchar(255);index"`
	ClientIP      string    `gorm:"type:varchar(45)"`
	RiskLevel     string    `gorm:"type:enum('low','medium','high','critical');not null"`
	RiskScore     int       `gorm:"not null;default:0"`
	RiskFactors   string    `gorm:"type:json"` // 命中的风险因子列表
	ShouldBlock   bool      `gorm:"default:false"`
	ManualReview  bool      `gorm:"default:false"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index"`
}

// TableName 指定表名
func (FraudAlert) TableName() string {
	return "fraud_alert"
}
