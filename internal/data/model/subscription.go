package model

import "time"

// 本文件是周边 CRUD 层的协作方模型，只建模支付核心触达的字段

// User 用户表（仅用于支付成功后的用户定位）
type User struct {
	UserID    string    `gorm:"primaryKey;type:varchar(36)"`
	Email     string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	Name      string    `gorm:"type:varchar(100)"`
	Active    bool      `gorm:"default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (User) TableName() string {
	return "user"
}

// SubscriptionPlan 订阅计划表
type SubscriptionPlan struct {
	PlanID       string    `gorm:"primaryKey;type:varchar(36)"`
	Name         string    `gorm:"type:varchar(64);not null;uniqueIndex"`
	Price        float64   `gorm:"type:decimal(10,2);not null;default:0.00"`
	DurationDays int       `gorm:"default:30"` // 订阅周期（天）
	Active       bool      `gorm:"default:true"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (SubscriptionPlan) TableName() string {
	return "subscription_plan"
}

// UserSubscription 用户订阅表
// 同一用户同一时间至多一条 active 订阅，支付成功处理时做去重保护
type UserSubscription struct {
	SubscriptionID string     `gorm:"primaryKey;type:varchar(36)"`
	UserID         string     `gorm:"type:varchar(36);not null;index"`
	PlanID         string     `gorm:"type:varchar(36);not null"`
	OrderID        string     `gorm:"type:varchar(36)"` // 触发激活的订单
	Status         string     `gorm:"type:enum('active','cancelled','expired');not null;default:'active'"`
	StartedAt      time.Time  `gorm:"not null"`
	ExpiresAt      *time.Time `gorm:"type:timestamp;default:null"`
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (UserSubscription) TableName() string {
	return "user_subscription"
}
