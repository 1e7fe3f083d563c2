package model

import (
	"time"

	"payment-service/internal/constants"
)

// 订单状态常量（引用 constants 包中的常量，保持一致性）
const (
	OrderStatusPending   = constants.OrderStatusPending   // 待支付
	OrderStatusPaid      = constants.OrderStatusPaid      // 已支付
	OrderStatusCancelled = constants.OrderStatusCancelled // 已取消
	OrderStatusRefunded  = constants.OrderStatusRefunded  // 已退款
)

// Order 订单表
// 不变量：TotalAmount = Subtotal - DiscountAmount + TaxAmount，
// 订单项或折扣变化时必须重新计算
type Order struct {
	OrderID         string     `gorm:"primaryKey;type:varchar(36)"`
	OrderNumber     string     `gorm:"type:varchar(64);not null;uniqueIndex"`
	UserID          string     `gorm:"type:varchar(36);index"` // 可为空：游客下单
	CustomerEmail   string     `gorm:"type:varchar(255);not null;index"`
	CustomerName    string     `gorm:"type:varchar(100);not null"`
	Subtotal        float64    `gorm:"type:decimal(10,2);not null;default:0.00"`
	DiscountAmount  float64    `gorm:"type:decimal(10,2);not null;default:0.00"`
	TaxAmount       float64    `gorm:"type:decimal(10,2);not null;default:0.00"`
	TotalAmount     float64    `gorm:"type:decimal(10,2);not null;default:0.00"`
	PromotionID     string     `gorm:"type:varchar(36)"` // 应用的促销，可为空
	ReferralCode    string     `gorm:"type:varchar(64);index"`
	Status          string     `gorm:"type:enum('pending','paid','cancelled','refunded');not null;default:'pending'"`
	PaymentStatus   string     `gorm:"type:enum('pending','paid','failed');not null;default:'pending'"`
	PaymentIntentID string     `gorm:"type:varchar(64);uniqueIndex"` // 外部支付意向ID
	Metadata        string     `gorm:"type:json"`                    // 自由扩展（风控备注等）
	Items           []OrderItem `gorm:"foreignKey:OrderID"`
	CreatedAt       time.Time  `gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime"`
	PaidAt          *time.Time `gorm:"type:timestamp;default:null"`
}

// TableName 指定表名
func (Order) TableName() string {
	return "payment_order"
}

// OrderItem 订单明细表（归属于唯一订单，订单支付后不可变更）
// 不变量：TotalPrice = UnitPrice * Quantity
type OrderItem struct {
	OrderItemID string    `gorm:"primaryKey;type:varchar(36)"`
	OrderID     string    `gorm:"type:varchar(36);not null;index"`
	Name        string    `gorm:"type:varchar(255);not null"`
	Description string    `gorm:"type:varchar(500)"`
	UnitPrice   float64   `gorm:"type:decimal(10,2);not null"`
	Quantity    int       `gorm:"not null;default:1"`
	TotalPrice  float64   `gorm:"type:decimal(10,2);not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (OrderItem) TableName() string {
	return "payment_order_item"
}
