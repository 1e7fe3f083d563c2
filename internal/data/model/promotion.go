package model

import "time"

// Promotion 促销码表
// 可用条件：Active 且在有效期内 且未达使用上限 且（如限制计划）适用于所购计划
type Promotion struct {
	PromotionID  string     `gorm:"primaryKey;type:varchar(36)"`
	Code         string     `gorm:"type:varchar(64);not null;uniqueIndex"`
	Description  string     `gorm:"type:varchar(255)"`
	DiscountType string     `gorm:"type:enum('percentage','fixed');not null;default:'percentage'"`
	Percentage   float64    `gorm:"type:decimal(5,2);default:0.00"`  // percentage 类型使用
	FixedAmount  float64    `gorm:"type:decimal(10,2);default:0.00"` // fixed 类型使用
	StartDate    *time.Time `gorm:"type:timestamp;default:null"`
	EndDate      *time.Time `gorm:"type:timestamp;default:null"`
	UsageLimit   int        `gorm:"default:0"` // 0 表示不限
	UsageCount   int        `gorm:"default:0"`
	PlanID       string     `gorm:"type:varchar(36)"` // 非空时仅适用于该计划
	Active       bool       `gorm:"default:true"`
	CreatedAt    time.Time  `gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Promotion) TableName() string {
	return "promotion"
}

// IsValid 判断促销码当前是否可用（计划限制由调用方校验）
func (p *Promotion) IsValid(now time.Time) bool {
	if !p.Active {
		return false
	}
	if p.StartDate != nil && now.Before(*p.StartDate) {
		return false
	}
	if p.EndDate != nil && now.After(*p.EndDate) {
		return false
	}
	if p.UsageLimit > 0 && p.UsageCount >= p.UsageLimit {
		return false
	}
	return true
}

// Coupon 联盟推荐码表
// 与 Promotion 互斥：一个订单只能应用其中一种折扣来源
type Coupon struct {
	CouponID          string     `gorm:"primaryKey;type:varchar(36)"`
	Code              string     `gorm:"type:varchar(64);not null;uniqueIndex"`
	AffiliateID       string     `gorm:"type:varchar(36);not null;index"`
	DiscountPercent   float64    `gorm:"type:decimal(5,2);default:0.00"`
	CommissionPercent float64    `gorm:"type:decimal(5,2);default:0.00"`
	ValidFrom         *time.Time `gorm:"type:timestamp;default:null"`
	ValidUntil        *time.Time `gorm:"type:timestamp;default:null"`
	UsageLimit        int        `gorm:"default:0"`
	UsageCount        int        `gorm:"default:0"`
	Active            bool       `gorm:"default:true"`
	CreatedAt         time.Time  `gorm:"autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Coupon) TableName() string {
	return "coupon"
}

// IsValid 判断推荐码当前是否可用
func (c *Coupon) IsValid(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return false
	}
	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return false
	}
	return true
}

// Affiliate 联盟伙伴表
// Referrals 与 Conversions 是两个独立计数：
// 推荐码被使用记 referral，支付完成记 conversion，二者不可混同
type Affiliate struct {
	AffiliateID   string    `gorm:"primaryKey;type:varchar(36)"`
	Name          string    `gorm:"type:varchar(100);not null"`
	Email         string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	Referrals     int       `gorm:"default:0"`
	Conversions   int       `gorm:"default:0"`
	TotalEarnings float64   `gorm:"type:decimal(12,2);default:0.00"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Affiliate) TableName() string {
	return "affiliate"
}
