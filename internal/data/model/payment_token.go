package model

import "time"

// PaymentToken 支付令牌保险库表
// Token 是随机不透明串，与原始卡号无推导关系；
// EncryptedData 为 PBKDF2 派生密钥 + AES-GCM 加密后的原文，
// 明文仅保留末四位与卡品牌用于展示。CVV 永不入库
type PaymentToken struct {
	Token         string    `gorm:"primaryKey;type:varchar(64)"`
	TokenType     string    `gorm:"type:varchar(16);not null;default:'card'"`
	EncryptedData string    `gorm:"type:text;not null"` // base64(nonce || ciphertext)
	MaskedValue   string    `gorm:"type:varchar(32)"`   // 如 ****1111
	CardType      string    `gorm:"type:varchar(16)"`
	ExpiryMonth   int       `gorm:"default:0"`
	ExpiryYear    int       `gorm:"default:0"`
	Revoked       bool      `gorm:"default:false"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	ExpiresAt     time.Time `gorm:"not null;index"`
}

// TableName 指定表名
func (PaymentToken) TableName() string {
	return "payment_token"
}
