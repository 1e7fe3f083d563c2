package data

import (
	"context"
	"errors"
	"time"

	"payment-service/internal/biz"
	"payment-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// tokenVaultRepo 支付令牌保险库数据访问
type tokenVaultRepo struct {
	data *Data
	log  *log.Helper
}

// NewTokenVaultRepo 创建保险库 repo（返回 biz.TokenVaultRepo 接口）
func NewTokenVaultRepo(data *Data, logger log.Logger) biz.TokenVaultRepo {
	return &tokenVaultRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// SaveToken 保存令牌条目
func (r *tokenVaultRepo) SaveToken(ctx context.Context, rec *biz.PaymentTokenRecord) error {
	return r.data.db.WithContext(ctx).Create(&model.PaymentToken{
		Token:         rec.Token,
		TokenType:     rec.TokenType,
		EncryptedData: rec.EncryptedData,
		MaskedValue:   rec.MaskedValue,
		CardType:      rec.CardType,
		ExpiryMonth:   rec.ExpiryMonth,
		ExpiryYear:    rec.ExpiryYear,
		Revoked:       rec.Revoked,
		ExpiresAt:     rec.ExpiresAt,
	}).Error
}

// GetToken 查询令牌条目
func (r *tokenVaultRepo) GetToken(ctx context.Context, token string) (*biz.PaymentTokenRecord, error) {
	var m model.PaymentToken
	if err := r.data.db.WithContext(ctx).Where("token = ?", token).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &biz.PaymentTokenRecord{
		Token:         m.Token,
		TokenType:     m.TokenType,
		EncryptedData: m.EncryptedData,
		MaskedValue:   m.MaskedValue,
		CardType:      m.CardType,
		ExpiryMonth:   m.ExpiryMonth,
		ExpiryYear:    m.ExpiryYear,
		Revoked:       m.Revoked,
		CreatedAt:     m.CreatedAt,
		ExpiresAt:     m.ExpiresAt,
	}, nil
}

// RevokeToken 吊销令牌
func (r *tokenVaultRepo) RevokeToken(ctx context.Context, token string) error {
	return r.data.db.WithContext(ctx).Model(&model.PaymentToken{}).
		Where("token = ?", token).
		Update("revoked", true).Error
}

// DeleteExpired 删除过期令牌（定时清理）
func (r *tokenVaultRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.data.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&model.PaymentToken{})
	return result.RowsAffected, result.Error
}
