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

// promotionRepo 促销/推荐相关数据访问
type promotionRepo struct {
	data *Data
	log  *log.Helper
}

// NewPromotionRepo 创建促销 repo（返回 biz.PromotionRepo 接口）
func NewPromotionRepo(data *Data, logger log.Logger) biz.PromotionRepo {
	return &promotionRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetPromotionByCode 通过促销码查询（Valid 在此处结算，调用方不必重复判定）
func (r *promotionRepo) GetPromotionByCode(ctx context.Context, code string) (*biz.Promotion, error) {
	var m model.Promotion
	if err := r.data.db.WithContext(ctx).Where("code = ?", code).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &biz.Promotion{
		PromotionID:  m.PromotionID,
		Code:         m.Code,
		DiscountType: m.DiscountType,
		Percentage:   m.Percentage,
		FixedAmount:  m.FixedAmount,
		PlanID:       m.PlanID,
		Valid:        m.IsValid(time.Now()),
	}, nil
}

// GetCouponByCode 通过推荐码查询
func (r *promotionRepo) GetCouponByCode(ctx context.Context, code string) (*biz.Coupon, error) {
	var m model.Coupon
	if err := r.data.db.WithContext(ctx).Where("code = ?", code).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &biz.Coupon{
		CouponID:          m.CouponID,
		Code:              m.Code,
		AffiliateID:       m.AffiliateID,
		DiscountPercent:   m.DiscountPercent,
		CommissionPercent: m.CommissionPercent,
		Valid:             m.IsValid(time.Now()),
	}, nil
}

// RecordReferral 推荐码使用计数（下单时）
// referral 与 conversion 是两条独立计数，不可混同
func (r *promotionRepo) RecordReferral(ctx context.Context, couponID string) error {
	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var coupon model.Coupon
		if err := tx.Where("coupon_id = ?", couponID).First(&coupon).Error; err != nil {
			return err
		}
		if err := tx.Model(&coupon).
			Update("usage_count", gorm.Expr("usage_count + 1")).Error; err != nil {
			return err
		}
		return tx.Model(&model.Affiliate{}).
			Where("affiliate_id = ?", coupon.AffiliateID).
			Update("referrals", gorm.Expr("referrals + 1")).Error
	})
}

// RecordConversion 推荐成交计佣（支付成功时）
func (r *promotionRepo) RecordConversion(ctx context.Context, couponID string, commission float64) error {
	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var coupon model.Coupon
		if err := tx.Where("coupon_id = ?", couponID).First(&coupon).Error; err != nil {
			return err
		}
		return tx.Model(&model.Affiliate{}).
			Where("affiliate_id = ?", coupon.AffiliateID).
			Updates(map[string]interface{}{
				"conversions":    gorm.Expr("conversions + 1"),
				"total_earnings": gorm.Expr("total_earnings + ?", commission),
			}).Error
	})
}

// IncrementPromotionUsage 促销码使用计数
func (r *promotionRepo) IncrementPromotionUsage(ctx context.Context, promotionID string) error {
	return r.data.db.WithContext(ctx).Model(&model.Promotion{}).
		Where("promotion_id = ?", promotionID).
		Update("usage_count", gorm.Expr("usage_count + 1")).Error
}
