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

// subscriptionRepo 用户/订阅相关数据访问
type subscriptionRepo struct {
	data *Data
	log  *log.Helper
}

// NewSubscriptionRepo 创建订阅 repo（返回 biz.SubscriptionRepo 接口）
func NewSubscriptionRepo(data *Data, logger log.Logger) biz.SubscriptionRepo {
	return &subscriptionRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetUserByID 通过用户ID查询用户
func (r *subscriptionRepo) GetUserByID(ctx context.Context, userID string) (*biz.User, error) {
	var m model.User
	if err := r.data.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return userToBiz(&m), nil
}

// GetUserByEmail 通过邮箱查询用户
func (r *subscriptionRepo) GetUserByEmail(ctx context.Context, email string) (*biz.User, error) {
	var m model.User
	if err := r.data.db.WithContext(ctx).Where("email = ?", email).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return userToBiz(&m), nil
}

// FindUserByFuzzyName 姓名模糊匹配，仅命中唯一一条时返回
// 多条命中说明无法安全归属，返回空交由上层按未解析处理
func (r *subscriptionRepo) FindUserByFuzzyName(ctx context.Context, name string) (*biz.User, error) {
	var ms []model.User
	if err := r.data.db.WithContext(ctx).
		Where("name LIKE ?", "%"+name+"%").
		Limit(2).
		Find(&ms).Error; err != nil {
		return nil, err
	}
	if len(ms) != 1 {
		return nil, nil
	}
	return userToBiz(&ms[0]), nil
}

// GetPlanByID 通过计划ID查询订阅计划
func (r *subscriptionRepo) GetPlanByID(ctx context.Context, planID string) (*biz.SubscriptionPlan, error) {
	var m model.SubscriptionPlan
	if err := r.data.db.WithContext(ctx).Where("plan_id = ? AND active = ?", planID, true).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return planToBiz(&m), nil
}

// GetPlanByName 通过计划名查询订阅计划
func (r *subscriptionRepo) GetPlanByName(ctx context.Context, name string) (*biz.SubscriptionPlan, error) {
	var m model.SubscriptionPlan
	if err := r.data.db.WithContext(ctx).Where("name = ? AND active = ?", name, true).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return planToBiz(&m), nil
}

// GetActiveSubscription 查询用户当前生效的订阅
func (r *subscriptionRepo) GetActiveSubscription(ctx context.Context, userID string) (*biz.UserSubscription, error) {
	var m model.UserSubscription
	if err := r.data.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, "active").
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	sub := &biz.UserSubscription{
		SubscriptionID: m.SubscriptionID,
		UserID:         m.UserID,
		PlanID:         m.PlanID,
		OrderID:        m.OrderID,
		Status:         m.Status,
		StartedAt:      m.StartedAt,
	}
	if m.ExpiresAt != nil {
		sub.ExpiresAt = *m.ExpiresAt
	}
	return sub, nil
}

// CreateSubscription 创建订阅并激活用户
func (r *subscriptionRepo) CreateSubscription(ctx context.Context, sub *biz.UserSubscription) error {
	expiresAt := sub.ExpiresAt
	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model.UserSubscription{
			SubscriptionID: sub.SubscriptionID,
			UserID:         sub.UserID,
			PlanID:         sub.PlanID,
			OrderID:        sub.OrderID,
			Status:         sub.Status,
			StartedAt:      sub.StartedAt,
			ExpiresAt:      &expiresAt,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&model.User{}).
			Where("user_id = ?", sub.UserID).
			Update("active", true).Error
	})
}

// ExtendSubscription 顺延订阅到期时间（同计划续费）
func (r *subscriptionRepo) ExtendSubscription(ctx context.Context, subscriptionID string, newExpiry time.Time) error {
	return r.data.db.WithContext(ctx).Model(&model.UserSubscription{}).
		Where("subscription_id = ?", subscriptionID).
		Update("expires_at", newExpiry).Error
}

func userToBiz(m *model.User) *biz.User {
	return &biz.User{
		UserID: m.UserID,
		Email:  m.Email,
		Name:   m.Name,
	}
}

func planToBiz(m *model.SubscriptionPlan) *biz.SubscriptionPlan {
	return &biz.SubscriptionPlan{
		PlanID:       m.PlanID,
		Name:         m.Name,
		DurationDays: m.DurationDays,
	}
}
