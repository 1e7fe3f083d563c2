package data

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"payment-service/internal/biz"
	"payment-service/internal/constants"
	"payment-service/internal/data/model"
	payErrors "payment-service/internal/errors"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// orderRepo 订单相关数据访问
type orderRepo struct {
	data *Data
	log  *log.Helper
}

// NewOrderRepo 创建订单 repo（返回 biz.OrderRepo 接口）
func NewOrderRepo(data *Data, logger log.Logger) biz.OrderRepo {
	return &orderRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// CreateOrder 事务内创建订单与订单项
func (r *orderRepo) CreateOrder(ctx context.Context, order *biz.Order) error {
	m := orderToModel(order)
	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return nil
	})
}

// GetOrderByID 通过订单ID查询订单（含订单项）
func (r *orderRepo) GetOrderByID(ctx context.Context, orderID string) (*biz.Order, error) {
	var m model.Order
	if err := r.data.db.WithContext(ctx).Preload("Items").
		Where("order_id = ?", orderID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return orderToBiz(&m), nil
}

// GetOrderByIntentID 通过支付意向ID查询订单
// 意向ID到订单ID的映射走 Redis 旁路缓存：回调高频且映射不可变
func (r *orderRepo) GetOrderByIntentID(ctx context.Context, intentID string) (*biz.Order, error) {
	cacheKey := constants.RedisKeyOrderIntent + intentID
	if orderID, err := r.data.rdb.Get(ctx, cacheKey).Result(); err == nil && orderID != "" {
		return r.GetOrderByID(ctx, orderID)
	}

	var m model.Order
	if err := r.data.db.WithContext(ctx).Preload("Items").
		Where("payment_intent_id = ?", intentID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if err := r.data.rdb.Set(ctx, cacheKey, m.OrderID, 24*time.Hour).Err(); err != nil {
		r.log.Warnf("cache intent mapping failed: %v", err)
	}
	return orderToBiz(&m), nil
}

// SetPaymentIntent 绑定支付意向ID并预热缓存
func (r *orderRepo) SetPaymentIntent(ctx context.Context, orderID, intentID string) error {
	err := r.data.db.WithContext(ctx).Model(&model.Order{}).
		Where("order_id = ?", orderID).
		Update("payment_intent_id", intentID).Error
	if err != nil {
		return pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodeOrderUpdateFailed)
	}
	if err := r.data.rdb.Set(ctx, constants.RedisKeyOrderIntent+intentID, orderID, 24*time.Hour).Err(); err != nil {
		r.log.Warnf("cache intent mapping failed: %v", err)
	}
	return nil
}

// UpdateOrderMetadata 合并更新订单元数据
func (r *orderRepo) UpdateOrderMetadata(ctx context.Context, orderID string, metadata map[string]string) error {
	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.Order
		if err := tx.Where("order_id = ?", orderID).First(&m).Error; err != nil {
			return err
		}
		merged := map[string]string{}
		if m.Metadata != "" {
			if err := json.Unmarshal([]byte(m.Metadata), &merged); err != nil {
				r.log.Warnf("order metadata corrupt, overwriting: order_id=%s", orderID)
			}
		}
		for k, v := range metadata {
			merged[k] = v
		}
		raw, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		return tx.Model(&m).Update("metadata", string(raw)).Error
	})
}

// orderToModel biz.Order -> model.Order
func orderToModel(o *biz.Order) *model.Order {
	m := &model.Order{
		OrderID:         o.OrderID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		CustomerEmail:   o.CustomerEmail,
		CustomerName:    o.CustomerName,
		Subtotal:        o.Subtotal,
		DiscountAmount:  o.DiscountAmount,
		TaxAmount:       o.TaxAmount,
		TotalAmount:     o.TotalAmount,
		PromotionID:     o.PromotionID,
		ReferralCode:    o.ReferralCode,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		PaymentIntentID: o.PaymentIntentID,
		PaidAt:          o.PaidAt,
	}
	if len(o.Metadata) > 0 {
		if raw, err := json.Marshal(o.Metadata); err == nil {
			m.Metadata = string(raw)
		}
	}
	for _, item := range o.Items {
		m.Items = append(m.Items, model.OrderItem{
			OrderItemID: item.OrderItemID,
			OrderID:     o.OrderID,
			Name:        item.Name,
			Description: item.Description,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			TotalPrice:  item.TotalPrice,
		})
	}
	return m
}

// orderToBiz model.Order -> biz.Order
func orderToBiz(m *model.Order) *biz.Order {
	o := &biz.Order{
		OrderID:         m.OrderID,
		OrderNumber:     m.OrderNumber,
		UserID:          m.UserID,
		CustomerEmail:   m.CustomerEmail,
		CustomerName:    m.CustomerName,
		Subtotal:        m.Subtotal,
		DiscountAmount:  m.DiscountAmount,
		TaxAmount:       m.TaxAmount,
		TotalAmount:     m.TotalAmount,
		PromotionID:     m.PromotionID,
		ReferralCode:    m.ReferralCode,
		Status:          m.Status,
		PaymentStatus:   m.PaymentStatus,
		PaymentIntentID: m.PaymentIntentID,
		CreatedAt:       m.CreatedAt,
		PaidAt:          m.PaidAt,
	}
	if m.Metadata != "" {
		meta := map[string]string{}
		if err := json.Unmarshal([]byte(m.Metadata), &meta); err == nil {
			o.Metadata = meta
		}
	}
	for _, item := range m.Items {
		o.Items = append(o.Items, biz.OrderItem{
			OrderItemID: item.OrderItemID,
			Name:        item.Name,
			Description: item.Description,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			TotalPrice:  item.TotalPrice,
		})
	}
	return o
}
