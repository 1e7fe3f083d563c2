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
	"payment-service/internal/metrics"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// paymentRepo 支付流水相关数据访问
type paymentRepo struct {
	data *Data
	log  *log.Helper
}

// NewPaymentRepo 创建支付流水 repo（返回 biz.PaymentRepo 接口）
func NewPaymentRepo(data *Data, logger log.Logger) biz.PaymentRepo {
	return &paymentRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// MarkOrderPaidWithPayment 带幂等性保证的支付落账
// 分布式锁挡住跨实例的并发回调，事务内行锁 + 状态检查兜底：
// 已支付订单直接返回 changed=false，保证一笔意向只产生一条成功流水
func (r *paymentRepo) MarkOrderPaidWithPayment(ctx context.Context, orderID string, payment *biz.Payment) (bool, error) {
	mutex := r.data.rs.NewMutex(
		constants.RedisKeyPaymentSuccessLock+orderID,
		redsync.WithExpiry(10*time.Second),
		redsync.WithTries(3),
	)
	lockStart := time.Now()
	if err := mutex.LockContext(ctx); err != nil {
		if m := metrics.GetMetrics(); m != nil {
			m.LockAcquireTotal.WithLabelValues("failed").Inc()
		}
		return false, err
	}
	if m := metrics.GetMetrics(); m != nil {
		m.LockAcquireTotal.WithLabelValues("success").Inc()
		m.LockAcquireDuration.Observe(time.Since(lockStart).Seconds())
	}
	defer func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			r.log.Warnf("unlock payment success mutex failed: order_id=%s, error=%v", orderID, err)
		}
	}()

	changed := false
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 锁定订单行
		var order model.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", orderID).
			First(&order).Error; err != nil {
			return pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodeOrderNotFound)
		}

		// 2. 检查订单状态（幂等性）
		if order.Status == model.OrderStatusPaid {
			r.log.Infof("Payment already processed: order_id=%s", orderID)
			return nil
		}

		// 3. 订单置已支付
		now := time.Now()
		if err := tx.Model(&order).Updates(map[string]interface{}{
			"status":         model.OrderStatusPaid,
			"payment_status": constants.PaymentStatusPaid,
			"paid_at":        now,
		}).Error; err != nil {
			return pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodeOrderUpdateFailed)
		}

		// 4. 写支付流水
		if err := tx.Create(paymentToModel(payment)).Error; err != nil {
			return pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodePaymentRecordFailed)
		}
		changed = true
		return nil
	})
	return changed, err
}

// MarkOrderPaymentFailed 标记支付失败并记录失败流水
// 订单保持 pending 允许用户重试，payment_status 记录最近一次结果
func (r *paymentRepo) MarkOrderPaymentFailed(ctx context.Context, orderID, reason string) error {
	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", orderID).
			First(&order).Error; err != nil {
			return err
		}
		if order.Status == model.OrderStatusPaid {
			// 迟到的失败通知不覆盖已成功的订单
			r.log.Warnf("late failure notification for paid order ignored: order_id=%s", orderID)
			return nil
		}

		meta := map[string]string{}
		if order.Metadata != "" {
			if err := json.Unmarshal([]byte(order.Metadata), &meta); err != nil {
				r.log.Warnf("order metadata corrupt: order_id=%s", orderID)
			}
		}
		meta["last_failure_reason"] = reason
		raw, _ := json.Marshal(meta)

		return tx.Model(&order).Updates(map[string]interface{}{
			"payment_status": constants.PaymentStatusFailed,
			"metadata":       string(raw),
		}).Error
	})
}

// CreateRefund 事务内写负金额退款流水并置订单已退款
func (r *paymentRepo) CreateRefund(ctx context.Context, orderID string, refund *biz.Payment) error {
	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", orderID).
			First(&order).Error; err != nil {
			return err
		}
		if order.Status != model.OrderStatusPaid {
			return pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeOrderNotRefundable)
		}
		if err := tx.Create(paymentToModel(refund)).Error; err != nil {
			return err
		}
		return tx.Model(&order).Update("status", model.OrderStatusRefunded).Error
	})
}

// ListPaymentsByOrder 查询订单下全部流水（含退款负金额行）
func (r *paymentRepo) ListPaymentsByOrder(ctx context.Context, orderID string) ([]*biz.Payment, error) {
	var ms []model.Payment
	if err := r.data.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&ms).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	payments := make([]*biz.Payment, 0, len(ms))
	for i := range ms {
		payments = append(payments, paymentToBiz(&ms[i]))
	}
	return payments, nil
}

// paymentToModel biz.Payment -> model.Payment
func paymentToModel(p *biz.Payment) *model.Payment {
	m := &model.Payment{
		PaymentID:         p.PaymentID,
		OrderID:           p.OrderID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Provider:          p.Provider,
		ProviderPaymentID: p.ProviderPaymentID,
		Status:            p.Status,
		FailureReason:     p.FailureReason,
		ProcessedAt:       p.ProcessedAt,
	}
	if len(p.Metadata) > 0 {
		if raw, err := json.Marshal(p.Metadata); err == nil {
			m.Metadata = string(raw)
		}
	}
	return m
}

// paymentToBiz model.Payment -> biz.Payment
func paymentToBiz(m *model.Payment) *biz.Payment {
	p := &biz.Payment{
		PaymentID:         m.PaymentID,
		OrderID:           m.OrderID,
		Amount:            m.Amount,
		Currency:          m.Currency,
		Provider:          m.Provider,
		ProviderPaymentID: m.ProviderPaymentID,
		Status:            m.Status,
		FailureReason:     m.FailureReason,
		ProcessedAt:       m.ProcessedAt,
		CreatedAt:         m.CreatedAt,
	}
	if m.Metadata != "" {
		meta := map[string]string{}
		if err := json.Unmarshal([]byte(m.Metadata), &meta); err == nil {
			p.Metadata = meta
		}
	}
	return p
}
