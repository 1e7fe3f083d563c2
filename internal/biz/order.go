package biz

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"payment-service/internal/constants"
	payErrors "payment-service/internal/errors"
	"payment-service/internal/metrics"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	pkgUtils "github.com/gaoyong06/go-pkg/utils"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Order 订单领域对象
type Order struct {
	OrderID         string
	OrderNumber     string
	UserID          string
	CustomerEmail   string
	CustomerName    string
	Subtotal        float64
	DiscountAmount  float64
	TaxAmount       float64
	TotalAmount     float64
	PromotionID     string
	ReferralCode    string
	Status          string
	PaymentStatus   string
	PaymentIntentID string
	Metadata        map[string]string
	Items           []OrderItem
	CreatedAt       time.Time
	PaidAt          *time.Time
}

// OrderItem 订单项领域对象
type OrderItem struct {
	OrderItemID string
	Name        string
	Description string
	UnitPrice   float64
	Quantity    int
	TotalPrice  float64
}

// Promotion 促销码领域对象
type Promotion struct {
	PromotionID  string
	Code         string
	DiscountType string
	Percentage   float64
	FixedAmount  float64
	PlanID       string
	Valid        bool
}

// Coupon 推荐码领域对象
type Coupon struct {
	CouponID          string
	Code              string
	AffiliateID       string
	DiscountPercent   float64
	CommissionPercent float64
	Valid             bool
}

// DiscountPreview 折扣预览（只读，不动任何计数器）
type DiscountPreview struct {
	Code           string  `json:"code"`
	DiscountType   string  `json:"discount_type"`
	DiscountAmount float64 `json:"discount_amount"`
	Subtotal       float64 `json:"subtotal"`
	TaxAmount      float64 `json:"tax_amount"`
	TotalAmount    float64 `json:"total_amount"`
}

// OrderRepo 订单数据层接口（定义在 biz 层）
type OrderRepo interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrderByID(ctx context.Context, orderID string) (*Order, error)
	GetOrderByIntentID(ctx context.Context, intentID string) (*Order, error)
	SetPaymentIntent(ctx context.Context, orderID, intentID string) error
	UpdateOrderMetadata(ctx context.Context, orderID string, metadata map[string]string) error
}

// PromotionRepo 促销/推荐数据层接口（定义在 biz 层）
type PromotionRepo interface {
	GetPromotionByCode(ctx context.Context, code string) (*Promotion, error)
	GetCouponByCode(ctx context.Context, code string) (*Coupon, error)
	// RecordReferral 推荐码被使用：usage_count+1、affiliate.referrals+1（下单时触发）
	RecordReferral(ctx context.Context, couponID string) error
	// RecordConversion 推荐成交：affiliate.conversions+1、total_earnings+=commission（支付成功时触发）
	RecordConversion(ctx context.Context, couponID string, commission float64) error
	IncrementPromotionUsage(ctx context.Context, promotionID string) error
}

// OrderUseCase 订单业务逻辑
type OrderUseCase struct {
	repo      OrderRepo
	promoRepo PromotionRepo
	provider  PaymentProvider
	conf      *PaymentConfig
	audit     *AuditUseCase
	log       *log.Helper
	metrics   *metrics.PaymentMetrics
}

// NewOrderUseCase 创建订单 UseCase
func NewOrderUseCase(
	repo OrderRepo,
	promoRepo PromotionRepo,
	provider PaymentProvider,
	conf *PaymentConfig,
	audit *AuditUseCase,
	logger log.Logger,
) *OrderUseCase {
	return &OrderUseCase{
		repo:      repo,
		promoRepo: promoRepo,
		provider:  provider,
		conf:      conf,
		audit:     audit,
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
	}
}

// CreateOrder 创建订单并向外部处理方申请支付意向
// 折扣来源互斥：促销码优先于推荐码；折扣永远以服务端计算为准，
// 客户端展示过的折扣金额不可信
func (uc *OrderUseCase) CreateOrder(ctx context.Context, data *CleanPaymentData, clientIP string) (*Order, *CreateIntentReply, error) {
	startTime := time.Now()

	if len(data.Items) == 0 {
		return nil, nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeOrderItemsEmpty)
	}
	if clientIP == "" {
		clientIP = pkgUtils.GetClientIP(ctx)
	}

	order := &Order{
		OrderID:       uuid.New().String(),
		OrderNumber:   newOrderNumber(),
		UserID:        data.UserID,
		CustomerEmail: data.CustomerEmail,
		CustomerName:  data.CustomerName,
		ReferralCode:  data.ReferralCode,
		Status:        constants.OrderStatusPending,
		PaymentStatus: constants.PaymentStatusPending,
		Metadata:      map[string]string{"client_ip": clientIP},
	}
	for _, item := range data.Items {
		order.Items = append(order.Items, OrderItem{
			OrderItemID: uuid.New().String(),
			Name:        item.Name,
			Description: item.Description,
			UnitPrice:   item.Price,
			Quantity:    item.Quantity,
			TotalPrice:  Round2(item.Price * float64(item.Quantity)),
		})
	}

	// 服务端折扣校验与计算
	var coupon *Coupon
	discount := 0.0
	subtotal := itemsSubtotal(order.Items)
	switch {
	case data.PromotionCode != "":
		promo, err := uc.promoRepo.GetPromotionByCode(ctx, data.PromotionCode)
		if err != nil {
			return nil, nil, err
		}
		if promo == nil || !promo.Valid {
			return nil, nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodePromotionInvalid)
		}
		discount = promotionDiscount(promo, subtotal)
		order.PromotionID = promo.PromotionID
	case data.ReferralCode != "":
		c, err := uc.promoRepo.GetCouponByCode(ctx, data.ReferralCode)
		if err != nil {
			return nil, nil, err
		}
		if c == nil || !c.Valid {
			return nil, nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeReferralInvalid)
		}
		discount = Round2(subtotal * c.DiscountPercent / 100)
		coupon = c
	}

	uc.recalcTotals(order, discount)

	if err := uc.repo.CreateOrder(ctx, order); err != nil {
		uc.log.Errorf("CreateOrder failed: %v", err)
		if uc.metrics != nil {
			uc.metrics.OrderTotal.WithLabelValues(constants.PaymentStatusFailed).Inc()
		}
		return nil, nil, pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodeOrderCreateFailed)
	}
	if uc.metrics != nil {
		uc.metrics.OrderCreateDuration.Observe(time.Since(startTime).Seconds())
		uc.metrics.OrderTotal.WithLabelValues(constants.OrderStatusPending).Inc()
		uc.metrics.OrderAmount.WithLabelValues(constants.OrderStatusPending).Add(order.TotalAmount)
	}

	// 推荐码使用计数（redeemed）在下单时记录；成交（conversion）要等支付成功
	if coupon != nil {
		if err := uc.promoRepo.RecordReferral(ctx, coupon.CouponID); err != nil {
			uc.log.Errorf("record referral failed: coupon=%s, error=%v", coupon.Code, err)
		}
	}
	if order.PromotionID != "" {
		if err := uc.promoRepo.IncrementPromotionUsage(ctx, order.PromotionID); err != nil {
			uc.log.Errorf("increment promotion usage failed: %v", err)
		}
	}

	// 创建支付意向，金额以分计，元数据携带订单号用于回调对账
	if uc.provider == nil {
		return nil, nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeProviderUnavailable)
	}
	intent, err := uc.provider.CreateIntent(ctx, &CreateIntentRequest{
		AmountCents: int64(order.TotalAmount*100 + 0.5),
		Currency:    uc.conf.Currency,
		Description: fmt.Sprintf("Order %s", order.OrderNumber),
		Metadata: map[string]string{
			"order_id":       order.OrderID,
			"order_number":   order.OrderNumber,
			"customer_email": order.CustomerEmail,
		},
	})
	if err != nil {
		uc.log.Errorf("CreateIntent failed: order_id=%s, error=%v", order.OrderID, err)
		return nil, nil, pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodeIntentCreateFailed)
	}
	order.PaymentIntentID = intent.IntentID
	if err := uc.repo.SetPaymentIntent(ctx, order.OrderID, intent.IntentID); err != nil {
		return nil, nil, pkgErrors.WrapErrorWithLang(ctx, err, payErrors.ErrCodeOrderUpdateFailed)
	}

	uc.audit.Record(ctx, constants.AuditEventOrderCreated, constants.AuditOutcomeSuccess, map[string]interface{}{
		"order_number":   order.OrderNumber,
		"customer_email": order.CustomerEmail,
		"total_amount":   order.TotalAmount,
		"client_ip":      clientIP,
	})
	uc.log.Infof("Order created: order_number=%s, total=%.2f, intent=%s", order.OrderNumber, order.TotalAmount, intent.IntentID)
	return order, intent, nil
}

// RecordFraudCheckError 风控自身故障写入订单元数据
// 风控故障不阻断下单，但必须留痕供人工复核
func (uc *OrderUseCase) RecordFraudCheckError(ctx context.Context, orderID, checkError string) {
	if checkError == "" {
		return
	}
	if err := uc.repo.UpdateOrderMetadata(ctx, orderID, map[string]string{"fraud_check_error": checkError}); err != nil {
		uc.log.Warnf("record fraud check error failed: order_id=%s, error=%v", orderID, err)
	}
}

// ValidatePromotion 促销码只读预览：返回折扣拆解，不动计数器
func (uc *OrderUseCase) ValidatePromotion(ctx context.Context, code string, subtotal float64) (*DiscountPreview, error) {
	promo, err := uc.promoRepo.GetPromotionByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if promo == nil {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodePromotionNotFound)
	}
	if !promo.Valid {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodePromotionInvalid)
	}
	discount := promotionDiscount(promo, subtotal)
	return uc.preview(code, promo.DiscountType, subtotal, discount), nil
}

// ValidateReferral 推荐码只读预览
func (uc *OrderUseCase) ValidateReferral(ctx context.Context, code string, subtotal float64) (*DiscountPreview, error) {
	coupon, err := uc.promoRepo.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeReferralNotFound)
	}
	if !coupon.Valid {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, payErrors.ErrCodeReferralInvalid)
	}
	discount := Round2(subtotal * coupon.DiscountPercent / 100)
	return uc.preview(code, constants.DiscountTypePercentage, subtotal, discount), nil
}

func (uc *OrderUseCase) preview(code, discountType string, subtotal, discount float64) *DiscountPreview {
	taxed := Round2((subtotal - discount) * uc.conf.TaxRate)
	return &DiscountPreview{
		Code:           code,
		DiscountType:   discountType,
		DiscountAmount: discount,
		Subtotal:       Round2(subtotal),
		TaxAmount:      taxed,
		TotalAmount:    Round2(subtotal - discount + taxed),
	}
}

// recalcTotals 重算订单金额
// 不变量：total = subtotal - discount + tax；税基为折后小计
func (uc *OrderUseCase) recalcTotals(order *Order, discount float64) {
	order.Subtotal = itemsSubtotal(order.Items)
	if discount > order.Subtotal {
		discount = order.Subtotal
	}
	order.DiscountAmount = Round2(discount)
	order.TaxAmount = Round2((order.Subtotal - order.DiscountAmount) * uc.conf.TaxRate)
	order.TotalAmount = Round2(order.Subtotal - order.DiscountAmount + order.TaxAmount)
}

func itemsSubtotal(items []OrderItem) float64 {
	subtotal := 0.0
	for _, item := range items {
		subtotal += item.TotalPrice
	}
	return Round2(subtotal)
}

// promotionDiscount 按促销类型计算折扣额
func promotionDiscount(promo *Promotion, subtotal float64) float64 {
	switch promo.DiscountType {
	case constants.DiscountTypeFixed:
		if promo.FixedAmount > subtotal {
			return Round2(subtotal)
		}
		return Round2(promo.FixedAmount)
	default:
		return Round2(subtotal * promo.Percentage / 100)
	}
}

// newOrderNumber 生成订单号：ord_<unix>_<8位随机>
func newOrderNumber() string {
	id := uuid.New()
	return fmt.Sprintf("%s%d_%s", constants.OrderNumberPrefix, time.Now().Unix(), hex.EncodeToString(id[:4]))
}
